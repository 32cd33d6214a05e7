package repository

import (
	"context"
	"fmt"

	"onehunt_rewards/pkg/logger"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		telegram_id         BIGINT PRIMARY KEY,
		username            TEXT NOT NULL DEFAULT '',
		first_name          TEXT NOT NULL DEFAULT '',
		last_name           TEXT NOT NULL DEFAULT '',
		referral_code       TEXT NOT NULL UNIQUE,
		balance             BIGINT NOT NULL DEFAULT 0,
		total_earned        BIGINT NOT NULL DEFAULT 0,
		total_withdrawn     BIGINT NOT NULL DEFAULT 0,
		level               INTEGER NOT NULL DEFAULT 1,
		xp                  INTEGER NOT NULL DEFAULT 0,
		streak              INTEGER NOT NULL DEFAULT 0,
		last_login_date     TIMESTAMPTZ,
		referred_by         BIGINT REFERENCES users (telegram_id),
		direct_referrals    BIGINT[] NOT NULL DEFAULT '{}',
		indirect_referrals  BIGINT[] NOT NULL DEFAULT '{}',
		tasks_completed     INTEGER NOT NULL DEFAULT 0,
		last_daily_reward   TIMESTAMPTZ,
		daily_reward_streak INTEGER NOT NULL DEFAULT 0,
		is_banned           BOOLEAN NOT NULL DEFAULT FALSE,
		is_active           BOOLEAN NOT NULL DEFAULT TRUE,
		registration_date   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS achievements (
		achievement_id  UUID PRIMARY KEY,
		name            TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		condition_type  TEXT NOT NULL,
		condition_value BIGINT NOT NULL,
		reward_coins    BIGINT NOT NULL DEFAULT 0,
		reward_xp       INTEGER NOT NULL DEFAULT 0,
		is_active       BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS user_achievements (
		user_telegram_id BIGINT NOT NULL REFERENCES users (telegram_id),
		achievement_id   UUID NOT NULL REFERENCES achievements (achievement_id),
		unlocked_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_telegram_id, achievement_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		task_id                 UUID PRIMARY KEY,
		title                   TEXT NOT NULL,
		description             TEXT NOT NULL DEFAULT '',
		type                    TEXT NOT NULL,
		reward_coins            BIGINT NOT NULL DEFAULT 0,
		reward_xp               INTEGER NOT NULL DEFAULT 0,
		requirement             JSONB NOT NULL DEFAULT '{}',
		max_completions         INTEGER NOT NULL DEFAULT 1,
		total_completions_limit INTEGER,
		current_completions     INTEGER NOT NULL DEFAULT 0,
		is_active               BOOLEAN NOT NULL DEFAULT TRUE,
		start_date              TIMESTAMPTZ,
		end_date                TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS task_completions (
		completion_id    UUID PRIMARY KEY,
		user_telegram_id BIGINT NOT NULL REFERENCES users (telegram_id),
		task_id          UUID NOT NULL REFERENCES tasks (task_id),
		status           TEXT NOT NULL,
		proof            TEXT NOT NULL DEFAULT '',
		reward_coins     BIGINT,
		reward_xp        INTEGER,
		verified_by      BIGINT,
		verified_at      TIMESTAMPTZ,
		notes            TEXT NOT NULL DEFAULT '',
		completed_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS task_completions_user_task_idx
		ON task_completions (user_telegram_id, task_id)`,
	`CREATE TABLE IF NOT EXISTS reward_events (
		event_id         UUID PRIMARY KEY,
		user_telegram_id BIGINT NOT NULL REFERENCES users (telegram_id),
		type             TEXT NOT NULL,
		amount           BIGINT NOT NULL,
		xp               INTEGER NOT NULL DEFAULT 0,
		description      TEXT NOT NULL DEFAULT '',
		related_task     UUID,
		related_referral BIGINT,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS reward_events_user_idx
		ON reward_events (user_telegram_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		withdrawal_id    UUID PRIMARY KEY,
		user_telegram_id BIGINT NOT NULL REFERENCES users (telegram_id),
		amount           BIGINT NOT NULL CHECK (amount > 0),
		fee              BIGINT NOT NULL DEFAULT 0,
		method           TEXT NOT NULL DEFAULT '',
		wallet_address   TEXT NOT NULL,
		status           TEXT NOT NULL,
		transaction_hash TEXT NOT NULL DEFAULT '',
		admin_notes      TEXT NOT NULL DEFAULT '',
		processed_by     BIGINT,
		processed_at     TIMESTAMPTZ,
		created_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS withdrawals_user_idx
		ON withdrawals (user_telegram_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS withdrawals_status_idx ON withdrawals (status)`,
	`ALTER TABLE reward_events ADD COLUMN IF NOT EXISTS related_withdrawal UUID`,
}

// Migrate creates the schema. Every statement is idempotent.
func (r *Repository) Migrate(ctx context.Context) error {
	err := r.Transaction(ctx, func(tx *sqlx.Tx) error {
		for i, stmt := range migrations {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply migration %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Logger().Info("Database schema is up to date", zap.Int("statements", len(migrations)))
	return nil
}
