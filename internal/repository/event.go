package repository

import (
	"context"
	"fmt"

	"onehunt_rewards/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

func (t *ledgerTx) AppendEvent(ctx context.Context, event *model.RewardEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}

	query, args, err := squirrel.
		Insert("reward_events").
		SetMap(map[string]interface{}{
			"event_id":           event.EventID,
			"user_telegram_id":   event.UserID,
			"type":               string(event.Type),
			"amount":             event.Amount,
			"xp":                 event.XP,
			"description":        event.Description,
			"related_task":       event.RelatedTask,
			"related_referral":   event.RelatedReferral,
			"related_withdrawal": event.RelatedWithdrawal,
			"created_at":         event.CreatedAt,
		}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build event insert query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classifyError(err)
	}
	return nil
}

// FindBalanceDrift lists users whose cached balance no longer matches the sum
// of their reward events.
func (r *Repository) FindBalanceDrift(ctx context.Context) ([]model.BalanceDrift, error) {
	query, args, err := squirrel.
		Select("u.telegram_id", "u.balance", "COALESCE(SUM(e.amount), 0) AS ledger_balance").
		From("users u").
		LeftJoin("reward_events e ON e.user_telegram_id = u.telegram_id").
		GroupBy("u.telegram_id", "u.balance").
		Having("u.balance <> COALESCE(SUM(e.amount), 0)").
		OrderBy("u.telegram_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build drift query: %w", err)
	}

	var rows []struct {
		TelegramID    int64 `db:"telegram_id"`
		Balance       int64 `db:"balance"`
		LedgerBalance int64 `db:"ledger_balance"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query balance drift: %w", err)
	}

	drift := make([]model.BalanceDrift, len(rows))
	for i, row := range rows {
		drift[i] = model.BalanceDrift{
			TelegramID:    row.TelegramID,
			Balance:       row.Balance,
			LedgerBalance: row.LedgerBalance,
		}
	}
	return drift, nil
}
