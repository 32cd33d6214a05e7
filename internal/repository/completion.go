package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

type taskCompletion struct {
	CompletionID uuid.UUID  `db:"completion_id"`
	UserID       int64      `db:"user_telegram_id"`
	TaskID       uuid.UUID  `db:"task_id"`
	Status       string     `db:"status"`
	Proof        string     `db:"proof"`
	RewardCoins  *int64     `db:"reward_coins"`
	RewardXP     *int       `db:"reward_xp"`
	VerifiedBy   *int64     `db:"verified_by"`
	VerifiedAt   *time.Time `db:"verified_at"`
	Notes        string     `db:"notes"`
	CompletedAt  time.Time  `db:"completed_at"`
}

func (c *taskCompletion) toModel() *model.TaskCompletion {
	out := &model.TaskCompletion{
		CompletionID: c.CompletionID,
		UserID:       c.UserID,
		TaskID:       c.TaskID,
		Status:       model.CompletionStatus(c.Status),
		Proof:        c.Proof,
		VerifiedBy:   c.VerifiedBy,
		VerifiedAt:   c.VerifiedAt,
		Notes:        c.Notes,
		CompletedAt:  c.CompletedAt,
	}
	if c.RewardCoins != nil {
		out.RewardGiven = &model.Reward{Coins: *c.RewardCoins}
		if c.RewardXP != nil {
			out.RewardGiven.XP = *c.RewardXP
		}
	}
	return out
}

func completionReward(c *model.TaskCompletion) (*int64, *int) {
	if c.RewardGiven == nil {
		return nil, nil
	}
	coins, xp := c.RewardGiven.Coins, c.RewardGiven.XP
	return &coins, &xp
}

func (t *ledgerTx) CountCompletions(ctx context.Context, telegramID int64, taskID uuid.UUID, statuses ...model.CompletionStatus) (int, error) {
	where := squirrel.And{
		squirrel.Eq{"user_telegram_id": telegramID},
		squirrel.Eq{"task_id": taskID},
	}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		where = append(where, squirrel.Eq{"status": names})
	}

	query, args, err := squirrel.
		Select("COUNT(*)").
		From("task_completions").
		Where(where).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build completion count query: %w", err)
	}

	var n int
	if err := t.tx.GetContext(ctx, &n, query, args...); err != nil {
		return 0, classifyError(err)
	}
	return n, nil
}

func (t *ledgerTx) CreateCompletion(ctx context.Context, completion *model.TaskCompletion) error {
	if completion.CompletionID == uuid.Nil {
		completion.CompletionID = uuid.New()
	}
	coins, xp := completionReward(completion)

	query, args, err := squirrel.
		Insert("task_completions").
		SetMap(map[string]interface{}{
			"completion_id":    completion.CompletionID,
			"user_telegram_id": completion.UserID,
			"task_id":          completion.TaskID,
			"status":           string(completion.Status),
			"proof":            completion.Proof,
			"reward_coins":     coins,
			"reward_xp":        xp,
			"verified_by":      completion.VerifiedBy,
			"verified_at":      completion.VerifiedAt,
			"notes":            completion.Notes,
			"completed_at":     completion.CompletedAt,
		}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build completion insert query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classifyError(err)
	}
	return nil
}

func (t *ledgerTx) GetCompletion(ctx context.Context, completionID uuid.UUID) (*model.TaskCompletion, error) {
	query, args, err := squirrel.
		Select(
			"completion_id", "user_telegram_id", "task_id", "status", "proof",
			"reward_coins", "reward_xp", "verified_by", "verified_at", "notes", "completed_at",
		).
		From("task_completions").
		Where(squirrel.Eq{"completion_id": completionID}).
		Suffix("FOR UPDATE").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build completion select query: %w", err)
	}

	var row taskCompletion
	if err := t.tx.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, classifyError(err)
	}
	return row.toModel(), nil
}

func (t *ledgerTx) UpdateCompletion(ctx context.Context, completion *model.TaskCompletion) error {
	coins, xp := completionReward(completion)

	query, args, err := squirrel.
		Update("task_completions").
		SetMap(map[string]interface{}{
			"status":       string(completion.Status),
			"reward_coins": coins,
			"reward_xp":    xp,
			"verified_by":  completion.VerifiedBy,
			"verified_at":  completion.VerifiedAt,
			"notes":        completion.Notes,
		}).
		Where(squirrel.Eq{"completion_id": completion.CompletionID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build completion update query: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classifyError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) IncrementTaskCompletions(ctx context.Context, taskID uuid.UUID, limit *int) error {
	builder := squirrel.
		Update("tasks").
		Set("current_completions", squirrel.Expr("current_completions + 1")).
		Where(squirrel.Eq{"task_id": taskID})
	if limit != nil {
		builder = builder.Where(squirrel.Lt{"current_completions": *limit})
	}

	query, args, err := builder.PlaceholderFormat(squirrel.Dollar).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task counter query: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classifyError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	if limit == nil {
		return ledger.ErrNotFound
	}

	exists, err := t.taskExists(ctx, taskID)
	if err != nil {
		return err
	}
	if !exists {
		return ledger.ErrNotFound
	}
	return ledger.ErrLimitReached
}

func (t *ledgerTx) taskExists(ctx context.Context, taskID uuid.UUID) (bool, error) {
	query, args, err := squirrel.
		Select("1").
		Prefix("SELECT EXISTS (").
		From("tasks").
		Where(squirrel.Eq{"task_id": taskID}).
		Suffix(")").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build task exists query: %w", err)
	}

	var exists bool
	if err := t.tx.GetContext(ctx, &exists, query, args...); err != nil {
		return false, classifyError(err)
	}
	return exists, nil
}
