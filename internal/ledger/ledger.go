// Package ledger defines the store the reward engine commits through: one
// unit of work per operation, with per-user row locks and an append-only event log.
package ledger

import (
	"context"
	"errors"

	"onehunt_rewards/internal/model"

	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("duplicate key")
	ErrLimitReached = errors.New("completion limit reached")

	// ErrTxConflict marks a transaction that lost a race (serialization failure,
	// deadlock) and may succeed if run again from scratch.
	ErrTxConflict = errors.New("transaction conflict")
)

// Store runs fn in a single transaction. If fn returns an error nothing it did
// is persisted.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of reads and writes available inside a unit of work. User,
// completion and withdrawal reads lock the row until the transaction ends.
type Tx interface {
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	GetUserByReferralCode(ctx context.Context, code string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	SaveUser(ctx context.Context, user *model.User) error

	AppendEvent(ctx context.Context, event *model.RewardEvent) error

	CountCompletions(ctx context.Context, telegramID int64, taskID uuid.UUID, statuses ...model.CompletionStatus) (int, error)
	CreateCompletion(ctx context.Context, completion *model.TaskCompletion) error
	GetCompletion(ctx context.Context, completionID uuid.UUID) (*model.TaskCompletion, error)
	UpdateCompletion(ctx context.Context, completion *model.TaskCompletion) error

	// IncrementTaskCompletions bumps the task's global counter, failing with
	// ErrLimitReached when limit is set and already met.
	IncrementTaskCompletions(ctx context.Context, taskID uuid.UUID, limit *int) error

	CreateWithdrawal(ctx context.Context, withdrawal *model.Withdrawal) error
	// GetWithdrawal locks the withdrawal until the transaction ends.
	GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*model.Withdrawal, error)
	UpdateWithdrawal(ctx context.Context, withdrawal *model.Withdrawal) error
}
