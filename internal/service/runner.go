package service

import (
	"context"
	"errors"
	"fmt"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"
	"onehunt_rewards/pkg/logger"

	"go.uber.org/zap"
)

// runner executes one engine operation as a unit of work, restarting it from
// scratch when the store reports a lost race.
type runner struct {
	store       ledger.Store
	maxAttempts int
}

func newRunner(store ledger.Store, maxAttempts int) *runner {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &runner{store: store, maxAttempts: maxAttempts}
}

// run commits fn and then records the events it produced. fn may be invoked
// more than once, so it must reset anything it reports through closures.
func (r *runner) run(ctx context.Context, op string, fn func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		buf := &eventBuffer{}
		err = r.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return fn(ctx, tx, buf)
		})
		if err == nil {
			observeCommitted(op, buf.events)
			return nil
		}
		if !errors.Is(err, ledger.ErrTxConflict) {
			observeRejected(op, err)
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if attempt < r.maxAttempts {
			storeRetries.WithLabelValues(op).Inc()
			logger.Logger().Warn("Ledger transaction conflict, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
	}

	err = fmt.Errorf("%w: %s: %w", ErrTransientStore, op, err)
	observeRejected(op, err)
	return err
}

// eventBuffer collects the events appended during one attempt.
type eventBuffer struct {
	events []model.RewardEvent
}

func (b *eventBuffer) append(ctx context.Context, tx ledger.Tx, event *model.RewardEvent) error {
	if err := tx.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("failed to append %s event: %w", event.Type, err)
	}
	b.events = append(b.events, *event)
	return nil
}

func observeCommitted(op string, events []model.RewardEvent) {
	for _, e := range events {
		grantsTotal.WithLabelValues(string(e.Type)).Inc()
		if e.Amount > 0 && e.Type != model.EventWithdrawalRefund {
			coinsGranted.WithLabelValues(string(e.Type)).Add(float64(e.Amount))
		}
		if e.Type == model.EventAchievement {
			achievementsUnlocked.Inc()
		}
		logger.Logger().Info("Reward committed",
			zap.String("operation", op),
			zap.Int64("user_id", e.UserID),
			zap.String("type", string(e.Type)),
			zap.Int64("amount", e.Amount),
			zap.Int("xp", e.XP),
		)
	}
}

func observeRejected(op string, err error) {
	reason := rejectionReason(err)
	if reason == "" {
		logger.Logger().Error("Engine operation failed",
			zap.String("operation", op),
			zap.Error(err),
		)
		return
	}
	rejectionsTotal.WithLabelValues(op, reason).Inc()
}

// rejectionReason names expected outcomes; it is empty for unexpected failures.
func rejectionReason(err error) string {
	var ke *kindError
	switch {
	case errors.As(err, &ke):
		return ke.msg
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient balance"
	case errors.Is(err, ErrTransientStore):
		return "transient store"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid amount"
	case errors.Is(err, ErrBelowMinimumWithdrawal):
		return "below minimum withdrawal"
	case errors.Is(err, ErrWalletRequired):
		return "wallet required"
	case errors.Is(err, ErrInvalidWithdrawalState):
		return "invalid withdrawal state"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return ""
}

// loadUser reads and locks the user, mapping a missing row to ErrUserNotFound.
func loadUser(ctx context.Context, tx ledger.Tx, telegramID int64) (*model.User, error) {
	u, err := tx.GetUser(ctx, telegramID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", telegramID, err)
	}
	return u, nil
}

// loadMutableUser is loadUser that also rejects banned or inactive users.
func loadMutableUser(ctx context.Context, tx ledger.Tx, telegramID int64) (*model.User, error) {
	u, err := loadUser(ctx, tx, telegramID)
	if err != nil {
		return nil, err
	}
	if !u.CanMutate() {
		return nil, ErrUserInactive
	}
	return u, nil
}

func saveUser(ctx context.Context, tx ledger.Tx, u *model.User) error {
	if err := tx.SaveUser(ctx, u); err != nil {
		return fmt.Errorf("failed to save user %d: %w", u.TelegramID, err)
	}
	return nil
}
