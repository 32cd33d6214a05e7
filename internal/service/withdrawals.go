package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"
	"onehunt_rewards/internal/progression"

	"github.com/google/uuid"
)

const defaultWithdrawalMethod = "crypto"

type WithdrawalRequest struct {
	Amount        int64
	WalletAddress string
	// Method defaults to crypto.
	Method string
}

// WithdrawalDecision is an operator's verdict on a pending withdrawal.
type WithdrawalDecision struct {
	Status          model.WithdrawalStatus
	ProcessedBy     int64
	TransactionHash string
	AdminNotes      string
}

type WithdrawalResult struct {
	Withdrawal *model.Withdrawal
	User       *model.User
	// Event is the hold on request and the refund on cancel or rejection.
	// It is nil when a withdrawal completes.
	Event *model.RewardEvent
}

type WithdrawalService struct {
	runner     *runner
	minAmount  int64
	feePercent int64
	clock      func() time.Time
}

func NewWithdrawalService(store ledger.Store, cfg Config) *WithdrawalService {
	return &WithdrawalService{
		runner:     newRunner(store, cfg.MaxTxAttempts),
		minAmount:  cfg.WithdrawalMinAmount,
		feePercent: cfg.WithdrawalFeePercent,
		clock:      time.Now,
	}
}

// Fee is the whole-coin fee charged on top of amount, rounded down.
func (s *WithdrawalService) Fee(amount int64) int64 {
	return amount * s.feePercent / 100
}

// RequestWithdrawal holds amount plus fee from the balance and records a
// pending withdrawal.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, telegramID int64, req WithdrawalRequest) (*WithdrawalResult, error) {
	switch {
	case req.Amount <= 0:
		observeRejected("request_withdrawal", ErrInvalidAmount)
		return nil, ErrInvalidAmount
	case req.Amount < s.minAmount:
		observeRejected("request_withdrawal", ErrBelowMinimumWithdrawal)
		return nil, fmt.Errorf("%w: minimum is %d coins", ErrBelowMinimumWithdrawal, s.minAmount)
	case strings.TrimSpace(req.WalletAddress) == "":
		observeRejected("request_withdrawal", ErrWalletRequired)
		return nil, ErrWalletRequired
	}

	method := req.Method
	if method == "" {
		method = defaultWithdrawalMethod
	}
	now := s.clock()

	var result *WithdrawalResult
	err := s.runner.run(ctx, "request_withdrawal", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		w := &model.Withdrawal{
			WithdrawalID:  uuid.New(),
			UserID:        u.TelegramID,
			Amount:        req.Amount,
			Fee:           s.Fee(req.Amount),
			Method:        method,
			WalletAddress: strings.TrimSpace(req.WalletAddress),
			Status:        model.WithdrawalPending,
			CreatedAt:     now,
		}
		if err := progression.Hold(u, w.Held()); err != nil {
			return fmt.Errorf("%w: %d coins required including a %d coin fee", err, w.Held(), w.Fee)
		}
		if err := tx.CreateWithdrawal(ctx, w); err != nil {
			return fmt.Errorf("failed to create withdrawal: %w", err)
		}

		event, err := s.appendEvent(ctx, tx, events, w, model.EventWithdrawalHold, -w.Held(),
			fmt.Sprintf("Withdrawal request: %d coins", w.Amount), now)
		if err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}

		result = &WithdrawalResult{Withdrawal: w, User: u, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelWithdrawal lets the owner withdraw a pending request. The held coins
// are refunded in full.
func (s *WithdrawalService) CancelWithdrawal(ctx context.Context, telegramID int64, withdrawalID uuid.UUID) (*WithdrawalResult, error) {
	now := s.clock()

	var result *WithdrawalResult
	err := s.runner.run(ctx, "cancel_withdrawal", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		w, err := s.pendingWithdrawal(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if w.UserID != telegramID {
			return ErrWithdrawalNotFound
		}

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		w.Status = model.WithdrawalCancelled
		event, err := s.refund(ctx, tx, events, u, w, "Withdrawal cancelled", now)
		if err != nil {
			return err
		}

		result = &WithdrawalResult{Withdrawal: w, User: u, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ProcessWithdrawal completes or rejects a pending withdrawal. Completion
// counts the amount as withdrawn; rejection refunds amount and fee.
func (s *WithdrawalService) ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID, decision WithdrawalDecision, now time.Time) (*WithdrawalResult, error) {
	if decision.Status != model.WithdrawalCompleted && decision.Status != model.WithdrawalRejected {
		observeRejected("process_withdrawal", ErrInvalidWithdrawalState)
		return nil, ErrInvalidWithdrawalState
	}

	var result *WithdrawalResult
	err := s.runner.run(ctx, "process_withdrawal", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		w, err := s.pendingWithdrawal(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}

		// banned users still get their refund or their payout recorded
		u, err := loadUser(ctx, tx, w.UserID)
		if err != nil {
			return err
		}

		processedBy := decision.ProcessedBy
		processedAt := now
		w.Status = decision.Status
		w.TransactionHash = decision.TransactionHash
		w.AdminNotes = decision.AdminNotes
		w.ProcessedBy = &processedBy
		w.ProcessedAt = &processedAt

		var event *model.RewardEvent
		if w.Status == model.WithdrawalRejected {
			event, err = s.refund(ctx, tx, events, u, w, "Withdrawal rejected", now)
			if err != nil {
				return err
			}
		} else {
			u.TotalWithdrawn += w.Amount
			if err := tx.UpdateWithdrawal(ctx, w); err != nil {
				return fmt.Errorf("failed to update withdrawal: %w", err)
			}
			if err := saveUser(ctx, tx, u); err != nil {
				return err
			}
		}

		result = &WithdrawalResult{Withdrawal: w, User: u, Event: event}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetWithdrawal returns one of the user's withdrawals.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, telegramID int64, withdrawalID uuid.UUID) (*model.Withdrawal, error) {
	var result *model.Withdrawal
	err := s.runner.run(ctx, "get_withdrawal", func(ctx context.Context, tx ledger.Tx, _ *eventBuffer) error {
		w, err := s.withdrawal(ctx, tx, withdrawalID)
		if err != nil {
			return err
		}
		if w.UserID != telegramID {
			return ErrWithdrawalNotFound
		}
		result = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *WithdrawalService) withdrawal(ctx context.Context, tx ledger.Tx, withdrawalID uuid.UUID) (*model.Withdrawal, error) {
	w, err := tx.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func (s *WithdrawalService) pendingWithdrawal(ctx context.Context, tx ledger.Tx, withdrawalID uuid.UUID) (*model.Withdrawal, error) {
	w, err := s.withdrawal(ctx, tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != model.WithdrawalPending {
		return nil, ErrWithdrawalFinalized
	}
	return w, nil
}

// refund returns the held coins to u and persists both w and u.
func (s *WithdrawalService) refund(ctx context.Context, tx ledger.Tx, events *eventBuffer, u *model.User, w *model.Withdrawal, description string, now time.Time) (*model.RewardEvent, error) {
	progression.Release(u, w.Held())
	if err := tx.UpdateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update withdrawal: %w", err)
	}

	event, err := s.appendEvent(ctx, tx, events, w, model.EventWithdrawalRefund, w.Held(), description, now)
	if err != nil {
		return nil, err
	}
	if err := saveUser(ctx, tx, u); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *WithdrawalService) appendEvent(ctx context.Context, tx ledger.Tx, events *eventBuffer, w *model.Withdrawal, eventType model.EventType, amount int64, description string, now time.Time) (*model.RewardEvent, error) {
	related := w.WithdrawalID
	event := &model.RewardEvent{
		EventID:           uuid.New(),
		UserID:            w.UserID,
		Type:              eventType,
		Amount:            amount,
		Description:       description,
		RelatedWithdrawal: &related,
		CreatedAt:         now,
	}
	if err := events.append(ctx, tx, event); err != nil {
		return nil, err
	}
	return event, nil
}
