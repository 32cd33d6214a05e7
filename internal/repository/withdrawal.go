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

type withdrawal struct {
	WithdrawalID    uuid.UUID  `db:"withdrawal_id"`
	UserID          int64      `db:"user_telegram_id"`
	Amount          int64      `db:"amount"`
	Fee             int64      `db:"fee"`
	Method          string     `db:"method"`
	WalletAddress   string     `db:"wallet_address"`
	Status          string     `db:"status"`
	TransactionHash string     `db:"transaction_hash"`
	AdminNotes      string     `db:"admin_notes"`
	ProcessedBy     *int64     `db:"processed_by"`
	ProcessedAt     *time.Time `db:"processed_at"`
	CreatedAt       time.Time  `db:"created_at"`
}

func (w *withdrawal) toModel() (*model.Withdrawal, error) {
	status := model.WithdrawalStatus(w.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("withdrawal %s has unknown status %q", w.WithdrawalID, w.Status)
	}
	return &model.Withdrawal{
		WithdrawalID:    w.WithdrawalID,
		UserID:          w.UserID,
		Amount:          w.Amount,
		Fee:             w.Fee,
		Method:          w.Method,
		WalletAddress:   w.WalletAddress,
		Status:          status,
		TransactionHash: w.TransactionHash,
		AdminNotes:      w.AdminNotes,
		ProcessedBy:     w.ProcessedBy,
		ProcessedAt:     w.ProcessedAt,
		CreatedAt:       w.CreatedAt,
	}, nil
}

func (t *ledgerTx) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	if w.WithdrawalID == uuid.Nil {
		w.WithdrawalID = uuid.New()
	}

	query, args, err := squirrel.
		Insert("withdrawals").
		SetMap(map[string]interface{}{
			"withdrawal_id":    w.WithdrawalID,
			"user_telegram_id": w.UserID,
			"amount":           w.Amount,
			"fee":              w.Fee,
			"method":           w.Method,
			"wallet_address":   w.WalletAddress,
			"status":           string(w.Status),
			"transaction_hash": w.TransactionHash,
			"admin_notes":      w.AdminNotes,
			"processed_by":     w.ProcessedBy,
			"processed_at":     w.ProcessedAt,
			"created_at":       w.CreatedAt,
		}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build withdrawal insert query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classifyError(err)
	}
	return nil
}

func (t *ledgerTx) GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*model.Withdrawal, error) {
	query, args, err := squirrel.
		Select(
			"withdrawal_id", "user_telegram_id", "amount", "fee", "method", "wallet_address",
			"status", "transaction_hash", "admin_notes", "processed_by", "processed_at", "created_at",
		).
		From("withdrawals").
		Where(squirrel.Eq{"withdrawal_id": withdrawalID}).
		Suffix("FOR UPDATE").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build withdrawal select query: %w", err)
	}

	var row withdrawal
	if err := t.tx.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, classifyError(err)
	}
	return row.toModel()
}

func (t *ledgerTx) UpdateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	query, args, err := squirrel.
		Update("withdrawals").
		SetMap(map[string]interface{}{
			"status":           string(w.Status),
			"transaction_hash": w.TransactionHash,
			"admin_notes":      w.AdminNotes,
			"processed_by":     w.ProcessedBy,
			"processed_at":     w.ProcessedAt,
		}).
		Where(squirrel.Eq{"withdrawal_id": w.WithdrawalID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build withdrawal update query: %w", err)
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
