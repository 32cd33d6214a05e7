package model

import (
	"time"

	"github.com/google/uuid"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalCompleted WithdrawalStatus = "completed"
	WithdrawalRejected  WithdrawalStatus = "rejected"
	WithdrawalCancelled WithdrawalStatus = "cancelled"
)

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalPending, WithdrawalCompleted, WithdrawalRejected, WithdrawalCancelled:
		return true
	}
	return false
}

// Withdrawal is a payout request. Amount plus Fee is held from the balance
// while it is pending and refunded if it is cancelled or rejected.
type Withdrawal struct {
	WithdrawalID    uuid.UUID
	UserID          int64
	Amount          int64
	Fee             int64
	Method          string
	WalletAddress   string
	Status          WithdrawalStatus
	TransactionHash string
	AdminNotes      string
	ProcessedBy     *int64
	ProcessedAt     *time.Time
	CreatedAt       time.Time
}

// Held is the number of coins taken from the balance when the request was made.
func (w *Withdrawal) Held() int64 {
	return w.Amount + w.Fee
}
