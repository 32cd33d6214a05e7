package model

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventDailyLogin     EventType = "daily_login"
	EventTaskCompletion EventType = "task_completion"
	EventReferral       EventType = "referral"
	EventAchievement    EventType = "achievement"
	EventSpinWheel      EventType = "spin_wheel"
	EventBonus          EventType = "bonus"
	EventDeduction      EventType = "deduction"

	EventWithdrawalHold   EventType = "withdrawal_hold"
	EventWithdrawalRefund EventType = "withdrawal_refund"
)

// RewardEvent is an immutable ledger row. Amount is signed: deductions are negative.
type RewardEvent struct {
	EventID         uuid.UUID
	UserID          int64
	Type            EventType
	Amount          int64
	XP              int
	Description     string
	RelatedTask     *uuid.UUID
	RelatedReferral *int64
	// RelatedWithdrawal is set on withdrawal hold and refund events.
	RelatedWithdrawal *uuid.UUID
	CreatedAt         time.Time
}
