package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	ReferralCode string

	Balance        int64
	TotalEarned    int64
	TotalWithdrawn int64

	Level         int
	XP            int
	Streak        int
	LastLoginDate *time.Time

	ReferredBy        *int64
	DirectReferrals   []int64
	IndirectReferrals []int64

	TasksCompleted int
	Achievements   []UnlockedAchievement

	LastDailyReward   *time.Time
	DailyRewardStreak int

	IsBanned bool
	IsActive bool

	RegistrationDate time.Time
}

type UnlockedAchievement struct {
	AchievementID uuid.UUID
	UnlockedAt    time.Time
}

// CanMutate reports whether the engine may change this user's ledger state.
func (u *User) CanMutate() bool {
	return u.IsActive && !u.IsBanned
}

func (u *User) HasAchievement(id uuid.UUID) bool {
	for _, a := range u.Achievements {
		if a.AchievementID == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so a caller can mutate it without touching shared state.
func (u *User) Clone() *User {
	c := *u
	if u.LastLoginDate != nil {
		t := *u.LastLoginDate
		c.LastLoginDate = &t
	}
	if u.ReferredBy != nil {
		r := *u.ReferredBy
		c.ReferredBy = &r
	}
	if u.LastDailyReward != nil {
		t := *u.LastDailyReward
		c.LastDailyReward = &t
	}
	c.DirectReferrals = append([]int64(nil), u.DirectReferrals...)
	c.IndirectReferrals = append([]int64(nil), u.IndirectReferrals...)
	c.Achievements = append([]UnlockedAchievement(nil), u.Achievements...)
	return &c
}

type BalanceDrift struct {
	TelegramID    int64
	Balance       int64
	LedgerBalance int64
}
