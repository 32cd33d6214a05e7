package model

import (
	"fmt"

	"github.com/google/uuid"
)

type ConditionType string

const (
	ConditionTasksCompleted ConditionType = "tasks_completed"
	ConditionReferralsCount ConditionType = "referrals_count"
	ConditionBalanceReached ConditionType = "balance_reached"
	ConditionStreakDays     ConditionType = "streak_days"
	ConditionLevelReached   ConditionType = "level_reached"
)

func ParseConditionType(s string) (ConditionType, error) {
	switch c := ConditionType(s); c {
	case ConditionTasksCompleted, ConditionReferralsCount, ConditionBalanceReached,
		ConditionStreakDays, ConditionLevelReached:
		return c, nil
	}
	return "", fmt.Errorf("unknown achievement condition %q", s)
}

// Stat returns the user statistic the condition is measured against.
func (c ConditionType) Stat(u *User) (int64, error) {
	switch c {
	case ConditionTasksCompleted:
		return int64(u.TasksCompleted), nil
	case ConditionReferralsCount:
		return int64(len(u.DirectReferrals)), nil
	case ConditionBalanceReached:
		return u.Balance, nil
	case ConditionStreakDays:
		return int64(u.Streak), nil
	case ConditionLevelReached:
		return int64(u.Level), nil
	}
	return 0, fmt.Errorf("unknown achievement condition %q", c)
}

type Condition struct {
	Type  ConditionType
	Value int64
}

type Achievement struct {
	AchievementID uuid.UUID
	Name          string
	Description   string
	Condition     Condition
	Reward        Reward
	IsActive      bool
}
