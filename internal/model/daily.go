package model

import "time"

type DailyStatus struct {
	UserTelegramID      int64
	LastClaimedAt       *time.Time
	IsAvailable         bool
	HasNeverBeenClaimed bool
	CurrentStreak       int
	NextStreak          int
	DailyRewards        []DayReward
}

type DayReward struct {
	Day    int
	Streak int
	Reward int64
}
