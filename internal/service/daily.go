package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"
	"onehunt_rewards/internal/progression"

	"github.com/google/uuid"
)

const statusDays = 7

type DailyRewardResult struct {
	User                 *model.User
	Reward               int64
	XP                   int
	Streak               int
	Event                model.RewardEvent
	UnlockedAchievements []uuid.UUID
}

type SpinResult struct {
	User                 *model.User
	Reward               int64
	Event                model.RewardEvent
	UnlockedAchievements []uuid.UUID
}

type DailyRewardService struct {
	runner       *runner
	achievements *AchievementService
	cfg          Config
	loc          *time.Location
	limiter      SpinLimiter
	pick         func(n int) int
	clock        func() time.Time
}

// NewDailyRewardService builds the daily claim and spin engine. limiter may be nil.
func NewDailyRewardService(store ledger.Store, achievements *AchievementService, cfg Config, limiter SpinLimiter) *DailyRewardService {
	return &DailyRewardService{
		runner:       newRunner(store, cfg.MaxTxAttempts),
		achievements: achievements,
		cfg:          cfg,
		loc:          cfg.location(),
		limiter:      limiter,
		pick:         rand.IntN,
		clock:        time.Now,
	}
}

// DailyReward is the payout for a claim that brings the streak to streak.
func (s *DailyRewardService) DailyReward(streak int) int64 {
	return s.cfg.DailyBaseReward + int64(streak/s.cfg.DailyStreakPeriod)*s.cfg.DailyStreakBonus
}

// nextStreak returns the claim streak a claim at now would reach, or
// ErrAlreadyClaimed when the user already claimed that calendar day.
func (s *DailyRewardService) nextStreak(u *model.User, now time.Time) (int, error) {
	if u.LastDailyReward == nil {
		return 1, nil
	}
	switch diff := progression.DaysBetween(*u.LastDailyReward, now, s.loc); {
	case diff <= 0:
		return 0, ErrAlreadyClaimed
	case diff == 1:
		return u.DailyRewardStreak + 1, nil
	}
	return 1, nil
}

func (s *DailyRewardService) ClaimDailyReward(ctx context.Context, telegramID int64, now time.Time) (*DailyRewardResult, error) {
	snap, err := s.achievements.autoSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var result *DailyRewardResult
	err = s.runner.run(ctx, "claim_daily_reward", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		streak, err := s.nextStreak(u, now)
		if err != nil {
			return err
		}

		reward := s.DailyReward(streak)
		u.DailyRewardStreak = streak
		stamp := now
		u.LastDailyReward = &stamp
		progression.Grant(u, model.Reward{Coins: reward, XP: s.cfg.DailyXP})

		event := &model.RewardEvent{
			EventID:     uuid.New(),
			UserID:      u.TelegramID,
			Type:        model.EventDailyLogin,
			Amount:      reward,
			XP:          s.cfg.DailyXP,
			Description: fmt.Sprintf("Daily reward, day %d", streak),
			CreatedAt:   now,
		}
		if err := events.append(ctx, tx, event); err != nil {
			return err
		}

		unlocked, err := s.achievements.afterMutation(ctx, tx, events, u, snap, now)
		if err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}

		result = &DailyRewardResult{
			User:                 u,
			Reward:               reward,
			XP:                   s.cfg.DailyXP,
			Streak:               streak,
			Event:                *event,
			UnlockedAchievements: unlocked,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Spin draws uniformly from the reward table. The draw happens once per call,
// so a retried transaction pays the same amount.
func (s *DailyRewardService) Spin(ctx context.Context, telegramID int64) (*SpinResult, error) {
	if s.limiter != nil && !s.limiter.Allow(telegramID) {
		observeRejected("spin", ErrRateLimited)
		return nil, ErrRateLimited
	}

	now := s.clock()
	reward := s.cfg.SpinRewards[s.pick(len(s.cfg.SpinRewards))]

	snap, err := s.achievements.autoSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var result *SpinResult
	err = s.runner.run(ctx, "spin", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		progression.Credit(u, reward)
		event := &model.RewardEvent{
			EventID:     uuid.New(),
			UserID:      u.TelegramID,
			Type:        model.EventSpinWheel,
			Amount:      reward,
			Description: fmt.Sprintf("Spin wheel reward: %d coins", reward),
			CreatedAt:   now,
		}
		if err := events.append(ctx, tx, event); err != nil {
			return err
		}

		unlocked, err := s.achievements.afterMutation(ctx, tx, events, u, snap, now)
		if err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}

		result = &SpinResult{User: u, Reward: reward, Event: *event, UnlockedAchievements: unlocked}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDailyStatus reports whether a claim is possible at now and what the next
// seven claims would pay if the streak holds.
func (s *DailyRewardService) GetDailyStatus(ctx context.Context, telegramID int64, now time.Time) (*model.DailyStatus, error) {
	var status *model.DailyStatus
	err := s.runner.run(ctx, "daily_status", func(ctx context.Context, tx ledger.Tx, _ *eventBuffer) error {
		u, err := loadUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		status = &model.DailyStatus{
			UserTelegramID:      telegramID,
			LastClaimedAt:       u.LastDailyReward,
			HasNeverBeenClaimed: u.LastDailyReward == nil,
			DailyRewards:        make([]model.DayReward, statusDays),
		}

		next, err := s.nextStreak(u, now)
		switch {
		case err == nil:
			status.IsAvailable = u.CanMutate()
			status.NextStreak = next
			if next > 1 {
				status.CurrentStreak = u.DailyRewardStreak
			}
		case errors.Is(err, ErrAlreadyClaimed):
			status.CurrentStreak = u.DailyRewardStreak
			status.NextStreak = u.DailyRewardStreak + 1
		default:
			return err
		}

		for i := 0; i < statusDays; i++ {
			streak := status.NextStreak + i
			status.DailyRewards[i] = model.DayReward{
				Day:    i + 1,
				Streak: streak,
				Reward: s.DailyReward(streak),
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}
