package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/model"
	"onehunt_rewards/internal/repository/memstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store *memstore.Store
	cache *catalog.Cache
	svc   *Service
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	store := memstore.New()
	cache := catalog.NewCache(store, 0)
	svc, err := NewService(store, cache, cfg, nil)
	require.NoError(t, err)

	f := &fixture{store: store, cache: cache, svc: svc}
	f.setClock(day0)
	return f
}

func (f *fixture) setClock(now time.Time) {
	clock := func() time.Time { return now }
	f.svc.AchievementService.clock = clock
	f.svc.ReferralService.clock = clock
	f.svc.TaskService.clock = clock
	f.svc.DailyRewardService.clock = clock
	f.svc.UserService.clock = clock
	f.svc.WithdrawalService.clock = clock
}

func (f *fixture) putTask(task *model.Task) *model.Task {
	if task.TaskID == uuid.Nil {
		task.TaskID = uuid.New()
	}
	f.store.PutTask(task)
	f.cache.Invalidate()
	return task
}

func (f *fixture) putAchievement(a *model.Achievement) *model.Achievement {
	if a.AchievementID == uuid.Nil {
		a.AchievementID = uuid.New()
	}
	a.IsActive = true
	f.store.PutAchievement(a)
	f.cache.Invalidate()
	return a
}

func (f *fixture) register(t *testing.T, id int64, referralCode string) *model.User {
	t.Helper()
	res, err := f.svc.RegisterUser(context.Background(), RegisterParams{
		TelegramID:   id,
		Username:     fmt.Sprintf("user%d", id),
		ReferralCode: referralCode,
	}, day0)
	require.NoError(t, err)
	return res.User
}

func (f *fixture) user(t *testing.T, id int64) *model.User {
	t.Helper()
	u, ok := f.store.User(id)
	require.True(t, ok, "user %d not stored", id)
	return u
}

// assertLedgerConsistent checks that every balance equals the sum of its events.
func (f *fixture) assertLedgerConsistent(t *testing.T) {
	t.Helper()
	assert.Empty(t, f.store.BalanceDrift())
}

func TestErrorKinds(t *testing.T) {
	notFound := []error{ErrUserNotFound, ErrTaskNotFound, ErrCompletionNotFound, ErrInvalidReferralCode, ErrWithdrawalNotFound}
	for _, err := range notFound {
		assert.True(t, IsNotFound(err), err.Error())
		assert.False(t, IsConflict(err), err.Error())
	}

	conflicts := []error{
		ErrUserExists, ErrTaskAlreadyCompleted, ErrTaskUnavailable, ErrTaskExhausted,
		ErrCompletionFinalized, ErrAlreadyClaimed, ErrSelfReferral, ErrAlreadyReferred,
		ErrReferralCycle, ErrUserInactive, ErrRateLimited, ErrWithdrawalFinalized,
	}
	for _, err := range conflicts {
		assert.True(t, IsConflict(err), err.Error())
		assert.False(t, IsNotFound(err), err.Error())
	}

	wrapped := fmt.Errorf("claim: %w", ErrAlreadyClaimed)
	assert.True(t, IsConflict(wrapped))
	assert.ErrorIs(t, wrapped, ErrAlreadyClaimed)

	assert.False(t, IsConflict(ErrInsufficientBalance))
	assert.False(t, IsNotFound(ErrTransientStore))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "named timezone", mutate: func(c *Config) { c.Timezone = "Europe/Moscow" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "empty spin table", mutate: func(c *Config) { c.SpinRewards = nil }, wantErr: true},
		{name: "negative spin reward", mutate: func(c *Config) { c.SpinRewards = []int64{5, -1} }, wantErr: true},
		{name: "zero streak period", mutate: func(c *Config) { c.DailyStreakPeriod = 0 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.MaxTxAttempts = 0 }, wantErr: true},
		{name: "zero withdrawal minimum", mutate: func(c *Config) { c.WithdrawalMinAmount = 0 }, wantErr: true},
		{name: "fee above 100 percent", mutate: func(c *Config) { c.WithdrawalFeePercent = 101 }, wantErr: true},
		{name: "no withdrawal fee", mutate: func(c *Config) { c.WithdrawalFeePercent = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewService_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Nowhere/Special"
	_, err := NewService(memstore.New(), catalog.NewCache(memstore.New(), 0), cfg, nil)
	assert.Error(t, err)
}

func TestBalanceInvariant_MixedOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.putAchievement(&model.Achievement{
		Name:      "Rich",
		Condition: model.Condition{Type: model.ConditionBalanceReached, Value: 100},
		Reward:    model.Reward{Coins: 25, XP: 10},
	})
	task := f.putTask(&model.Task{
		Title:          "Watch video",
		Type:           model.TaskSocial,
		Reward:         model.Reward{Coins: 60, XP: 30},
		Requirement:    model.Requirement{VerificationMethod: model.VerifyAuto},
		MaxCompletions: 1,
		IsActive:       true,
	})

	a := f.register(t, 1, "")
	f.register(t, 2, a.ReferralCode)
	f.register(t, 3, "")

	_, err := f.svc.GrantTaskCompletion(ctx, 3, task.TaskID, "")
	require.NoError(t, err)
	_, err = f.svc.ClaimDailyReward(ctx, 3, day0)
	require.NoError(t, err)
	_, err = f.svc.Spin(ctx, 3)
	require.NoError(t, err)
	_, err = f.svc.DeductBalance(ctx, 1, 30, "withdrawal")
	require.NoError(t, err)

	f.assertLedgerConsistent(t)

	for _, id := range []int64{1, 2, 3} {
		u := f.user(t, id)
		assert.GreaterOrEqual(t, u.Balance, int64(0))
		assert.GreaterOrEqual(t, u.Level, 1)
		assert.Less(t, u.XP, u.Level*100)
	}
}

func TestOperations_RunAfterCatalogInvalidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.putTask(autoTask(20, 5))
	a := f.register(t, 1, "")

	ops := []struct {
		name string
		run  func() error
	}{
		{name: "register with referral", run: func() error {
			_, err := f.svc.RegisterUser(ctx, RegisterParams{TelegramID: 2, ReferralCode: a.ReferralCode}, day0)
			return err
		}},
		{name: "grant task", run: func() error {
			_, err := f.svc.GrantTaskCompletion(ctx, 1, task.TaskID, "")
			return err
		}},
		{name: "claim daily", run: func() error {
			_, err := f.svc.ClaimDailyReward(ctx, 1, day0)
			return err
		}},
		{name: "spin", run: func() error {
			_, err := f.svc.Spin(ctx, 1)
			return err
		}},
		{name: "login", run: func() error {
			_, err := f.svc.RecordLogin(ctx, 1, day0.AddDate(0, 0, 1))
			return err
		}},
		{name: "evaluate", run: func() error {
			_, err := f.svc.EvaluateAchievements(ctx, 1)
			return err
		}},
	}

	for _, op := range ops {
		t.Run(op.name, func(t *testing.T) {
			f.cache.Invalidate()

			done := make(chan error, 1)
			go func() { done <- op.run() }()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(3 * time.Second):
				t.Fatalf("%s blocked on a cold catalog", op.name)
			}
		})
	}
	f.assertLedgerConsistent(t)
}
