package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"
	"onehunt_rewards/internal/progression"
	"onehunt_rewards/internal/ratelimit"

	"github.com/google/uuid"
)

var (
	ErrNotFoundKind = errors.New("not found")
	ErrConflictKind = errors.New("conflict")
)

// kindError is a sentinel that also matches its category with errors.Is.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	ErrUserNotFound        = newKindError(ErrNotFoundKind, "user not found")
	ErrTaskNotFound        = newKindError(ErrNotFoundKind, "task not found")
	ErrCompletionNotFound  = newKindError(ErrNotFoundKind, "task completion not found")
	ErrWithdrawalNotFound  = newKindError(ErrNotFoundKind, "withdrawal not found")
	ErrInvalidReferralCode = newKindError(ErrNotFoundKind, "invalid referral code")

	ErrUserExists           = newKindError(ErrConflictKind, "user already exists")
	ErrTaskAlreadyCompleted = newKindError(ErrConflictKind, "task already completed")
	ErrTaskUnavailable      = newKindError(ErrConflictKind, "task is not available")
	ErrTaskExhausted        = newKindError(ErrConflictKind, "task completion limit reached")
	ErrCompletionFinalized  = newKindError(ErrConflictKind, "task completion already finalized")
	ErrAlreadyClaimed       = newKindError(ErrConflictKind, "daily reward already claimed today")
	ErrSelfReferral         = newKindError(ErrConflictKind, "cannot use your own referral code")
	ErrAlreadyReferred      = newKindError(ErrConflictKind, "referral code already applied")
	ErrReferralCycle        = newKindError(ErrConflictKind, "referral would create a cycle")
	ErrUserInactive         = newKindError(ErrConflictKind, "user is banned or inactive")
	ErrRateLimited          = newKindError(ErrConflictKind, "too many requests")
	ErrWithdrawalFinalized  = newKindError(ErrConflictKind, "withdrawal is not pending")

	ErrInsufficientBalance = progression.ErrInsufficientBalance

	ErrTransientStore = errors.New("ledger store unavailable, try again")

	ErrInvalidAmount = errors.New("amount must be positive")

	ErrBelowMinimumWithdrawal = errors.New("amount is below the minimum withdrawal")
	ErrWalletRequired         = errors.New("wallet address is required")
	ErrInvalidWithdrawalState = errors.New("withdrawal can only be completed or rejected")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFoundKind) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflictKind) }

type Config struct {
	DailyBaseReward   int64 `mapstructure:"dailyBaseReward"`
	DailyStreakBonus  int64 `mapstructure:"dailyStreakBonus"`
	DailyStreakPeriod int   `mapstructure:"dailyStreakPeriod"`
	DailyXP           int   `mapstructure:"dailyXP"`

	ReferralDirectCoins   int64 `mapstructure:"referralDirectCoins"`
	ReferralDirectXP      int   `mapstructure:"referralDirectXP"`
	ReferralIndirectCoins int64 `mapstructure:"referralIndirectCoins"`
	ReferralIndirectXP    int   `mapstructure:"referralIndirectXP"`

	SpinRewards []int64 `mapstructure:"spinRewards"`
	// SpinsPerMinute of 0 leaves spins unthrottled.
	SpinsPerMinute float64 `mapstructure:"spinsPerMinute"`
	SpinBurst      int     `mapstructure:"spinBurst"`

	WithdrawalMinAmount  int64 `mapstructure:"withdrawalMinAmount"`
	WithdrawalFeePercent int64 `mapstructure:"withdrawalFeePercent"`

	Timezone                 string        `mapstructure:"timezone"`
	MaxTxAttempts            int           `mapstructure:"maxTxAttempts"`
	AutoEvaluateAchievements bool          `mapstructure:"autoEvaluateAchievements"`
	CatalogRefresh           time.Duration `mapstructure:"catalogRefresh"`
}

func DefaultConfig() Config {
	return Config{
		DailyBaseReward:          10,
		DailyStreakBonus:         5,
		DailyStreakPeriod:        7,
		DailyXP:                  5,
		ReferralDirectCoins:      100,
		ReferralDirectXP:         20,
		ReferralIndirectCoins:    50,
		ReferralIndirectXP:       10,
		SpinRewards:              []int64{5, 10, 15, 20, 25, 50, 75, 100},
		WithdrawalMinAmount:      100,
		WithdrawalFeePercent:     2,
		Timezone:                 "UTC",
		MaxTxAttempts:            3,
		AutoEvaluateAchievements: true,
		CatalogRefresh:           time.Minute,
	}
}

func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if len(c.SpinRewards) == 0 {
		return errors.New("spin reward table is empty")
	}
	for _, r := range c.SpinRewards {
		if r < 0 {
			return fmt.Errorf("negative spin reward %d", r)
		}
	}
	if c.DailyStreakPeriod < 1 {
		return errors.New("daily streak period must be at least 1")
	}
	if c.WithdrawalMinAmount < 1 {
		return errors.New("withdrawalMinAmount must be at least 1")
	}
	if c.WithdrawalFeePercent < 0 || c.WithdrawalFeePercent > 100 {
		return fmt.Errorf("withdrawalFeePercent %d is outside 0..100", c.WithdrawalFeePercent)
	}
	if c.MaxTxAttempts < 1 {
		return errors.New("maxTxAttempts must be at least 1")
	}
	return nil
}

func (c Config) location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CatalogReader hands out the current catalog snapshot.
type CatalogReader interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// SpinLimiter decides whether a user may spin right now.
type SpinLimiter interface {
	Allow(userID int64) bool
}

type UserServiceI interface {
	RegisterUser(ctx context.Context, params RegisterParams, now time.Time) (*RegisterResult, error)
	RecordLogin(ctx context.Context, telegramID int64, now time.Time) (*LoginResult, error)
	GetUser(ctx context.Context, telegramID int64) (*model.User, error)
	SetBanned(ctx context.Context, telegramID int64, banned bool) error
	DeductBalance(ctx context.Context, telegramID int64, amount int64, reason string) (*model.User, error)
}

type TaskServiceI interface {
	GrantTaskCompletion(ctx context.Context, telegramID int64, taskID uuid.UUID, proof string) (*CompletionResult, error)
	VerifyCompletion(ctx context.Context, completionID uuid.UUID, verifierID int64, now time.Time) (*CompletionResult, error)
	RejectCompletion(ctx context.Context, completionID uuid.UUID, verifierID int64, notes string, now time.Time) (*model.TaskCompletion, error)
}

type ReferralServiceI interface {
	ApplyReferralCode(ctx context.Context, telegramID int64, code string) (*ReferralResult, error)
}

type DailyRewardServiceI interface {
	ClaimDailyReward(ctx context.Context, telegramID int64, now time.Time) (*DailyRewardResult, error)
	Spin(ctx context.Context, telegramID int64) (*SpinResult, error)
	GetDailyStatus(ctx context.Context, telegramID int64, now time.Time) (*model.DailyStatus, error)
}

type WithdrawalServiceI interface {
	RequestWithdrawal(ctx context.Context, telegramID int64, req WithdrawalRequest) (*WithdrawalResult, error)
	CancelWithdrawal(ctx context.Context, telegramID int64, withdrawalID uuid.UUID) (*WithdrawalResult, error)
	ProcessWithdrawal(ctx context.Context, withdrawalID uuid.UUID, decision WithdrawalDecision, now time.Time) (*WithdrawalResult, error)
	GetWithdrawal(ctx context.Context, telegramID int64, withdrawalID uuid.UUID) (*model.Withdrawal, error)
}

type AchievementServiceI interface {
	EvaluateAchievements(ctx context.Context, telegramID int64) ([]uuid.UUID, error)
}

type Service struct {
	*UserService
	*TaskService
	*ReferralService
	*DailyRewardService
	*AchievementService
	*WithdrawalService
}

// NewService wires every engine service over one store and catalog. A nil
// limiter falls back to a per-user limiter built from SpinsPerMinute and
// SpinBurst, or to no limit when SpinsPerMinute is 0.
func NewService(store ledger.Store, cat CatalogReader, cfg Config, limiter SpinLimiter) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if limiter == nil && cfg.SpinsPerMinute > 0 {
		limiter = ratelimit.NewPerUser(cfg.SpinsPerMinute, cfg.SpinBurst)
	}

	achievements := NewAchievementService(store, cat, cfg)
	referrals := NewReferralService(store, achievements, cfg)

	return &Service{
		UserService:        NewUserService(store, achievements, referrals, cfg),
		TaskService:        NewTaskService(store, cat, achievements, cfg),
		ReferralService:    referrals,
		DailyRewardService: NewDailyRewardService(store, achievements, cfg, limiter),
		AchievementService: achievements,
		WithdrawalService:  NewWithdrawalService(store, cfg),
	}, nil
}
