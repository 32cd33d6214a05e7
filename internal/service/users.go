package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"
	"onehunt_rewards/internal/progression"
	"onehunt_rewards/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const referralCodeAttempts = 5

type RegisterParams struct {
	TelegramID   int64
	Username     string
	FirstName    string
	LastName     string
	ReferralCode string
}

type RegisterResult struct {
	User *model.User
	// Referral is nil when no code was given or the code was unknown.
	Referral *ReferralResult
}

type LoginResult struct {
	User                 *model.User
	Streak               int
	Change               progression.StreakChange
	UnlockedAchievements []uuid.UUID
}

type UserService struct {
	runner       *runner
	achievements *AchievementService
	referrals    *ReferralService
	loc          *time.Location
	newCode      func() (string, error)
	clock        func() time.Time
}

func NewUserService(store ledger.Store, achievements *AchievementService, referrals *ReferralService, cfg Config) *UserService {
	return &UserService{
		runner:       newRunner(store, cfg.MaxTxAttempts),
		achievements: achievements,
		referrals:    referrals,
		loc:          cfg.location(),
		newCode:      newReferralCode,
		clock:        time.Now,
	}
}

// newReferralCode returns 8 upper-case hex characters.
func newReferralCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func (s *UserService) uniqueReferralCode(ctx context.Context, tx ledger.Tx) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("failed to generate referral code: %w", err)
		}
		_, err = tx.GetUserByReferralCode(ctx, code)
		if errors.Is(err, ledger.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check referral code: %w", err)
		}
	}
	return "", fmt.Errorf("no free referral code after %d attempts", referralCodeAttempts)
}

// RegisterUser creates a user and, when a referral code is given, runs the
// referral cascade in the same transaction. Unknown codes are ignored.
func (s *UserService) RegisterUser(ctx context.Context, params RegisterParams, now time.Time) (*RegisterResult, error) {
	var snap *catalog.Snapshot
	if strings.TrimSpace(params.ReferralCode) != "" {
		var err error
		if snap, err = s.achievements.autoSnapshot(ctx); err != nil {
			return nil, err
		}
	}

	var result *RegisterResult
	err := s.runner.run(ctx, "register_user", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		_, err := tx.GetUser(ctx, params.TelegramID)
		switch {
		case err == nil:
			return ErrUserExists
		case !errors.Is(err, ledger.ErrNotFound):
			return fmt.Errorf("failed to check user: %w", err)
		}

		code, err := s.uniqueReferralCode(ctx, tx)
		if err != nil {
			return err
		}

		// registration counts as the first login
		loggedIn := now
		user := &model.User{
			TelegramID:       params.TelegramID,
			Username:         params.Username,
			FirstName:        params.FirstName,
			LastName:         params.LastName,
			ReferralCode:     code,
			Level:            1,
			Streak:           1,
			LastLoginDate:    &loggedIn,
			IsActive:         true,
			RegistrationDate: now,
		}
		if err := tx.CreateUser(ctx, user); err != nil {
			if errors.Is(err, ledger.ErrDuplicate) {
				// A concurrent registration took the ID or the code. The next
				// attempt re-reads both and reports ErrUserExists or draws a new code.
				return fmt.Errorf("%w: %w", ledger.ErrTxConflict, err)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		result = &RegisterResult{User: user}

		if strings.TrimSpace(params.ReferralCode) == "" {
			return nil
		}

		referral, err := s.referrals.apply(ctx, tx, events, snap, user.TelegramID, params.ReferralCode, now)
		switch {
		case errors.Is(err, ErrInvalidReferralCode):
			logger.Logger().Warn("Ignoring unknown referral code at registration",
				zap.Int64("user_id", user.TelegramID),
				zap.String("referral_code", params.ReferralCode),
			)
			return nil
		case err != nil:
			return err
		}
		result.User = referral.Applicant
		result.Referral = referral
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Logger().Info("User registered",
		zap.Int64("user_id", result.User.TelegramID),
		zap.Bool("referred", result.Referral != nil),
	)
	return result, nil
}

// RecordLogin advances the login streak. A repeat login on the same day only
// re-runs the achievement check.
func (s *UserService) RecordLogin(ctx context.Context, telegramID int64, now time.Time) (*LoginResult, error) {
	snap, err := s.achievements.autoSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var result *LoginResult
	err = s.runner.run(ctx, "record_login", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		change := progression.UpdateLoginStreak(u, now, s.loc)
		unlocked, err := s.achievements.afterMutation(ctx, tx, events, u, snap, now)
		if err != nil {
			return err
		}
		if change != progression.StreakUnchanged || len(unlocked) > 0 {
			if err := saveUser(ctx, tx, u); err != nil {
				return err
			}
		}

		result = &LoginResult{User: u, Streak: u.Streak, Change: change, UnlockedAchievements: unlocked}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *UserService) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	var user *model.User
	err := s.runner.run(ctx, "get_user", func(ctx context.Context, tx ledger.Tx, _ *eventBuffer) error {
		var err error
		user, err = loadUser(ctx, tx, telegramID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// SetBanned flags or unflags a user. Banned users keep their ledger but every
// mutating operation refuses them.
func (s *UserService) SetBanned(ctx context.Context, telegramID int64, banned bool) error {
	return s.runner.run(ctx, "set_banned", func(ctx context.Context, tx ledger.Tx, _ *eventBuffer) error {
		u, err := loadUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}
		if u.IsBanned == banned {
			return nil
		}
		u.IsBanned = banned
		return saveUser(ctx, tx, u)
	})
}

// DeductBalance withdraws amount coins and records a negative deduction event.
func (s *UserService) DeductBalance(ctx context.Context, telegramID int64, amount int64, reason string) (*model.User, error) {
	if amount <= 0 {
		observeRejected("deduct_balance", ErrInvalidAmount)
		return nil, ErrInvalidAmount
	}

	now := s.clock()

	var user *model.User
	err := s.runner.run(ctx, "deduct_balance", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		user = nil

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}
		if err := progression.Debit(u, amount); err != nil {
			return err
		}

		event := &model.RewardEvent{
			EventID:     uuid.New(),
			UserID:      u.TelegramID,
			Type:        model.EventDeduction,
			Amount:      -amount,
			Description: reason,
			CreatedAt:   now,
		}
		if err := events.append(ctx, tx, event); err != nil {
			return err
		}
		if err := saveUser(ctx, tx, u); err != nil {
			return err
		}

		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
