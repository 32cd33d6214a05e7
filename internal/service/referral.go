package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
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

type ReferralResult struct {
	Applicant *model.User
	Referrer  *model.User
	// IndirectReferrer is nil when the referrer has no upstream referrer or
	// that referrer can no longer be rewarded.
	IndirectReferrer *model.User
	Events           []model.RewardEvent
	// UnlockedAchievements maps a rewarded user to what the cascade unlocked for them.
	UnlockedAchievements map[int64][]uuid.UUID
}

type ReferralService struct {
	runner       *runner
	achievements *AchievementService
	cfg          Config
	clock        func() time.Time
}

func NewReferralService(store ledger.Store, achievements *AchievementService, cfg Config) *ReferralService {
	return &ReferralService{
		runner:       newRunner(store, cfg.MaxTxAttempts),
		achievements: achievements,
		cfg:          cfg,
		clock:        time.Now,
	}
}

func (s *ReferralService) ApplyReferralCode(ctx context.Context, telegramID int64, code string) (*ReferralResult, error) {
	now := s.clock()

	snap, err := s.achievements.autoSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var result *ReferralResult
	err = s.runner.run(ctx, "apply_referral_code", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		var err error
		result, err = s.apply(ctx, tx, events, snap, telegramID, code, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func normalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// apply runs the two-tier cascade inside tx. Nothing is written before the code
// resolves to an eligible referrer.
func (s *ReferralService) apply(ctx context.Context, tx ledger.Tx, events *eventBuffer, snap *catalog.Snapshot, applicantID int64, code string, now time.Time) (*ReferralResult, error) {
	code = normalizeReferralCode(code)
	if code == "" {
		return nil, ErrInvalidReferralCode
	}

	applicant, err := loadMutableUser(ctx, tx, applicantID)
	if err != nil {
		return nil, err
	}
	if applicant.ReferredBy != nil {
		return nil, ErrAlreadyReferred
	}

	referrer, err := tx.GetUserByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrInvalidReferralCode
		}
		return nil, fmt.Errorf("failed to resolve referral code: %w", err)
	}
	if referrer.TelegramID == applicant.TelegramID {
		return nil, ErrSelfReferral
	}
	if !referrer.CanMutate() {
		return nil, ErrInvalidReferralCode
	}
	if referrer.ReferredBy != nil && *referrer.ReferredBy == applicant.TelegramID {
		return nil, ErrReferralCycle
	}

	result := &ReferralResult{UnlockedAchievements: make(map[int64][]uuid.UUID)}
	relatedApplicant := applicant.TelegramID

	referrerID := referrer.TelegramID
	applicant.ReferredBy = &referrerID
	if err := saveUser(ctx, tx, applicant); err != nil {
		return nil, err
	}
	result.Applicant = applicant

	direct := model.Reward{Coins: s.cfg.ReferralDirectCoins, XP: s.cfg.ReferralDirectXP}
	if !slices.Contains(referrer.DirectReferrals, applicant.TelegramID) {
		referrer.DirectReferrals = append(referrer.DirectReferrals, applicant.TelegramID)
	}
	if err := s.reward(ctx, tx, events, snap, result, referrer, direct, &relatedApplicant, "Direct referral bonus", now); err != nil {
		return nil, err
	}
	result.Referrer = referrer

	if referrer.ReferredBy == nil {
		return result, nil
	}

	indirect, err := tx.GetUser(ctx, *referrer.ReferredBy)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		logger.Logger().Warn("Indirect referrer missing, skipping",
			zap.Int64("referrer_id", referrer.TelegramID),
			zap.Int64("indirect_referrer_id", *referrer.ReferredBy),
		)
		return result, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get indirect referrer: %w", err)
	}
	if !indirect.CanMutate() {
		logger.Logger().Info("Indirect referrer is inactive, skipping bonus",
			zap.Int64("indirect_referrer_id", indirect.TelegramID),
		)
		return result, nil
	}

	indirectReward := model.Reward{Coins: s.cfg.ReferralIndirectCoins, XP: s.cfg.ReferralIndirectXP}
	if !slices.Contains(indirect.IndirectReferrals, applicant.TelegramID) {
		indirect.IndirectReferrals = append(indirect.IndirectReferrals, applicant.TelegramID)
	}
	if err := s.reward(ctx, tx, events, snap, result, indirect, indirectReward, &relatedApplicant, "Indirect referral bonus", now); err != nil {
		return nil, err
	}
	result.IndirectReferrer = indirect

	return result, nil
}

// reward grants one tier of the cascade to u, evaluates achievements and saves u.
func (s *ReferralService) reward(ctx context.Context, tx ledger.Tx, events *eventBuffer, snap *catalog.Snapshot, result *ReferralResult, u *model.User, r model.Reward, related *int64, description string, now time.Time) error {
	progression.Grant(u, r)

	event := &model.RewardEvent{
		EventID:         uuid.New(),
		UserID:          u.TelegramID,
		Type:            model.EventReferral,
		Amount:          r.Coins,
		XP:              r.XP,
		Description:     description,
		RelatedReferral: related,
		CreatedAt:       now,
	}
	if err := events.append(ctx, tx, event); err != nil {
		return err
	}
	result.Events = append(result.Events, *event)

	unlocked, err := s.achievements.afterMutation(ctx, tx, events, u, snap, now)
	if err != nil {
		return err
	}
	if len(unlocked) > 0 {
		result.UnlockedAchievements[u.TelegramID] = unlocked
	}
	return saveUser(ctx, tx, u)
}
