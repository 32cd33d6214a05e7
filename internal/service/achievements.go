package service

import (
	"context"
	"fmt"
	"time"

	"onehunt_rewards/internal/achievement"
	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"

	"github.com/google/uuid"
)

type AchievementService struct {
	runner  *runner
	catalog CatalogReader
	auto    bool
	clock   func() time.Time
}

func NewAchievementService(store ledger.Store, cat CatalogReader, cfg Config) *AchievementService {
	return &AchievementService{
		runner:  newRunner(store, cfg.MaxTxAttempts),
		catalog: cat,
		auto:    cfg.AutoEvaluateAchievements,
		clock:   time.Now,
	}
}

// EvaluateAchievements unlocks everything the user currently qualifies for and
// returns the newly unlocked IDs. The user is only written when something unlocks.
func (s *AchievementService) EvaluateAchievements(ctx context.Context, telegramID int64) ([]uuid.UUID, error) {
	now := s.clock()

	snap, err := loadSnapshot(ctx, s.catalog)
	if err != nil {
		return nil, err
	}

	var unlocked []uuid.UUID
	err = s.runner.run(ctx, "evaluate_achievements", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		unlocked = nil

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}

		ids, err := s.evaluate(ctx, tx, events, u, snap, now)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		unlocked = ids
		return saveUser(ctx, tx, u)
	})
	if err != nil {
		return nil, err
	}
	return unlocked, nil
}

// evaluate applies one evaluator pass to u and appends an event per unlock.
// Saving u is left to the caller.
func (s *AchievementService) evaluate(ctx context.Context, tx ledger.Tx, events *eventBuffer, u *model.User, snap *catalog.Snapshot, now time.Time) ([]uuid.UUID, error) {
	unlocks, err := achievement.Evaluate(u, snap.Achievements(), now)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate achievements for user %d: %w", u.TelegramID, err)
	}

	ids := make([]uuid.UUID, 0, len(unlocks))
	for _, unlock := range unlocks {
		unlock.Event.EventID = uuid.New()
		if err := events.append(ctx, tx, unlock.Event); err != nil {
			return nil, err
		}
		ids = append(ids, unlock.Achievement.AchievementID)
	}
	return ids, nil
}

// autoSnapshot returns the catalog an operation evaluates against, or nil when
// automatic evaluation is off. It must be called outside the unit of work.
func (s *AchievementService) autoSnapshot(ctx context.Context) (*catalog.Snapshot, error) {
	if s == nil || !s.auto {
		return nil, nil
	}
	return loadSnapshot(ctx, s.catalog)
}

// afterMutation runs an evaluation pass when automatic evaluation is enabled.
func (s *AchievementService) afterMutation(ctx context.Context, tx ledger.Tx, events *eventBuffer, u *model.User, snap *catalog.Snapshot, now time.Time) ([]uuid.UUID, error) {
	if s == nil || !s.auto || snap == nil {
		return nil, nil
	}
	return s.evaluate(ctx, tx, events, u, snap, now)
}

func loadSnapshot(ctx context.Context, cat CatalogReader) (*catalog.Snapshot, error) {
	snap, err := cat.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return snap, nil
}
