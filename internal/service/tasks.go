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

	"github.com/google/uuid"
)

type CompletionResult struct {
	Completion *model.TaskCompletion
	// User and Event are nil while the completion awaits manual verification.
	User                 *model.User
	Event                *model.RewardEvent
	UnlockedAchievements []uuid.UUID
}

type TaskService struct {
	runner       *runner
	catalog      CatalogReader
	achievements *AchievementService
	clock        func() time.Time
}

func NewTaskService(store ledger.Store, cat CatalogReader, achievements *AchievementService, cfg Config) *TaskService {
	return &TaskService{
		runner:       newRunner(store, cfg.MaxTxAttempts),
		catalog:      cat,
		achievements: achievements,
		clock:        time.Now,
	}
}

func perUserCap(task *model.Task) int {
	if task.MaxCompletions < 1 {
		return 1
	}
	return task.MaxCompletions
}

func taskFrom(snap *catalog.Snapshot, taskID uuid.UUID) (*model.Task, error) {
	task, ok := snap.Task(taskID)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return &task, nil
}

// GrantTaskCompletion records an attempt at a task. Auto-verified tasks pay out
// immediately; manual ones stay pending until VerifyCompletion or RejectCompletion.
func (s *TaskService) GrantTaskCompletion(ctx context.Context, telegramID int64, taskID uuid.UUID, proof string) (*CompletionResult, error) {
	now := s.clock()

	snap, err := loadSnapshot(ctx, s.catalog)
	if err != nil {
		return nil, err
	}
	task, err := taskFrom(snap, taskID)
	if err != nil {
		observeRejected("grant_task_completion", err)
		return nil, err
	}

	var result *CompletionResult
	err = s.runner.run(ctx, "grant_task_completion", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		u, err := loadMutableUser(ctx, tx, telegramID)
		if err != nil {
			return err
		}
		if !task.AvailableAt(now) {
			return ErrTaskUnavailable
		}

		n, err := tx.CountCompletions(ctx, u.TelegramID, task.TaskID, model.CompletionPending, model.CompletionVerified)
		if err != nil {
			return fmt.Errorf("failed to count completions: %w", err)
		}
		if n >= perUserCap(task) {
			return ErrTaskAlreadyCompleted
		}

		completion := &model.TaskCompletion{
			CompletionID: uuid.New(),
			UserID:       u.TelegramID,
			TaskID:       task.TaskID,
			Status:       model.CompletionPending,
			Proof:        proof,
			CompletedAt:  now,
		}

		if task.Requirement.VerificationMethod == model.VerifyManual {
			if err := tx.CreateCompletion(ctx, completion); err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			result = &CompletionResult{Completion: completion}
			return nil
		}

		event, unlocked, err := s.grant(ctx, tx, events, u, task, completion, snap, now)
		if err != nil {
			return err
		}
		if err := tx.CreateCompletion(ctx, completion); err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}

		result = &CompletionResult{Completion: completion, User: u, Event: event, UnlockedAchievements: unlocked}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// VerifyCompletion moves a pending completion to verified and pays the task's
// current reward.
func (s *TaskService) VerifyCompletion(ctx context.Context, completionID uuid.UUID, verifierID int64, now time.Time) (*CompletionResult, error) {
	snap, err := loadSnapshot(ctx, s.catalog)
	if err != nil {
		return nil, err
	}

	var result *CompletionResult
	err = s.runner.run(ctx, "verify_completion", func(ctx context.Context, tx ledger.Tx, events *eventBuffer) error {
		result = nil

		completion, err := s.pendingCompletion(ctx, tx, completionID)
		if err != nil {
			return err
		}

		task, err := taskFrom(snap, completion.TaskID)
		if err != nil {
			return err
		}

		u, err := loadMutableUser(ctx, tx, completion.UserID)
		if err != nil {
			return err
		}

		verified, err := tx.CountCompletions(ctx, u.TelegramID, task.TaskID, model.CompletionVerified)
		if err != nil {
			return fmt.Errorf("failed to count completions: %w", err)
		}
		if verified >= perUserCap(task) {
			return ErrTaskAlreadyCompleted
		}

		verifier := verifierID
		completion.VerifiedBy = &verifier
		event, unlocked, err := s.grant(ctx, tx, events, u, task, completion, snap, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateCompletion(ctx, completion); err != nil {
			return fmt.Errorf("failed to update completion: %w", err)
		}

		result = &CompletionResult{Completion: completion, User: u, Event: event, UnlockedAchievements: unlocked}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TaskService) RejectCompletion(ctx context.Context, completionID uuid.UUID, verifierID int64, notes string, now time.Time) (*model.TaskCompletion, error) {
	var result *model.TaskCompletion
	err := s.runner.run(ctx, "reject_completion", func(ctx context.Context, tx ledger.Tx, _ *eventBuffer) error {
		result = nil

		completion, err := s.pendingCompletion(ctx, tx, completionID)
		if err != nil {
			return err
		}

		verifier := verifierID
		stamp := now
		completion.Status = model.CompletionRejected
		completion.VerifiedBy = &verifier
		completion.VerifiedAt = &stamp
		completion.Notes = notes
		if err := tx.UpdateCompletion(ctx, completion); err != nil {
			return fmt.Errorf("failed to update completion: %w", err)
		}

		result = completion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *TaskService) pendingCompletion(ctx context.Context, tx ledger.Tx, completionID uuid.UUID) (*model.TaskCompletion, error) {
	completion, err := tx.GetCompletion(ctx, completionID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, ErrCompletionNotFound
		}
		return nil, fmt.Errorf("failed to get completion: %w", err)
	}
	if completion.Status != model.CompletionPending {
		return nil, ErrCompletionFinalized
	}
	return completion, nil
}

// grant verifies completion, pays the reward snapshot to u and saves u.
// Persisting the completion itself is left to the caller.
func (s *TaskService) grant(ctx context.Context, tx ledger.Tx, events *eventBuffer, u *model.User, task *model.Task, completion *model.TaskCompletion, snap *catalog.Snapshot, now time.Time) (*model.RewardEvent, []uuid.UUID, error) {
	if err := tx.IncrementTaskCompletions(ctx, task.TaskID, task.TotalCompletionsLimit); err != nil {
		switch {
		case errors.Is(err, ledger.ErrLimitReached):
			return nil, nil, ErrTaskExhausted
		case errors.Is(err, ledger.ErrNotFound):
			return nil, nil, ErrTaskNotFound
		}
		return nil, nil, fmt.Errorf("failed to increment task completions: %w", err)
	}

	reward := task.Reward
	stamp := now
	completion.Status = model.CompletionVerified
	completion.RewardGiven = &reward
	completion.VerifiedAt = &stamp

	progression.Grant(u, reward)
	u.TasksCompleted++

	taskID := task.TaskID
	event := &model.RewardEvent{
		EventID:     uuid.New(),
		UserID:      u.TelegramID,
		Type:        model.EventTaskCompletion,
		Amount:      reward.Coins,
		XP:          reward.XP,
		Description: "Task completed: " + task.Title,
		RelatedTask: &taskID,
		CreatedAt:   now,
	}
	if err := events.append(ctx, tx, event); err != nil {
		return nil, nil, err
	}

	unlocked, err := s.achievements.afterMutation(ctx, tx, events, u, snap, now)
	if err != nil {
		return nil, nil, err
	}
	if err := saveUser(ctx, tx, u); err != nil {
		return nil, nil, err
	}
	return event, unlocked, nil
}
