package repository

import (
	"context"
	"fmt"
	"time"

	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type task struct {
	TaskID                uuid.UUID  `db:"task_id"`
	Title                 string     `db:"title"`
	Description           string     `db:"description"`
	Type                  string     `db:"type"`
	RewardCoins           int64      `db:"reward_coins"`
	RewardXP              int        `db:"reward_xp"`
	Requirement           []byte     `db:"requirement"`
	MaxCompletions        int        `db:"max_completions"`
	TotalCompletionsLimit *int       `db:"total_completions_limit"`
	CurrentCompletions    int        `db:"current_completions"`
	IsActive              bool       `db:"is_active"`
	StartDate             *time.Time `db:"start_date"`
	EndDate               *time.Time `db:"end_date"`
}

type achievement struct {
	AchievementID  uuid.UUID `db:"achievement_id"`
	Name           string    `db:"name"`
	Description    string    `db:"description"`
	ConditionType  string    `db:"condition_type"`
	ConditionValue int64     `db:"condition_value"`
	RewardCoins    int64     `db:"reward_coins"`
	RewardXP       int       `db:"reward_xp"`
	IsActive       bool      `db:"is_active"`
}

func (t *task) toModel() (*model.Task, error) {
	taskType, err := model.ParseTaskType(t.Type)
	if err != nil {
		return nil, err
	}

	var req model.Requirement
	if len(t.Requirement) > 0 {
		if err := json.Unmarshal(t.Requirement, &req); err != nil {
			return nil, fmt.Errorf("failed to decode requirement: %w", err)
		}
	}
	if req.VerificationMethod == "" {
		req.VerificationMethod = model.VerifyAuto
	}
	if _, err := model.ParseVerificationMethod(string(req.VerificationMethod)); err != nil {
		return nil, err
	}

	return &model.Task{
		TaskID:                t.TaskID,
		Title:                 t.Title,
		Description:           t.Description,
		Type:                  taskType,
		Reward:                model.Reward{Coins: t.RewardCoins, XP: t.RewardXP},
		Requirement:           req,
		MaxCompletions:        t.MaxCompletions,
		TotalCompletionsLimit: t.TotalCompletionsLimit,
		CurrentCompletions:    t.CurrentCompletions,
		IsActive:              t.IsActive,
		StartDate:             t.StartDate,
		EndDate:               t.EndDate,
	}, nil
}

func (a *achievement) toModel() (*model.Achievement, error) {
	condType, err := model.ParseConditionType(a.ConditionType)
	if err != nil {
		return nil, err
	}
	return &model.Achievement{
		AchievementID: a.AchievementID,
		Name:          a.Name,
		Description:   a.Description,
		Condition:     model.Condition{Type: condType, Value: a.ConditionValue},
		Reward:        model.Reward{Coins: a.RewardCoins, XP: a.RewardXP},
		IsActive:      a.IsActive,
	}, nil
}

// LoadCatalog implements catalog.Source. Inactive tasks are included so the
// engine can tell an unknown task from an unavailable one.
func (r *Repository) LoadCatalog(ctx context.Context) (*catalog.Snapshot, error) {
	tasksQuery, tasksArgs, err := squirrel.
		Select(
			"task_id", "title", "description", "type", "reward_coins", "reward_xp",
			"requirement", "max_completions", "total_completions_limit", "current_completions",
			"is_active", "start_date", "end_date",
		).
		From("tasks").
		OrderBy("task_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build tasks query: %w", err)
	}

	var taskRows []task
	if err := r.db.SelectContext(ctx, &taskRows, tasksQuery, tasksArgs...); err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}

	achQuery, achArgs, err := squirrel.
		Select(
			"achievement_id", "name", "description", "condition_type", "condition_value",
			"reward_coins", "reward_xp", "is_active",
		).
		From("achievements").
		Where(squirrel.Eq{"is_active": true}).
		OrderBy("condition_value", "achievement_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build achievements query: %w", err)
	}

	var achRows []achievement
	if err := r.db.SelectContext(ctx, &achRows, achQuery, achArgs...); err != nil {
		return nil, fmt.Errorf("failed to get achievements: %w", err)
	}

	tasks := make([]*model.Task, 0, len(taskRows))
	for i := range taskRows {
		t, err := taskRows[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", taskRows[i].TaskID, err)
		}
		tasks = append(tasks, t)
	}

	achievements := make([]*model.Achievement, 0, len(achRows))
	for i := range achRows {
		a, err := achRows[i].toModel()
		if err != nil {
			return nil, fmt.Errorf("achievement %s: %w", achRows[i].AchievementID, err)
		}
		achievements = append(achievements, a)
	}

	return catalog.NewSnapshot(tasks, achievements, time.Now()), nil
}
