package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskDaily    TaskType = "daily"
	TaskWeekly   TaskType = "weekly"
	TaskSocial   TaskType = "social"
	TaskQuiz     TaskType = "quiz"
	TaskSurvey   TaskType = "survey"
	TaskReferral TaskType = "referral"
	TaskSpecial  TaskType = "special"
)

func ParseTaskType(s string) (TaskType, error) {
	switch t := TaskType(s); t {
	case TaskDaily, TaskWeekly, TaskSocial, TaskQuiz, TaskSurvey, TaskReferral, TaskSpecial:
		return t, nil
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

type VerificationMethod string

const (
	VerifyAuto   VerificationMethod = "auto"
	VerifyManual VerificationMethod = "manual"
)

func ParseVerificationMethod(s string) (VerificationMethod, error) {
	switch m := VerificationMethod(s); m {
	case VerifyAuto, VerifyManual:
		return m, nil
	}
	return "", fmt.Errorf("unknown verification method %q", s)
}

type Reward struct {
	Coins int64
	XP    int
}

type Requirement struct {
	Action             string             `json:"action,omitempty"`
	Link               string             `json:"link,omitempty"`
	VerificationMethod VerificationMethod `json:"verificationMethod"`
}

type Task struct {
	TaskID                uuid.UUID
	Title                 string
	Description           string
	Type                  TaskType
	Reward                Reward
	Requirement           Requirement
	MaxCompletions        int
	TotalCompletionsLimit *int
	CurrentCompletions    int
	IsActive              bool
	StartDate             *time.Time
	EndDate               *time.Time
}

// AvailableAt reports whether the task is active and now falls inside its window.
func (t *Task) AvailableAt(now time.Time) bool {
	if !t.IsActive {
		return false
	}
	if t.StartDate != nil && now.Before(*t.StartDate) {
		return false
	}
	if t.EndDate != nil && now.After(*t.EndDate) {
		return false
	}
	return true
}

type CompletionStatus string

const (
	CompletionPending  CompletionStatus = "pending"
	CompletionVerified CompletionStatus = "verified"
	CompletionRejected CompletionStatus = "rejected"
)

type TaskCompletion struct {
	CompletionID uuid.UUID
	UserID       int64
	TaskID       uuid.UUID
	Status       CompletionStatus
	Proof        string
	RewardGiven  *Reward
	VerifiedBy   *int64
	VerifiedAt   *time.Time
	Notes        string
	CompletedAt  time.Time
}
