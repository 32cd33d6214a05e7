// Package mocks holds testify mocks for the engine's collaborators.
package mocks

import (
	"context"

	"onehunt_rewards/internal/catalog"
	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type TxFunc = func(ctx context.Context, tx ledger.Tx) error

type MockLedgerStore struct {
	mock.Mock
}

// WithinTx returns the configured error, or calls the configured
// func(context.Context, TxFunc) error to run fn against a real transaction.
func (m *MockLedgerStore) WithinTx(ctx context.Context, fn TxFunc) error {
	args := m.Called(ctx, fn)
	if run, ok := args.Get(0).(func(context.Context, TxFunc) error); ok {
		return run(ctx, fn)
	}
	return args.Error(0)
}

type MockTx struct {
	mock.Mock
}

func (m *MockTx) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	args := m.Called(ctx, telegramID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockTx) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	args := m.Called(ctx, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}

func (m *MockTx) CreateUser(ctx context.Context, user *model.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockTx) SaveUser(ctx context.Context, user *model.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockTx) AppendEvent(ctx context.Context, event *model.RewardEvent) error {
	return m.Called(ctx, event).Error(0)
}

func (m *MockTx) CountCompletions(ctx context.Context, telegramID int64, taskID uuid.UUID, statuses ...model.CompletionStatus) (int, error) {
	args := m.Called(ctx, telegramID, taskID, statuses)
	return args.Int(0), args.Error(1)
}

func (m *MockTx) CreateCompletion(ctx context.Context, completion *model.TaskCompletion) error {
	return m.Called(ctx, completion).Error(0)
}

func (m *MockTx) GetCompletion(ctx context.Context, completionID uuid.UUID) (*model.TaskCompletion, error) {
	args := m.Called(ctx, completionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TaskCompletion), args.Error(1)
}

func (m *MockTx) UpdateCompletion(ctx context.Context, completion *model.TaskCompletion) error {
	return m.Called(ctx, completion).Error(0)
}

func (m *MockTx) IncrementTaskCompletions(ctx context.Context, taskID uuid.UUID, limit *int) error {
	return m.Called(ctx, taskID, limit).Error(0)
}

func (m *MockTx) CreateWithdrawal(ctx context.Context, withdrawal *model.Withdrawal) error {
	return m.Called(ctx, withdrawal).Error(0)
}

func (m *MockTx) GetWithdrawal(ctx context.Context, withdrawalID uuid.UUID) (*model.Withdrawal, error) {
	args := m.Called(ctx, withdrawalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Withdrawal), args.Error(1)
}

func (m *MockTx) UpdateWithdrawal(ctx context.Context, withdrawal *model.Withdrawal) error {
	return m.Called(ctx, withdrawal).Error(0)
}

type MockCatalogReader struct {
	mock.Mock
}

func (m *MockCatalogReader) Snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*catalog.Snapshot), args.Error(1)
}
