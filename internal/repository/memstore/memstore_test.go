package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUser(id int64, code string) *model.User {
	return &model.User{TelegramID: id, ReferralCode: code, Level: 1, IsActive: true}
}

func TestWithinTx_CommitsOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		u := newUser(1, "AAAA0001")
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		u.Balance = 10
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &model.RewardEvent{UserID: 1, Type: model.EventBonus, Amount: 10})
	})
	require.NoError(t, err)

	u, ok := s.User(1)
	require.True(t, ok)
	assert.Equal(t, int64(10), u.Balance)

	events := s.Events(1)
	require.Len(t, events, 1)
	assert.NotEqual(t, uuid.Nil, events[0].EventID)
	assert.Empty(t, s.BalanceDrift())
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	s := New()
	s.PutUser(newUser(1, "AAAA0001"))
	taskID := uuid.New()
	s.PutTask(&model.Task{TaskID: taskID, IsActive: true})
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, 1)
		require.NoError(t, err)
		u.Balance = 500
		require.NoError(t, tx.SaveUser(ctx, u))
		require.NoError(t, tx.AppendEvent(ctx, &model.RewardEvent{UserID: 1, Amount: 500}))
		require.NoError(t, tx.CreateCompletion(ctx, &model.TaskCompletion{UserID: 1, TaskID: taskID, Status: model.CompletionVerified}))
		require.NoError(t, tx.IncrementTaskCompletions(ctx, taskID, nil))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, _ := s.User(1)
	assert.Equal(t, int64(0), u.Balance)
	assert.Empty(t, s.Events(1))
	assert.Empty(t, s.Completions(1, taskID))
	task, _ := s.Task(taskID)
	assert.Equal(t, 0, task.CurrentCompletions)
}

func TestWithinTx_CancelledContextDiscards(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())

	err := s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, tx.CreateUser(ctx, newUser(7, "AAAA0007")))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, ok := s.User(7)
	assert.False(t, ok)
}

func TestTx_ReadsOwnWrites(t *testing.T) {
	s := New()
	s.PutUser(newUser(1, "AAAA0001"))
	taskID := uuid.New()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, tx.CreateUser(ctx, newUser(2, "BBBB0002")))

		byCode, err := tx.GetUserByReferralCode(ctx, "BBBB0002")
		require.NoError(t, err)
		assert.Equal(t, int64(2), byCode.TelegramID)

		c := &model.TaskCompletion{UserID: 2, TaskID: taskID, Status: model.CompletionPending}
		require.NoError(t, tx.CreateCompletion(ctx, c))

		n, err := tx.CountCompletions(ctx, 2, taskID, model.CompletionPending, model.CompletionVerified)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		n, err = tx.CountCompletions(ctx, 2, taskID, model.CompletionVerified)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		c.Status = model.CompletionVerified
		require.NoError(t, tx.UpdateCompletion(ctx, c))
		got, err := tx.GetCompletion(ctx, c.CompletionID)
		require.NoError(t, err)
		assert.Equal(t, model.CompletionVerified, got.Status)

		n, err = tx.CountCompletions(ctx, 2, taskID, model.CompletionVerified)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)
}

func TestTx_Errors(t *testing.T) {
	s := New()
	s.PutUser(newUser(1, "AAAA0001"))
	taskID := uuid.New()
	limit := 1
	s.PutTask(&model.Task{TaskID: taskID, IsActive: true, TotalCompletionsLimit: &limit})

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.GetUser(ctx, 99)
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		_, err = tx.GetUserByReferralCode(ctx, "NOPE0000")
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		assert.ErrorIs(t, tx.CreateUser(ctx, newUser(1, "CCCC0003")), ledger.ErrDuplicate)
		assert.ErrorIs(t, tx.CreateUser(ctx, newUser(3, "AAAA0001")), ledger.ErrDuplicate)
		assert.ErrorIs(t, tx.SaveUser(ctx, newUser(42, "DDDD0004")), ledger.ErrNotFound)

		_, err = tx.GetCompletion(ctx, uuid.New())
		assert.ErrorIs(t, err, ledger.ErrNotFound)

		assert.NoError(t, tx.IncrementTaskCompletions(ctx, taskID, &limit))
		assert.ErrorIs(t, tx.IncrementTaskCompletions(ctx, taskID, &limit), ledger.ErrLimitReached)
		assert.ErrorIs(t, tx.IncrementTaskCompletions(ctx, uuid.New(), nil), ledger.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	task, _ := s.Task(taskID)
	assert.Equal(t, 1, task.CurrentCompletions)
}

func TestGetUser_ReturnsCopy(t *testing.T) {
	s := New()
	s.PutUser(newUser(1, "AAAA0001"))

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.GetUser(ctx, 1)
		require.NoError(t, err)
		u.Balance = 1000
		u.DirectReferrals = append(u.DirectReferrals, 5)

		again, err := tx.GetUser(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), again.Balance)
		assert.Empty(t, again.DirectReferrals)
		return nil
	})
	require.NoError(t, err)
}

func TestBalanceDrift(t *testing.T) {
	s := New()
	u := newUser(1, "AAAA0001")
	u.Balance = 40
	s.PutUser(u)
	s.PutUser(newUser(2, "BBBB0002"))

	drift := s.BalanceDrift()
	require.Len(t, drift, 1)
	assert.Equal(t, model.BalanceDrift{TelegramID: 1, Balance: 40, LedgerBalance: 0}, drift[0])
}

func TestLoadCatalog(t *testing.T) {
	s := New()
	taskID := uuid.New()
	s.PutTask(&model.Task{TaskID: taskID, Title: "Follow", IsActive: false})
	s.PutAchievement(&model.Achievement{AchievementID: uuid.New(), Name: "On", IsActive: true})
	s.PutAchievement(&model.Achievement{AchievementID: uuid.New(), Name: "Off", IsActive: false})

	snap, err := s.LoadCatalog(context.Background())
	require.NoError(t, err)

	task, ok := snap.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, "Follow", task.Title)
	assert.Len(t, snap.Achievements(), 1)
	assert.WithinDuration(t, time.Now(), snap.LoadedAt(), time.Second)
}

func TestLoadCatalog_InsideTransaction(t *testing.T) {
	s := New()
	taskID := uuid.New()
	limit := 5
	s.PutTask(&model.Task{TaskID: taskID, Title: "Follow", IsActive: true, TotalCompletionsLimit: &limit})

	done := make(chan error, 1)
	go func() {
		done <- s.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
			if err := tx.IncrementTaskCompletions(ctx, taskID, &limit); err != nil {
				return err
			}
			snap, err := s.LoadCatalog(ctx)
			if err != nil {
				return err
			}
			if _, ok := snap.Task(taskID); !ok {
				return errors.New("task missing from snapshot")
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("LoadCatalog blocked inside WithinTx")
	}

	task, ok := s.Task(taskID)
	require.True(t, ok)
	assert.Equal(t, 1, task.CurrentCompletions)
}

func TestWithdrawals(t *testing.T) {
	s := New()
	ctx := context.Background()
	w := &model.Withdrawal{UserID: 1, Amount: 100, Fee: 2, WalletAddress: "EQC1", Status: model.WithdrawalPending}

	err := s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		require.NoError(t, tx.CreateWithdrawal(ctx, w))
		assert.ErrorIs(t, tx.CreateWithdrawal(ctx, w), ledger.ErrDuplicate)

		got, err := tx.GetWithdrawal(ctx, w.WithdrawalID)
		require.NoError(t, err)
		assert.Equal(t, int64(102), got.Held())
		return nil
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, w.WithdrawalID)

	boom := errors.New("boom")
	err = s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		got, err := tx.GetWithdrawal(ctx, w.WithdrawalID)
		require.NoError(t, err)
		got.Status = model.WithdrawalCancelled
		require.NoError(t, tx.UpdateWithdrawal(ctx, got))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, ok := s.Withdrawal(w.WithdrawalID)
	require.True(t, ok)
	assert.Equal(t, model.WithdrawalPending, stored.Status)

	err = s.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.GetWithdrawal(ctx, uuid.New())
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.ErrorIs(t, tx.UpdateWithdrawal(ctx, &model.Withdrawal{WithdrawalID: uuid.New()}), ledger.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
