//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run with: APP_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/repository/

var idSeq = time.Now().UnixNano() / 1000

func nextTelegramID() int64 {
	return atomic.AddInt64(&idSeq, 1)
}

func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	url := os.Getenv("APP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("APP_TEST_DATABASE_URL is not set")
	}

	db, err := sqlx.Connect("pgx", url)
	require.NoError(t, err)
	r := &Repository{db: db}
	t.Cleanup(func() { _ = r.Close() })

	require.NoError(t, r.Migrate(context.Background()))
	return r
}

func createTestUser(t *testing.T, r *Repository, mutate func(u *model.User)) *model.User {
	t.Helper()
	id := nextTelegramID()
	u := &model.User{
		TelegramID:       id,
		Username:         "user",
		ReferralCode:     fmt.Sprintf("IT%d", id),
		Level:            1,
		IsActive:         true,
		RegistrationDate: time.Now().UTC().Truncate(time.Microsecond),
	}
	if mutate != nil {
		mutate(u)
	}
	err := r.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	require.NoError(t, err)
	return u
}

func readUser(t *testing.T, r *Repository, id int64) *model.User {
	t.Helper()
	var u *model.User
	err := r.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		var err error
		u, err = tx.GetUser(ctx, id)
		return err
	})
	require.NoError(t, err)
	return u
}

func TestIntegration_UserRoundTrip(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()

	referrer := createTestUser(t, r, nil)
	login := time.Now().UTC().Truncate(time.Microsecond)
	u := createTestUser(t, r, func(u *model.User) {
		u.ReferredBy = &referrer.TelegramID
		u.Balance = 40
		u.Streak = 1
		u.LastLoginDate = &login
	})

	referrer.DirectReferrals = []int64{u.TelegramID}
	referrer.IndirectReferrals = []int64{u.TelegramID + 100, u.TelegramID + 200}
	err := r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.SaveUser(ctx, referrer)
	})
	require.NoError(t, err)

	got := readUser(t, r, referrer.TelegramID)
	assert.Equal(t, referrer.DirectReferrals, got.DirectReferrals)
	assert.Equal(t, referrer.IndirectReferrals, got.IndirectReferrals)

	got = readUser(t, r, u.TelegramID)
	assert.Equal(t, int64(40), got.Balance)
	assert.Equal(t, 1, got.Streak)
	assert.Empty(t, got.DirectReferrals)
	require.NotNil(t, got.ReferredBy)
	assert.Equal(t, referrer.TelegramID, *got.ReferredBy)
	require.NotNil(t, got.LastLoginDate)
	assert.True(t, login.Equal(*got.LastLoginDate))

	err = r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		byCode, err := tx.GetUserByReferralCode(ctx, u.ReferralCode)
		if err != nil {
			return err
		}
		assert.Equal(t, u.TelegramID, byCode.TelegramID)
		return nil
	})
	require.NoError(t, err)

	err = r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicate)

	err = r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.GetUser(ctx, -u.TelegramID)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestIntegration_RollbackDiscardsWrites(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()
	u := createTestUser(t, r, nil)

	boom := errors.New("boom")
	err := r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		cur, err := tx.GetUser(ctx, u.TelegramID)
		if err != nil {
			return err
		}
		cur.Balance = 999
		if err := tx.SaveUser(ctx, cur); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(0), readUser(t, r, u.TelegramID).Balance)
}

func TestIntegration_IncrementTaskCompletions(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()

	limited := uuid.New()
	unlimited := uuid.New()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, title, type, total_completions_limit) VALUES ($1, 'limited', 'social', 1), ($2, 'open', 'social', NULL)`,
		limited, unlimited)
	require.NoError(t, err)

	err = r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		limit := 1
		require.NoError(t, tx.IncrementTaskCompletions(ctx, limited, &limit))
		assert.ErrorIs(t, tx.IncrementTaskCompletions(ctx, limited, &limit), ledger.ErrLimitReached)
		assert.ErrorIs(t, tx.IncrementTaskCompletions(ctx, uuid.New(), &limit), ledger.ErrNotFound)
		assert.ErrorIs(t, tx.IncrementTaskCompletions(ctx, uuid.New(), nil), ledger.ErrNotFound)
		require.NoError(t, tx.IncrementTaskCompletions(ctx, unlimited, nil))
		require.NoError(t, tx.IncrementTaskCompletions(ctx, unlimited, nil))
		return nil
	})
	require.NoError(t, err)

	var counts []int
	err = r.db.SelectContext(ctx, &counts,
		`SELECT current_completions FROM tasks WHERE task_id IN ($1, $2) ORDER BY title DESC`, unlimited, limited)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, counts)
}

func TestIntegration_ConcurrentTransactionsSerialize(t *testing.T) {
	r := openTestRepository(t)
	u := createTestUser(t, r, nil)

	const workers = 10
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < 5; attempt++ {
				err := r.WithinTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
					cur, err := tx.GetUser(ctx, u.TelegramID)
					if err != nil {
						return err
					}
					cur.Balance += 10
					return tx.SaveUser(ctx, cur)
				})
				if errors.Is(err, ledger.ErrTxConflict) {
					continue
				}
				errs <- err
				return
			}
			errs <- ledger.ErrTxConflict
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(10*workers), readUser(t, r, u.TelegramID).Balance)
}

func TestIntegration_WithdrawalRoundTrip(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()
	u := createTestUser(t, r, nil)

	created := time.Now().UTC().Truncate(time.Microsecond)
	w := &model.Withdrawal{
		WithdrawalID:  uuid.New(),
		UserID:        u.TelegramID,
		Amount:        200,
		Fee:           4,
		Method:        "crypto",
		WalletAddress: "EQC1",
		Status:        model.WithdrawalPending,
		CreatedAt:     created,
	}
	err := r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.CreateWithdrawal(ctx, w)
	})
	require.NoError(t, err)

	processedBy := int64(77)
	processedAt := created.Add(time.Hour)
	err = r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		got, err := tx.GetWithdrawal(ctx, w.WithdrawalID)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(204), got.Held())
		assert.Equal(t, model.WithdrawalPending, got.Status)
		assert.Nil(t, got.ProcessedAt)

		got.Status = model.WithdrawalCompleted
		got.TransactionHash = "0xabc"
		got.ProcessedBy = &processedBy
		got.ProcessedAt = &processedAt
		return tx.UpdateWithdrawal(ctx, got)
	})
	require.NoError(t, err)

	err = r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		got, err := tx.GetWithdrawal(ctx, w.WithdrawalID)
		if err != nil {
			return err
		}
		assert.Equal(t, model.WithdrawalCompleted, got.Status)
		assert.Equal(t, "0xabc", got.TransactionHash)
		require.NotNil(t, got.ProcessedBy)
		assert.Equal(t, processedBy, *got.ProcessedBy)
		require.NotNil(t, got.ProcessedAt)
		assert.True(t, processedAt.Equal(*got.ProcessedAt))

		_, err = tx.GetWithdrawal(ctx, uuid.New())
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		missing := *got
		missing.WithdrawalID = uuid.New()
		assert.ErrorIs(t, tx.UpdateWithdrawal(ctx, &missing), ledger.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestIntegration_FindBalanceDrift(t *testing.T) {
	r := openTestRepository(t)
	ctx := context.Background()

	consistent := createTestUser(t, r, func(u *model.User) { u.Balance = 50 })
	drifted := createTestUser(t, r, func(u *model.User) { u.Balance = 40 })

	withdrawalID := uuid.New()
	err := r.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		now := time.Now().UTC()
		for _, e := range []*model.RewardEvent{
			{EventID: uuid.New(), UserID: consistent.TelegramID, Type: model.EventBonus, Amount: 60, CreatedAt: now},
			{EventID: uuid.New(), UserID: consistent.TelegramID, Type: model.EventWithdrawalHold, Amount: -10, RelatedWithdrawal: &withdrawalID, CreatedAt: now},
			{EventID: uuid.New(), UserID: drifted.TelegramID, Type: model.EventBonus, Amount: 30, CreatedAt: now},
		} {
			if err := tx.AppendEvent(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	drift, err := r.FindBalanceDrift(ctx)
	require.NoError(t, err)

	found := map[int64]model.BalanceDrift{}
	for _, d := range drift {
		found[d.TelegramID] = d
	}
	assert.NotContains(t, found, consistent.TelegramID)
	require.Contains(t, found, drifted.TelegramID)
	assert.Equal(t, int64(40), found[drifted.TelegramID].Balance)
	assert.Equal(t, int64(30), found[drifted.TelegramID].LedgerBalance)
}
