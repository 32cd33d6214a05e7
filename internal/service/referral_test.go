package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"
	"onehunt_rewards/internal/service/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestReferralService_Cascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.register(t, 1, "")
	b := f.register(t, 2, a.ReferralCode)
	c := f.register(t, 3, "")

	res, err := f.svc.ApplyReferralCode(ctx, c.TelegramID, b.ReferralCode)
	require.NoError(t, err)
	require.NotNil(t, res.IndirectReferrer)
	assert.Len(t, res.Events, 2)

	gotA, gotB, gotC := f.user(t, 1), f.user(t, 2), f.user(t, 3)

	require.NotNil(t, gotC.ReferredBy)
	assert.Equal(t, int64(2), *gotC.ReferredBy)
	assert.Equal(t, []int64{3}, gotB.DirectReferrals)
	assert.Equal(t, []int64{2}, gotA.DirectReferrals)
	assert.Equal(t, []int64{3}, gotA.IndirectReferrals)

	// B: one direct bonus. A: direct bonus for B plus indirect bonus for C.
	assert.Equal(t, int64(100), gotB.Balance)
	assert.Equal(t, 20, gotB.XP)
	assert.Equal(t, int64(150), gotA.Balance)
	assert.Equal(t, 30, gotA.XP)
	assert.Equal(t, int64(0), gotC.Balance)

	events := f.store.Events(1)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventReferral, events[1].Type)
	assert.Equal(t, int64(50), events[1].Amount)
	require.NotNil(t, events[1].RelatedReferral)
	assert.Equal(t, int64(3), *events[1].RelatedReferral)

	_, err = f.svc.ApplyReferralCode(ctx, c.TelegramID, a.ReferralCode)
	assert.ErrorIs(t, err, ErrAlreadyReferred)
	assert.True(t, IsConflict(err))
	assert.Equal(t, int64(2), *f.user(t, 3).ReferredBy)

	f.assertLedgerConsistent(t)
}

func TestReferralService_NoUpstreamReferrer(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, 1, "")
	f.register(t, 2, "")

	res, err := f.svc.ApplyReferralCode(context.Background(), 2, a.ReferralCode)
	require.NoError(t, err)
	assert.Nil(t, res.IndirectReferrer)
	assert.Len(t, res.Events, 1)
	assert.Empty(t, f.user(t, 1).IndirectReferrals)
}

func TestReferralService_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.register(t, 1, "")
	b := f.register(t, 2, a.ReferralCode)
	banned := f.register(t, 3, "")
	require.NoError(t, f.svc.SetBanned(ctx, banned.TelegramID, true))
	f.register(t, 4, "")

	tests := []struct {
		name      string
		applicant int64
		code      string
		wantErr   error
	}{
		{name: "unknown code", applicant: 4, code: "FFFFFFFF", wantErr: ErrInvalidReferralCode},
		{name: "empty code", applicant: 4, code: "  ", wantErr: ErrInvalidReferralCode},
		{name: "self referral", applicant: 1, code: a.ReferralCode, wantErr: ErrSelfReferral},
		{name: "two-cycle", applicant: 1, code: b.ReferralCode, wantErr: ErrReferralCycle},
		{name: "banned referrer", applicant: 4, code: banned.ReferralCode, wantErr: ErrInvalidReferralCode},
		{name: "banned applicant", applicant: 3, code: a.ReferralCode, wantErr: ErrUserInactive},
		{name: "unknown applicant", applicant: 99, code: a.ReferralCode, wantErr: ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ApplyReferralCode(ctx, tt.applicant, tt.code)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.Equal(t, int64(100), f.user(t, 1).Balance)
	f.assertLedgerConsistent(t)
}

func TestReferralService_CodeIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, 1, "")
	f.register(t, 2, "")

	_, err := f.svc.ApplyReferralCode(context.Background(), 2, " "+strings.ToLower(a.ReferralCode)+" ")
	require.NoError(t, err)
}

func TestReferralService_BannedIndirectReferrerSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.register(t, 1, "")
	b := f.register(t, 2, a.ReferralCode)
	f.register(t, 3, "")
	require.NoError(t, f.svc.SetBanned(ctx, 1, true))

	res, err := f.svc.ApplyReferralCode(ctx, 3, b.ReferralCode)
	require.NoError(t, err)
	assert.Nil(t, res.IndirectReferrer)

	gotA := f.user(t, 1)
	assert.Empty(t, gotA.IndirectReferrals)
	assert.Equal(t, int64(100), gotA.Balance)
	assert.Equal(t, int64(100), f.user(t, 2).Balance)
}

// failOnSave wraps a transaction and fails when a given user is saved.
type failOnSave struct {
	ledger.Tx
	userID int64
	err    error
}

func (f *failOnSave) SaveUser(ctx context.Context, u *model.User) error {
	if u.TelegramID == f.userID {
		return f.err
	}
	return f.Tx.SaveUser(ctx, u)
}

func TestReferralService_RollsBackWholeCascade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.register(t, 1, "")
	b := f.register(t, 2, a.ReferralCode)
	f.register(t, 3, "")

	boom := errors.New("disk full")
	mockStore := &mocks.MockLedgerStore{}
	mockStore.On("WithinTx", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, fn mocks.TxFunc) error {
			return f.store.WithinTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				return fn(ctx, &failOnSave{Tx: tx, userID: 1, err: boom})
			})
		})

	achievements := NewAchievementService(mockStore, f.cache, DefaultConfig())
	referrals := NewReferralService(mockStore, achievements, DefaultConfig())

	_, err := referrals.ApplyReferralCode(ctx, 3, b.ReferralCode)
	assert.ErrorIs(t, err, boom)

	assert.Nil(t, f.user(t, 3).ReferredBy)
	assert.Empty(t, f.user(t, 2).DirectReferrals)
	assert.Equal(t, int64(0), f.user(t, 2).Balance)
	assert.Empty(t, f.store.Events(2))
	assert.Equal(t, int64(100), f.user(t, 1).Balance)
	f.assertLedgerConsistent(t)
	mockStore.AssertExpectations(t)
}

func TestReferralService_UnlocksAchievementsForReferrer(t *testing.T) {
	f := newFixture(t)
	networker := f.putAchievement(&model.Achievement{
		Name:      "Networker",
		Condition: model.Condition{Type: model.ConditionReferralsCount, Value: 1},
		Reward:    model.Reward{Coins: 40, XP: 90},
	})

	a := f.register(t, 1, "")
	f.register(t, 2, "")

	res, err := f.svc.ApplyReferralCode(context.Background(), 2, a.ReferralCode)
	require.NoError(t, err)
	assert.Equal(t, networker.AchievementID, res.UnlockedAchievements[1][0])

	gotA := f.user(t, 1)
	assert.True(t, gotA.HasAchievement(networker.AchievementID))
	assert.Equal(t, int64(140), gotA.Balance)
	// 20 + 90 XP crosses the level-1 threshold.
	assert.Equal(t, 2, gotA.Level)
	assert.Equal(t, 10, gotA.XP)
	f.assertLedgerConsistent(t)
}
