package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"onehunt_rewards/internal/ledger"
	"onehunt_rewards/internal/model"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type User struct {
	TelegramID        int64         `db:"telegram_id"`
	Username          string        `db:"username"`
	FirstName         string        `db:"first_name"`
	LastName          string        `db:"last_name"`
	ReferralCode      string        `db:"referral_code"`
	Balance           int64         `db:"balance"`
	TotalEarned       int64         `db:"total_earned"`
	TotalWithdrawn    int64         `db:"total_withdrawn"`
	Level             int           `db:"level"`
	XP                int           `db:"xp"`
	Streak            int           `db:"streak"`
	LastLoginDate     *time.Time    `db:"last_login_date"`
	ReferredBy        *int64        `db:"referred_by"`
	DirectReferrals   pq.Int64Array `db:"direct_referrals"`
	IndirectReferrals pq.Int64Array `db:"indirect_referrals"`
	TasksCompleted    int           `db:"tasks_completed"`
	LastDailyReward   *time.Time    `db:"last_daily_reward"`
	DailyRewardStreak int           `db:"daily_reward_streak"`
	IsBanned          bool          `db:"is_banned"`
	IsActive          bool          `db:"is_active"`
	RegistrationDate  time.Time     `db:"registration_date"`
}

type userAchievement struct {
	AchievementID uuid.UUID `db:"achievement_id"`
	UnlockedAt    time.Time `db:"unlocked_at"`
}

var userColumns = []string{
	"telegram_id", "username", "first_name", "last_name", "referral_code",
	"balance", "total_earned", "total_withdrawn",
	"level", "xp", "streak", "last_login_date",
	"referred_by", "direct_referrals", "indirect_referrals",
	"tasks_completed", "last_daily_reward", "daily_reward_streak",
	"is_banned", "is_active", "registration_date",
}

func (u *User) toModel() *model.User {
	return &model.User{
		TelegramID:        u.TelegramID,
		Username:          u.Username,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		ReferralCode:      u.ReferralCode,
		Balance:           u.Balance,
		TotalEarned:       u.TotalEarned,
		TotalWithdrawn:    u.TotalWithdrawn,
		Level:             u.Level,
		XP:                u.XP,
		Streak:            u.Streak,
		LastLoginDate:     u.LastLoginDate,
		ReferredBy:        u.ReferredBy,
		DirectReferrals:   []int64(u.DirectReferrals),
		IndirectReferrals: []int64(u.IndirectReferrals),
		TasksCompleted:    u.TasksCompleted,
		LastDailyReward:   u.LastDailyReward,
		DailyRewardStreak: u.DailyRewardStreak,
		IsBanned:          u.IsBanned,
		IsActive:          u.IsActive,
		RegistrationDate:  u.RegistrationDate,
	}
}

func userValues(user *model.User) map[string]interface{} {
	return map[string]interface{}{
		"username":            user.Username,
		"first_name":          user.FirstName,
		"last_name":           user.LastName,
		"referral_code":       user.ReferralCode,
		"balance":             user.Balance,
		"total_earned":        user.TotalEarned,
		"total_withdrawn":     user.TotalWithdrawn,
		"level":               user.Level,
		"xp":                  user.XP,
		"streak":              user.Streak,
		"last_login_date":     user.LastLoginDate,
		"referred_by":         user.ReferredBy,
		"direct_referrals":    pq.Int64Array(nonNil(user.DirectReferrals)),
		"indirect_referrals":  pq.Int64Array(nonNil(user.IndirectReferrals)),
		"tasks_completed":     user.TasksCompleted,
		"last_daily_reward":   user.LastDailyReward,
		"daily_reward_streak": user.DailyRewardStreak,
		"is_banned":           user.IsBanned,
		"is_active":           user.IsActive,
		"registration_date":   user.RegistrationDate,
	}
}

// nonNil keeps NOT NULL array columns from receiving SQL NULL.
func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

func (t *ledgerTx) GetUser(ctx context.Context, telegramID int64) (*model.User, error) {
	return t.getUserWhere(ctx, squirrel.Eq{"telegram_id": telegramID})
}

func (t *ledgerTx) GetUserByReferralCode(ctx context.Context, code string) (*model.User, error) {
	return t.getUserWhere(ctx, squirrel.Eq{"referral_code": code})
}

func (t *ledgerTx) getUserWhere(ctx context.Context, where squirrel.Eq) (*model.User, error) {
	query, args, err := squirrel.
		Select(userColumns...).
		From("users").
		Where(where).
		Suffix("FOR UPDATE").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user select query: %w", err)
	}

	var row User
	err = t.tx.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, classifyError(err)
	}

	user := row.toModel()
	user.Achievements, err = t.userAchievements(ctx, user.TelegramID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (t *ledgerTx) userAchievements(ctx context.Context, telegramID int64) ([]model.UnlockedAchievement, error) {
	query, args, err := squirrel.
		Select("achievement_id", "unlocked_at").
		From("user_achievements").
		Where(squirrel.Eq{"user_telegram_id": telegramID}).
		OrderBy("unlocked_at", "achievement_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build achievements query: %w", err)
	}

	var rows []userAchievement
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, classifyError(err)
	}

	unlocked := make([]model.UnlockedAchievement, len(rows))
	for i, r := range rows {
		unlocked[i] = model.UnlockedAchievement{AchievementID: r.AchievementID, UnlockedAt: r.UnlockedAt}
	}
	return unlocked, nil
}

func (t *ledgerTx) CreateUser(ctx context.Context, user *model.User) error {
	values := userValues(user)
	values["telegram_id"] = user.TelegramID

	query, args, err := squirrel.
		Insert("users").
		SetMap(values).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build user insert query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classifyError(err)
	}
	return t.insertAchievements(ctx, user)
}

func (t *ledgerTx) SaveUser(ctx context.Context, user *model.User) error {
	query, args, err := squirrel.
		Update("users").
		SetMap(userValues(user)).
		Where(squirrel.Eq{"telegram_id": user.TelegramID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build user update query: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classifyError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return t.insertAchievements(ctx, user)
}

// insertAchievements writes the user's unlocked set. Unlocks are never removed,
// so rows that already exist are left alone.
func (t *ledgerTx) insertAchievements(ctx context.Context, user *model.User) error {
	if len(user.Achievements) == 0 {
		return nil
	}

	builder := squirrel.
		Insert("user_achievements").
		Columns("user_telegram_id", "achievement_id", "unlocked_at")
	for _, a := range user.Achievements {
		builder = builder.Values(user.TelegramID, a.AchievementID, a.UnlockedAt)
	}

	query, args, err := builder.
		Suffix("ON CONFLICT (user_telegram_id, achievement_id) DO NOTHING").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build achievements insert query: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return classifyError(err)
	}
	return nil
}
