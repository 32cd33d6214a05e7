// Package progression holds the pure level, streak and coin rules applied to a user record.
// Functions mutate the user in place; committing the result is the caller's job.
package progression

import (
	"errors"
	"time"

	"onehunt_rewards/internal/model"
)

const XPPerLevel = 100

var ErrInsufficientBalance = errors.New("insufficient balance")

// LevelThreshold is the XP needed to leave the given level.
func LevelThreshold(level int) int {
	return level * XPPerLevel
}

// AddXP adds delta to the user's XP and levels up for as long as the current
// level's threshold is met. It returns the number of levels gained.
func AddXP(u *model.User, delta int) int {
	if delta <= 0 {
		return 0
	}
	if u.Level < 1 {
		u.Level = 1
	}

	u.XP += delta
	gained := 0
	for u.XP >= LevelThreshold(u.Level) {
		u.XP -= LevelThreshold(u.Level)
		u.Level++
		gained++
	}
	return gained
}

// Credit adds earned coins to the balance and the lifetime total.
func Credit(u *model.User, coins int64) {
	if coins <= 0 {
		return
	}
	u.Balance += coins
	u.TotalEarned += coins
}

// Debit removes coins from the balance. It never clamps.
func Debit(u *model.User, coins int64) error {
	if coins > u.Balance {
		return ErrInsufficientBalance
	}
	u.Balance -= coins
	u.TotalWithdrawn += coins
	return nil
}

// Hold takes coins out of the balance without counting them as withdrawn yet.
func Hold(u *model.User, coins int64) error {
	if coins > u.Balance {
		return ErrInsufficientBalance
	}
	u.Balance -= coins
	return nil
}

// Release returns previously held coins to the balance.
func Release(u *model.User, coins int64) {
	if coins <= 0 {
		return
	}
	u.Balance += coins
}

// Grant applies a coin and XP reward and returns levels gained.
func Grant(u *model.User, r model.Reward) int {
	Credit(u, r.Coins)
	return AddXP(u, r.XP)
}

type StreakChange int

const (
	StreakUnchanged StreakChange = iota
	StreakExtended
	StreakReset
)

// UpdateLoginStreak advances the login streak for a login at now.
// Same-day logins change nothing, including LastLoginDate.
func UpdateLoginStreak(u *model.User, now time.Time, loc *time.Location) StreakChange {
	change := StreakReset
	if u.LastLoginDate != nil {
		switch diff := DaysBetween(*u.LastLoginDate, now, loc); {
		case diff <= 0:
			return StreakUnchanged
		case diff == 1:
			change = StreakExtended
		}
	}

	if change == StreakExtended {
		u.Streak++
	} else {
		u.Streak = 1
	}
	stamp := now
	u.LastLoginDate = &stamp
	return change
}

// DaysBetween counts calendar-day boundaries from a to b in loc.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	return int(midnight(b, loc).Sub(midnight(a, loc)).Hours() / 24)
}

// midnight maps the calendar date in loc onto UTC so DST shifts never skew the day count.
func midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
