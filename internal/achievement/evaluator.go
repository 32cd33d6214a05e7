// Package achievement decides which catalog achievements a user has newly earned.
package achievement

import (
	"fmt"
	"time"

	"onehunt_rewards/internal/model"
	"onehunt_rewards/internal/progression"
)

type Unlock struct {
	Achievement model.Achievement
	Event       *model.RewardEvent
}

// Qualifying returns the achievements not yet unlocked whose condition the user
// meets right now (stat >= value). It does not modify the user.
func Qualifying(u *model.User, catalog []model.Achievement) ([]model.Achievement, error) {
	var out []model.Achievement
	for _, a := range catalog {
		if !a.IsActive || u.HasAchievement(a.AchievementID) {
			continue
		}
		stat, err := a.Condition.Type.Stat(u)
		if err != nil {
			return nil, fmt.Errorf("achievement %s: %w", a.AchievementID, err)
		}
		if stat >= a.Condition.Value {
			out = append(out, a)
		}
	}
	return out, nil
}

// Evaluate unlocks every qualifying achievement in one pass. Conditions are all
// checked against the stats before any of this pass's rewards are applied.
// Each unlock grants its reward and yields one reward event for the caller to append.
func Evaluate(u *model.User, catalog []model.Achievement, now time.Time) ([]Unlock, error) {
	qualifying, err := Qualifying(u, catalog)
	if err != nil {
		return nil, err
	}

	unlocks := make([]Unlock, 0, len(qualifying))
	for _, a := range qualifying {
		u.Achievements = append(u.Achievements, model.UnlockedAchievement{
			AchievementID: a.AchievementID,
			UnlockedAt:    now,
		})
		progression.Grant(u, a.Reward)

		unlocks = append(unlocks, Unlock{
			Achievement: a,
			Event: &model.RewardEvent{
				UserID:      u.TelegramID,
				Type:        model.EventAchievement,
				Amount:      a.Reward.Coins,
				XP:          a.Reward.XP,
				Description: "Achievement unlocked: " + a.Name,
				CreatedAt:   now,
			},
		})
	}
	return unlocks, nil
}
