package service

import (
	"context"
	"errors"

	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/pkg/log"

	"golang.org/x/sync/errgroup"
)

const (
	defaultFocusMethod = "Balanced Focus"
	defaultWeeklyGoal  = 5
	recentSessionLimit = 10
)

// UserContext 是构建提示词和兜底回复所需的用户画像，各部分缺失时取默认值。
type UserContext struct {
	Profile     *model.Profile
	Preferences *model.OnboardingPreference
	Stats       *model.LeaderboardStats
	Sessions    []model.FocusSession
}

func (u *UserContext) FirstName() string {
	if u == nil {
		return "there"
	}
	return u.Profile.FirstName()
}

func (u *UserContext) FocusMethod() string {
	if u == nil || u.Preferences == nil || u.Preferences.FocusMethod == "" {
		return defaultFocusMethod
	}
	return u.Preferences.FocusMethod
}

func (u *UserContext) WeeklyGoal() int {
	if u == nil || u.Preferences == nil || u.Preferences.WeeklyFocusGoal <= 0 {
		return defaultWeeklyGoal
	}
	return u.Preferences.WeeklyFocusGoal
}

func (u *UserContext) Level() int {
	if u == nil || u.Stats == nil || u.Stats.Level <= 0 {
		return 1
	}
	return u.Stats.Level
}

// LoadUserContext 并发读取偏好、统计与最近专注记录，任何一项失败只会让该部分为空。
// profile 由访问控制阶段读出，这里直接复用。
func LoadUserContext(ctx context.Context, profiles repository.ProfileRepository, userID string, profile *model.Profile) *UserContext {
	uc := &UserContext{Profile: profile}
	var g errgroup.Group

	g.Go(func() error {
		p, err := profiles.GetPreferences(ctx, userID)
		if err != nil {
			logContextMiss("preferences", userID, err)
			return nil
		}
		uc.Preferences = p
		return nil
	})
	g.Go(func() error {
		s, err := profiles.GetStats(ctx, userID)
		if err != nil {
			logContextMiss("leaderboard", userID, err)
			return nil
		}
		uc.Stats = s
		return nil
	})
	g.Go(func() error {
		sessions, err := profiles.RecentSessions(ctx, userID, recentSessionLimit)
		if err != nil {
			logContextMiss("sessions", userID, err)
			return nil
		}
		uc.Sessions = sessions
		return nil
	})
	_ = g.Wait()
	return uc
}

func logContextMiss(part, userID string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	log.Warnw("读取用户上下文失败，该部分降级为空", "part", part, "userID", userID, "error", err)
}
