package model

import (
	"strings"
	"time"
)

// Profile 对应 profiles 表，由外部用户服务维护；网关只在试用到期时降级 subscription_tier。
type Profile struct {
	UserID           string     `gorm:"type:varchar(64);primaryKey" json:"userId"`
	FullName         string     `gorm:"type:varchar(255)" json:"fullName"`
	University       string     `gorm:"type:varchar(255)" json:"university"`
	Major            string     `gorm:"type:varchar(255)" json:"major"`
	SubscriptionTier string     `gorm:"type:varchar(32);not null;default:'free'" json:"subscriptionTier"`
	TrialEndsAt      *time.Time `json:"trialEndsAt"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Profile) TableName() string {
	return "profiles"
}

// FirstName 取全名的第一个词，缺失时返回 "there"。
func (p *Profile) FirstName() string {
	if p == nil {
		return "there"
	}
	if f := strings.Fields(p.FullName); len(f) > 0 {
		return f[0]
	}
	return "there"
}

// TrialExpired 判断试用是否已在 now 之前结束。
func (p *Profile) TrialExpired(now time.Time) bool {
	return p.SubscriptionTier == TierTrial && p.TrialEndsAt != nil && p.TrialEndsAt.Before(now)
}

// OnboardingPreference 对应 onboarding_preferences 表。
type OnboardingPreference struct {
	UserID          string `gorm:"type:varchar(64);primaryKey" json:"userId"`
	FocusMethod     string `gorm:"type:varchar(64)" json:"focusMethod"`
	WeeklyFocusGoal int    `gorm:"not null;default:5" json:"weeklyFocusGoal"`
}

func (OnboardingPreference) TableName() string {
	return "onboarding_preferences"
}

// LeaderboardStats 对应 leaderboard_stats 表。
type LeaderboardStats struct {
	UserID            string `gorm:"type:varchar(64);primaryKey" json:"userId"`
	Level             int    `gorm:"not null;default:1" json:"level"`
	TotalFocusTime    int64  `gorm:"not null;default:0" json:"totalFocusTime"` // 秒
	CurrentStreak     int    `gorm:"not null;default:0" json:"currentStreak"`
	LongestStreak     int    `gorm:"not null;default:0" json:"longestStreak"`
	SessionsCompleted int    `gorm:"not null;default:0" json:"sessionsCompleted"`
}

func (LeaderboardStats) TableName() string {
	return "leaderboard_stats"
}

// FocusSession 对应 focus_sessions 表。
type FocusSession struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          string    `gorm:"type:varchar(64);not null;index" json:"userId"`
	DurationSeconds int       `gorm:"not null;default:0" json:"durationSeconds"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (FocusSession) TableName() string {
	return "focus_sessions"
}
