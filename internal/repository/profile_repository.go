package repository

import (
	"context"
	"time"

	"study-gateway/internal/model"

	"gorm.io/gorm"
)

// ProfileRepository 读取用户资料、引导偏好、排行榜统计与专注记录。
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	// DowngradeExpiredTrial 把试用已过期的用户降为 free，返回是否发生了降级。
	DowngradeExpiredTrial(ctx context.Context, userID string, now time.Time) (bool, error)
	GetPreferences(ctx context.Context, userID string) (*model.OnboardingPreference, error)
	GetStats(ctx context.Context, userID string) (*model.LeaderboardStats, error)
	RecentSessions(ctx context.Context, userID string, limit int) ([]model.FocusSession, error)
}

type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建一个新的 ProfileRepository 实例。
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

func (r *profileRepository) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// 条件更新保证并发请求下只降级一次，且重复执行无副作用。
func (r *profileRepository) DowngradeExpiredTrial(ctx context.Context, userID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Profile{}).
		Where("user_id = ? AND subscription_tier = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?", userID, model.TierTrial, now).
		Update("subscription_tier", model.TierFree)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *profileRepository) GetPreferences(ctx context.Context, userID string) (*model.OnboardingPreference, error) {
	var p model.OnboardingPreference
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *profileRepository) GetStats(ctx context.Context, userID string) (*model.LeaderboardStats, error) {
	var s model.LeaderboardStats
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *profileRepository) RecentSessions(ctx context.Context, userID string, limit int) ([]model.FocusSession, error) {
	var sessions []model.FocusSession
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}
