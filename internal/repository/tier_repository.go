package repository

import (
	"context"
	"fmt"

	"study-gateway/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TierRepository 读取订阅等级策略。
type TierRepository interface {
	GetPolicy(ctx context.Context, tier string) (*model.TierPolicy, error)
	// Seed 写入种子策略，已存在的等级保持不变。
	Seed(ctx context.Context, policies []model.TierPolicy) error
}

type tierRepository struct {
	db *gorm.DB
}

// NewTierRepository 创建一个新的 TierRepository 实例。
func NewTierRepository(db *gorm.DB) TierRepository {
	return &tierRepository{db: db}
}

func (r *tierRepository) GetPolicy(ctx context.Context, tier string) (*model.TierPolicy, error) {
	var p model.TierPolicy
	if err := r.db.WithContext(ctx).Where("tier_name = ?", tier).First(&p).Error; err != nil {
		return nil, fmt.Errorf("get tier policy %q: %w", tier, notFound(err))
	}
	return &p, nil
}

func (r *tierRepository) Seed(ctx context.Context, policies []model.TierPolicy) error {
	if len(policies) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&policies).Error
}
