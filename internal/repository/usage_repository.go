package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"study-gateway/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerDenial 说明一次扣减为何被拒绝。
type LedgerDenial string

const (
	DenialNone     LedgerDenial = ""
	DenialQuota    LedgerDenial = "quota_exhausted"
	DenialCooldown LedgerDenial = "cooldown"
)

// LedgerIncrement 是一次原子“检查并扣减”的参数。
type LedgerIncrement struct {
	UserID        string
	AssistantType string
	Date          string // YYYY-MM-DD
	Limit         int
	Cooldown      time.Duration
	Now           time.Time
}

// LedgerState 是账本行在操作之后的状态。
type LedgerState struct {
	Admitted      bool
	Denial        LedgerDenial
	MessagesSent  int
	LastMessageAt *time.Time
}

// UsageRepository 是用量账本与用量记录的数据访问接口。
type UsageRepository interface {
	// Peek 只读当天计数，行不存在时返回零值。
	Peek(ctx context.Context, userID, assistant, date string) (*model.UsageCounter, error)
	// CheckAndIncrement 在一条条件 UPDATE 中同时校验配额与冷却并递增。
	CheckAndIncrement(ctx context.Context, inc LedgerIncrement) (*LedgerState, error)
	// RecordUsage 按 exchange_id 至多写入一次用量记录，并把 token/费用累加到当天计数行。
	RecordUsage(ctx context.Context, rec *model.UsageRecord) (bool, error)
	// Summary 返回 since（含）之后每天的计数行，按日期升序。
	Summary(ctx context.Context, userID, since string) ([]model.UsageCounter, error)
}

type usageRepository struct {
	db *gorm.DB
}

// NewUsageRepository 创建一个新的 UsageRepository 实例。
func NewUsageRepository(db *gorm.DB) UsageRepository {
	return &usageRepository{db: db}
}

func counterScope(db *gorm.DB, userID, assistant, date string) *gorm.DB {
	return db.Where("user_id = ? AND assistant_type = ? AND date = ?", userID, assistant, date)
}

func (r *usageRepository) Peek(ctx context.Context, userID, assistant, date string) (*model.UsageCounter, error) {
	var c model.UsageCounter
	err := counterScope(r.db.WithContext(ctx), userID, assistant, date).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.UsageCounter{UserID: userID, AssistantType: assistant, Date: date}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *usageRepository) CheckAndIncrement(ctx context.Context, inc LedgerIncrement) (*LedgerState, error) {
	now := inc.Now.UTC()
	state := &LedgerState{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seed := model.UsageCounter{UserID: inc.UserID, AssistantType: inc.AssistantType, Date: inc.Date}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return fmt.Errorf("ensure usage row: %w", err)
		}

		q := counterScope(tx.Model(&model.UsageCounter{}), inc.UserID, inc.AssistantType, inc.Date).
			Where("messages_sent < ?", inc.Limit)
		if inc.Cooldown > 0 {
			q = q.Where("(last_message_at IS NULL OR last_message_at <= ?)", now.Add(-inc.Cooldown))
		}
		res := q.Updates(map[string]interface{}{
			"messages_sent":   gorm.Expr("messages_sent + 1"),
			"last_message_at": now,
		})
		if res.Error != nil {
			return fmt.Errorf("increment usage: %w", res.Error)
		}
		state.Admitted = res.RowsAffected == 1

		var cur model.UsageCounter
		if err := counterScope(tx, inc.UserID, inc.AssistantType, inc.Date).First(&cur).Error; err != nil {
			return fmt.Errorf("reload usage row: %w", err)
		}
		state.MessagesSent = cur.MessagesSent
		state.LastMessageAt = cur.LastMessageAt
		if !state.Admitted {
			if cur.MessagesSent >= inc.Limit {
				state.Denial = DenialQuota
			} else {
				state.Denial = DenialCooldown
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (r *usageRepository) RecordUsage(ctx context.Context, rec *model.UsageRecord) (bool, error) {
	inserted := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "exchange_id"}}, DoNothing: true}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true
		date := rec.Timestamp.UTC().Format("2006-01-02")
		return counterScope(tx.Model(&model.UsageCounter{}), rec.UserID, rec.AssistantType, date).
			Updates(map[string]interface{}{
				"tokens_used":   gorm.Expr("tokens_used + ?", rec.TokensUsed),
				"cost_estimate": gorm.Expr("cost_estimate + ?", rec.CostEstimate),
			}).Error
	})
	return inserted, err
}

func (r *usageRepository) Summary(ctx context.Context, userID, since string) ([]model.UsageCounter, error) {
	var rows []model.UsageCounter
	err := r.db.WithContext(ctx).Where("user_id = ? AND date >= ?", userID, since).
		Order("date ASC, assistant_type ASC").Find(&rows).Error
	return rows, err
}
