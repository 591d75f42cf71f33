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

// ThreadRepository 维护 (用户, 助手) 到提供方 thread 的映射。
type ThreadRepository interface {
	Find(ctx context.Context, userID, assistant string) (*model.ThreadHandle, error)
	// GetOrCreate 返回现有句柄；不存在或已超过 maxAge 时调用 create 创建新句柄。
	// 并发首次请求由唯一索引仲裁，落败方得到胜者的句柄，created 为 false。
	// discard 是调用方应在提供方删除的 thread：被轮换掉的过期句柄，以及自己创建却未落库的句柄。
	GetOrCreate(ctx context.Context, userID, assistant string, maxAge time.Duration, create func(context.Context) (string, error)) (handle *model.ThreadHandle, created bool, discard []string, err error)
	// Delete 删除句柄并返回被删除的记录，不存在时返回 nil。
	Delete(ctx context.Context, userID, assistant string) (*model.ThreadHandle, error)
}

type threadRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewThreadRepository 创建一个新的 ThreadRepository 实例。
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db, now: time.Now}
}

func (r *threadRepository) Find(ctx context.Context, userID, assistant string) (*model.ThreadHandle, error) {
	var h model.ThreadHandle
	err := r.db.WithContext(ctx).Where("user_id = ? AND assistant_type = ?", userID, assistant).First(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *threadRepository) GetOrCreate(ctx context.Context, userID, assistant string, maxAge time.Duration, create func(context.Context) (string, error)) (*model.ThreadHandle, bool, []string, error) {
	existing, err := r.Find(ctx, userID, assistant)
	if err != nil {
		return nil, false, nil, fmt.Errorf("find thread handle: %w", err)
	}
	now := r.now().UTC()
	var discard []string
	if existing != nil {
		if maxAge <= 0 || now.Sub(existing.CreatedAt) < maxAge {
			return existing, false, nil, nil
		}
		// 过期句柄：只删除这一条，避免误删并发请求刚写入的新句柄
		res := r.db.WithContext(ctx).Where("id = ?", existing.ID).Delete(&model.ThreadHandle{})
		if res.Error != nil {
			return nil, false, nil, fmt.Errorf("rotate thread handle: %w", res.Error)
		}
		// 并发轮换时只有真正删掉这一行的请求负责清理提供方 thread
		if res.RowsAffected == 1 {
			discard = append(discard, existing.ExternalHandle)
		}
	}

	external, err := create(ctx)
	if err != nil {
		return nil, false, discard, err
	}
	h := model.ThreadHandle{UserID: userID, AssistantType: assistant, ExternalHandle: external, CreatedAt: now}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&h).Error; err != nil {
		return nil, false, append(discard, external), fmt.Errorf("save thread handle: %w", err)
	}

	winner, err := r.Find(ctx, userID, assistant)
	if err != nil {
		return nil, false, append(discard, external), fmt.Errorf("reload thread handle: %w", err)
	}
	if winner == nil {
		return nil, false, append(discard, external), errors.New("thread handle vanished after insert")
	}
	if winner.ExternalHandle != external {
		return winner, false, append(discard, external), nil
	}
	return winner, true, discard, nil
}

func (r *threadRepository) Delete(ctx context.Context, userID, assistant string) (*model.ThreadHandle, error) {
	h, err := r.Find(ctx, userID, assistant)
	if err != nil || h == nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Where("id = ?", h.ID).Delete(&model.ThreadHandle{}).Error; err != nil {
		return nil, err
	}
	return h, nil
}
