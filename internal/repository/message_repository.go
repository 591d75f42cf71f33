package repository

import (
	"context"

	"study-gateway/internal/model"

	"gorm.io/gorm"
)

// MessageRepository 是只追加的消息存储。
type MessageRepository interface {
	Append(ctx context.Context, msg *model.Message) error
	// ListRecent 返回最近 limit 条消息，按时间正序。
	ListRecent(ctx context.Context, userID, assistant string, limit int) ([]model.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建一个新的 MessageRepository 实例。
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, msg *model.Message) error {
	return r.db.WithContext(ctx).Create(msg).Error
}

func (r *messageRepository) ListRecent(ctx context.Context, userID, assistant string, limit int) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND assistant_type = ?", userID, assistant).
		Order("created_at DESC").Limit(limit).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
