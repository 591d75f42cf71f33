package repository

import (
	"context"
	"errors"

	"study-gateway/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AttachmentRepository 缓存附件在提供方的文件句柄。
type AttachmentRepository interface {
	Find(ctx context.Context, userID, localPath string) (*model.AttachmentRef, error)
	// Save 写入引用；(user_id, local_path) 已存在时保留旧值，返回最终落库的记录。
	Save(ctx context.Context, ref *model.AttachmentRef) (*model.AttachmentRef, error)
}

type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository 创建一个新的 AttachmentRepository 实例。
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Find(ctx context.Context, userID, localPath string) (*model.AttachmentRef, error) {
	var ref model.AttachmentRef
	err := r.db.WithContext(ctx).Where("user_id = ? AND local_path = ?", userID, localPath).First(&ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *attachmentRepository) Save(ctx context.Context, ref *model.AttachmentRef) (*model.AttachmentRef, error) {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ref).Error; err != nil {
		return nil, err
	}
	return r.Find(ctx, ref.UserID, ref.LocalPath)
}
