package service

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/pkg/llm"
	"study-gateway/pkg/log"
	"study-gateway/pkg/storage"
)

const (
	attachmentLockTTL  = 2 * time.Minute
	attachmentLockWait = 30 * time.Second
)

// AttachmentService 把本地存储中的文档映射为提供方文件句柄，同一 (用户, 路径) 只上传一次。
type AttachmentService interface {
	Resolve(ctx context.Context, userID string, attachment *model.Attachment) (string, error)
}

type attachmentService struct {
	refs       repository.AttachmentRepository
	locker     repository.Locker
	downloader storage.Downloader
	uploader   llm.Client
	now        func() time.Time
}

// NewAttachmentService 创建一个新的 AttachmentService 实例。
func NewAttachmentService(refs repository.AttachmentRepository, locker repository.Locker, downloader storage.Downloader, uploader llm.Client) AttachmentService {
	return &attachmentService{refs: refs, locker: locker, downloader: downloader, uploader: uploader, now: time.Now}
}

func (s *attachmentService) Resolve(ctx context.Context, userID string, attachment *model.Attachment) (string, error) {
	path := attachment.StoragePath
	if ref, err := s.refs.Find(ctx, userID, path); err != nil {
		return "", fmt.Errorf("find attachment ref: %w", err)
	} else if ref != nil {
		return ref.ExternalFileHandle, nil
	}

	// 跨实例互斥，避免同一文档被并发上传两次
	unlock, err := s.locker.Lock(ctx, fmt.Sprintf("attachment:%s:%s", userID, path), attachmentLockTTL, attachmentLockWait)
	if err != nil {
		return "", fmt.Errorf("lock attachment %s: %w", path, err)
	}
	defer unlock()

	if ref, err := s.refs.Find(ctx, userID, path); err != nil {
		return "", fmt.Errorf("find attachment ref: %w", err)
	} else if ref != nil {
		return ref.ExternalFileHandle, nil
	}

	data, err := s.downloader.Download(ctx, path)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	fileID, err := s.uploader.UploadFile(ctx, filepath.Base(path), data)
	if err != nil {
		return "", err
	}
	log.Infow("附件已上传到提供方", "userID", userID, "path", path, "fileID", fileID, "bytes", len(data))

	saved, err := s.refs.Save(ctx, &model.AttachmentRef{
		UserID:             userID,
		LocalPath:          path,
		ExternalFileHandle: fileID,
		UploadedAt:         s.now(),
	})
	if err != nil {
		// 句柄已可用，缓存失败只影响下次是否重传
		log.Warnw("缓存附件句柄失败", "userID", userID, "path", path, "error", err)
		return fileID, nil
	}
	return saved.ExternalFileHandle, nil
}
