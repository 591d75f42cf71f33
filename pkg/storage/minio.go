// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"

	"study-gateway/internal/config"
	"study-gateway/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) {
	var err error

	MinioClient, err = minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := MinioClient.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := MinioClient.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
	}
}

// Downloader 按存储路径读取附件内容。
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

type minioDownloader struct {
	client   *minio.Client
	bucket   string
	maxBytes int64
}

// NewDownloader 基于 MinIO 桶创建附件下载器，超过 maxBytes 的对象会被拒绝。
func NewDownloader(client *minio.Client, bucket string, maxBytes int64) Downloader {
	return &minioDownloader{client: client, bucket: bucket, maxBytes: maxBytes}
}

func (d *minioDownloader) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := d.client.GetObject(ctx, d.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", path, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat object %s: %w", path, err)
	}
	if d.maxBytes > 0 && info.Size > d.maxBytes {
		return nil, fmt.Errorf("object %s is %d bytes, limit %d", path, info.Size, d.maxBytes)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}
