package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"study-gateway/internal/model"
	"study-gateway/pkg/storage"
)

// TextExtractor 从文档内容中抽取纯文本。
type TextExtractor interface {
	ExtractText(ctx context.Context, fileName string, data []byte) (string, error)
}

// DocumentExcerpter 为无状态补全提供附件的文本摘录，弥补该路径没有文件检索能力。
type DocumentExcerpter struct {
	downloader storage.Downloader
	extractor  TextExtractor
	maxChars   int
}

// NewDocumentExcerpter 创建一个新的 DocumentExcerpter，maxChars 限制摘录长度（按字符）。
func NewDocumentExcerpter(downloader storage.Downloader, extractor TextExtractor, maxChars int) *DocumentExcerpter {
	if maxChars <= 0 {
		maxChars = 6000
	}
	return &DocumentExcerpter{downloader: downloader, extractor: extractor, maxChars: maxChars}
}

// Excerpt 下载并抽取附件文本，压缩空白后截断。
func (e *DocumentExcerpter) Excerpt(ctx context.Context, attachment *model.Attachment) (string, error) {
	data, err := e.downloader.Download(ctx, attachment.StoragePath)
	if err != nil {
		return "", fmt.Errorf("download attachment: %w", err)
	}
	text, err := e.extractor.ExtractText(ctx, filepath.Base(attachment.StoragePath), data)
	if err != nil {
		return "", fmt.Errorf("extract attachment text: %w", err)
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > e.maxChars {
		text = string(r[:e.maxChars]) + "..."
	}
	return text, nil
}
