package service

import (
	"errors"
	"testing"

	"study-gateway/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentService_UploadsOncePerUserAndPath(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeLLM{}
	downloader := &fakeDownloader{}
	svc := NewAttachmentService(env.attachments, &localLocker{}, downloader, client)
	doc := &model.Attachment{Title: "Bio", StoragePath: "u1/bio.pdf"}

	first, err := svc.Resolve(ctx, "u1", doc)
	require.NoError(t, err)
	second, err := svc.Resolve(ctx, "u1", doc)
	require.NoError(t, err)

	assert.Equal(t, "file_abc", first)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, client.uploads)
	assert.Equal(t, 1, downloader.calls)

	// 其他用户的同名路径独立上传
	_, err = svc.Resolve(ctx, "u2", doc)
	require.NoError(t, err)
	assert.Equal(t, 2, client.uploads)
}

func TestAttachmentService_FailuresAreNotCached(t *testing.T) {
	env := newTestEnv(t)
	client := &fakeLLM{uploadErr: errors.New("413 too large")}
	svc := NewAttachmentService(env.attachments, &localLocker{}, &fakeDownloader{}, client)
	doc := &model.Attachment{Title: "Bio", StoragePath: "u1/bio.pdf"}

	_, err := svc.Resolve(ctx, "u1", doc)
	require.Error(t, err)

	client.uploadErr = nil
	id, err := svc.Resolve(ctx, "u1", doc)
	require.NoError(t, err)
	assert.Equal(t, "file_abc", id)

	missing := NewAttachmentService(env.attachments, &localLocker{}, &fakeDownloader{err: errors.New("no such key")}, client)
	_, err = missing.Resolve(ctx, "u1", &model.Attachment{Title: "x", StoragePath: "u1/none.pdf"})
	assert.ErrorContains(t, err, "download attachment")
}
