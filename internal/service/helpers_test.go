package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/pkg/llm"
	"study-gateway/pkg/websearch"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ctx = context.Background()

var errNetwork = errors.New("dial tcp: connection refused")

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "service.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

func testPolicies() []model.TierPolicy {
	return []model.TierPolicy{
		{TierName: model.TierFree, PatrickEnabled: true, PatrickMessagesPerDay: 5, MaxMessageLength: 500},
		{TierName: model.TierTrial, NoraEnabled: true, NoraMessagesPerDay: 2, PatrickEnabled: true, PatrickMessagesPerDay: 15, MaxMessageLength: 2000, CooldownSeconds: 5},
		{TierName: model.TierPremium, PatrickEnabled: true, PatrickMessagesPerDay: 40, MaxMessageLength: 2000},
		{TierName: model.TierPro, NoraEnabled: true, NoraMessagesPerDay: 100, PatrickEnabled: true, PatrickMessagesPerDay: 100, MaxMessageLength: 5000, AttachmentUpload: true, AttachmentSearch: true},
	}
}

type testEnv struct {
	db          *gorm.DB
	profiles    repository.ProfileRepository
	tiers       repository.TierRepository
	usage       repository.UsageRepository
	messages    repository.MessageRepository
	threads     repository.ThreadRepository
	attachments repository.AttachmentRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:          db,
		profiles:    repository.NewProfileRepository(db),
		tiers:       repository.NewTierRepository(db),
		usage:       repository.NewUsageRepository(db),
		messages:    repository.NewMessageRepository(db),
		threads:     repository.NewThreadRepository(db),
		attachments: repository.NewAttachmentRepository(db),
	}
	require.NoError(t, env.tiers.Seed(ctx, testPolicies()))
	return env
}

func (e *testEnv) addProfile(t *testing.T, userID, fullName, tier string) {
	t.Helper()
	require.NoError(t, e.db.Create(&model.Profile{UserID: userID, FullName: fullName, SubscriptionTier: tier}).Error)
}

func (e *testEnv) countMessages(t *testing.T, userID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Message{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

// fakeLLM 记录每个调用，行为由各个 func 字段决定。
type fakeLLM struct {
	mu sync.Mutex

	threads   int
	uploads   int
	deleted   []string
	added     []string
	fileIDs   [][]string
	runReqs   []llm.RunRequest
	getRuns   int
	completes []llm.CompletionRequest

	createThreadErr error
	addErr          error
	runStatuses     []llm.RunStatus
	reply           string
	uploadErr       error
	complete        func(req llm.CompletionRequest) (*llm.Completion, error)
}

func (f *fakeLLM) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createThreadErr != nil {
		return "", f.createThreadErr
	}
	f.threads++
	return "thread_" + string(rune('0'+f.threads)), nil
}

func (f *fakeLLM) DeleteThread(_ context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, threadID)
	return nil
}

func (f *fakeLLM) deletedThreads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeLLM) AddMessage(_ context.Context, _ string, content string, fileIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, content)
	f.fileIDs = append(f.fileIDs, fileIDs)
	return nil
}

func (f *fakeLLM) CreateRun(_ context.Context, _ string, req llm.RunRequest) (llm.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runReqs = append(f.runReqs, req)
	return llm.Run{ID: "run_1", Status: llm.RunCreated}, nil
}

func (f *fakeLLM) GetRun(_ context.Context, _, runID string) (llm.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.getRuns
	f.getRuns++
	if i >= len(f.runStatuses) {
		i = len(f.runStatuses) - 1
	}
	return llm.Run{ID: runID, Status: f.runStatuses[i]}, nil
}

func (f *fakeLLM) LatestAssistantText(context.Context, string, string) (string, error) {
	return f.reply, nil
}

func (f *fakeLLM) UploadFile(context.Context, string, []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return "file_abc", nil
}

func (f *fakeLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.mu.Lock()
	f.completes = append(f.completes, req)
	f.mu.Unlock()
	if f.complete == nil {
		return nil, errNetwork
	}
	return f.complete(req)
}

// fakeClock 只记录睡眠，不真正等待。
type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return nil
}

type localLocker struct {
	mu sync.Mutex
}

func (l *localLocker) Lock(context.Context, string, time.Duration, time.Duration) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

type fakeDownloader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *fakeDownloader) Download(context.Context, string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return []byte("%PDF-1.4"), nil
}

type fakeSearch struct {
	queries []string
	results []websearch.Result
	err     error
}

func (s *fakeSearch) Search(_ context.Context, query string, _ int) ([]websearch.Result, error) {
	s.queries = append(s.queries, query)
	return s.results, s.err
}
