package service

import (
	"testing"
	"time"

	"study-gateway/internal/config"
	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/pkg/llm"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatFixture struct {
	env     *testEnv
	client  *fakeLLM
	history repository.HistoryRepository
	svc     *chatService
	acct    *UsageAccountant
}

func newChatFixture(t *testing.T, client *fakeLLM) *chatFixture {
	t.Helper()
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	history := repository.NewHistoryRepository(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	llmCfg, chatCfg := threadConfigs()
	cfg := config.Config{
		Server: config.ServerConfig{RequestTimeout: time.Minute},
		LLM:    llmCfg,
		Chat:   chatCfg,
		Usage:  config.UsageConfig{CharsPerToken: 4, InputRatePer1K: 0.01, OutputRatePer1K: 0.03},
	}
	cfg.Chat.HistoryLimit = 10

	thread := NewThreadDriver(client, env.threads, NewAttachmentService(env.attachments, &localLocker{}, &fakeDownloader{}, client), cfg.LLM, cfg.Chat)
	thread.clock = &fakeClock{}
	acct := NewUsageAccountant(NewUsageWriter(env.usage), cfg.Usage)

	svc := NewChatService(ChatDeps{
		Access:       NewAccessService(env.profiles, env.tiers, env.usage),
		Profiles:     env.profiles,
		MessageStore: env.messages,
		History:      history,
		Threads:      env.threads,
		LLM:          client,
		Orchestrator: NewOrchestrator(thread, NewCompletionDriver(client, nil, cfg.LLM, cfg.Chat, 5)),
		Supplementer: NewSupplementer(env.usage, nil, []string{"research"}, 5),
		Accountant:   acct,
	}, cfg).(*chatService)

	tick := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return &chatFixture{env: env, client: client, history: history, svc: svc, acct: acct}
}

func (f *chatFixture) usageRecords(t *testing.T) []model.UsageRecord {
	t.Helper()
	f.acct.Wait()
	var recs []model.UsageRecord
	require.NoError(t, f.env.db.Find(&recs).Error)
	return recs
}

func TestChatService_BothDriversFailStillAnswers(t *testing.T) {
	f := newChatFixture(t, &fakeLLM{createThreadErr: errNetwork})
	f.env.addProfile(t, "u1", "Maya Chen", model.TierPro)

	res, err := f.svc.Send(ctx, "u1", ChatRequest{Message: "hello there", AssistantType: model.AssistantNora})

	require.NoError(t, err)
	assert.NotEmpty(t, res.Response)
	assert.Contains(t, res.Response, "Maya")
	assert.Equal(t, StrategyFallback, res.ContextSummary.Strategy)
	assert.Equal(t, model.TierPro, res.Tier)
	assert.Equal(t, 99, res.RemainingMessages)

	msgs, err := f.env.messages.ListRecent(ctx, "u1", model.AssistantNora, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.SenderUser, msgs[0].Sender)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, model.SenderAssistant, msgs[1].Sender)
	assert.Equal(t, res.Response, msgs[1].Content)

	recs := f.usageRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, StrategyFallback, recs[0].Strategy)
	assert.Equal(t, 3, recs[0].InputTokens)
}

func TestChatService_ThreadReplyAndHistory(t *testing.T) {
	client := &fakeLLM{runStatuses: []llm.RunStatus{llm.RunInProgress, llm.RunCompleted}, reply: "Use active recall."}
	f := newChatFixture(t, client)
	f.env.addProfile(t, "u1", "Maya Chen", model.TierPro)

	res, err := f.svc.Send(ctx, "u1", ChatRequest{
		Message:       "how should I <b>study</b>?",
		AssistantType: model.AssistantNora,
		ThinkingMode:  model.ModeDeep,
		Attachment:    &model.Attachment{Title: "Bio", StoragePath: "u1/bio.pdf"},
	})

	require.NoError(t, err)
	assert.Equal(t, "Use active recall.", res.Response)
	assert.Equal(t, ContextSummary{PDFActive: true, FocusMethod: "Balanced Focus", UserLevel: 1, Strategy: StrategyThread, Mode: model.ModeDeep}, res.ContextSummary)
	assert.Equal(t, []string{"how should I bstudy/b?"}, client.added)
	require.Len(t, client.runReqs, 1)
	assert.Equal(t, "large", client.runReqs[0].Model)
	assert.Contains(t, client.runReqs[0].AdditionalInstructions, "**Active Document:** Bio")
	assert.Contains(t, client.runReqs[0].AdditionalInstructions, "Recent Activity")

	h, err := f.history.Get(ctx, "u1", model.AssistantNora)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, "Use active recall.", h[1].Content)

	msgs, err := f.svc.Messages(ctx, "u1", model.AssistantNora, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.NotNil(t, msgs[0].AttachmentPath)
	assert.Equal(t, "u1/bio.pdf", *msgs[0].AttachmentPath)
}

func TestChatService_PolicyDenialWritesNothing(t *testing.T) {
	client := &fakeLLM{runStatuses: []llm.RunStatus{llm.RunCompleted}, reply: "x"}
	f := newChatFixture(t, client)
	f.env.addProfile(t, "u2", "Ben", model.TierTrial)
	require.NoError(t, f.env.db.Create(&model.UsageCounter{
		UserID: "u2", AssistantType: model.AssistantNora, Date: time.Now().UTC().Format("2006-01-02"), MessagesSent: 2,
	}).Error)

	_, err := f.svc.Send(ctx, "u2", ChatRequest{Message: "hi", AssistantType: model.AssistantNora})

	pe := requirePolicyError(t, err, CodeAccessDenied)
	assert.Equal(t, 0, pe.RemainingMessages)
	assert.Equal(t, int64(0), f.env.countMessages(t, "u2"))
	assert.Empty(t, f.usageRecords(t))
	assert.Zero(t, client.threads)
	assert.Empty(t, client.completes)
}

func TestChatService_FastModeForPatrickUsesRequestHistory(t *testing.T) {
	client := &fakeLLM{complete: func(llm.CompletionRequest) (*llm.Completion, error) {
		return &llm.Completion{Content: "One step at a time."}, nil
	}}
	f := newChatFixture(t, client)
	f.env.addProfile(t, "u3", "Cleo", model.TierPremium)

	res, err := f.svc.Send(ctx, "u3", ChatRequest{
		Message:       "I'm procrastinating",
		AssistantType: model.AssistantPatrick,
		ThinkingMode:  model.ModeDeep,
		ConversationHistory: []model.ChatMessage{
			{Role: "user", Content: "<script>x</script>"},
			{Role: "assistant", Content: "Hi Cleo"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, StrategyCompletion, res.ContextSummary.Strategy)
	assert.Equal(t, model.ModeFast, res.ContextSummary.Mode)
	require.Len(t, client.completes, 1)
	// system + 一条有效历史 + 当前消息
	assert.Len(t, client.completes[0].Messages, 3)
	assert.Zero(t, client.threads)
}

func TestChatService_ResetThread(t *testing.T) {
	client := &fakeLLM{runStatuses: []llm.RunStatus{llm.RunCompleted}, reply: "ok"}
	f := newChatFixture(t, client)
	f.env.addProfile(t, "u1", "Maya", model.TierPro)

	_, err := f.svc.Send(ctx, "u1", ChatRequest{Message: "hi", AssistantType: model.AssistantNora})
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetThread(ctx, "u1", model.AssistantNora))
	assert.Equal(t, []string{"thread_1"}, client.deleted)
	h, err := f.history.Get(ctx, "u1", model.AssistantNora)
	require.NoError(t, err)
	assert.Empty(t, h)

	require.NoError(t, f.svc.ResetThread(ctx, "u1", model.AssistantNora))
	assert.Len(t, client.deleted, 1)

	assert.Error(t, f.svc.ResetThread(ctx, "u1", "clippy"))
}

func TestChatService_UnknownAssistant(t *testing.T) {
	f := newChatFixture(t, &fakeLLM{})
	_, err := f.svc.Send(ctx, "u1", ChatRequest{Message: "hi", AssistantType: "clippy"})
	requirePolicyError(t, err, CodeAccessDenied)
}
