package service

import (
	"context"
	"errors"
	"fmt"

	"study-gateway/internal/config"
	"study-gateway/internal/repository"
	"study-gateway/pkg/llm"
	"study-gateway/pkg/log"
	"study-gateway/pkg/poll"
)

// StrategyThread 是 thread 协议策略的名称。
const StrategyThread = "thread"

// ThreadDriver 通过提供方的 thread/run 协议获取回复，支持附件检索。
type ThreadDriver struct {
	client      llm.Client
	threads     repository.ThreadRepository
	attachments AttachmentService
	llmCfg      config.LLMConfig
	chatCfg     config.ChatConfig
	clock       poll.Clock
}

// NewThreadDriver 创建 thread 协议驱动。attachments 为 nil 时忽略附件。
func NewThreadDriver(client llm.Client, threads repository.ThreadRepository, attachments AttachmentService, llmCfg config.LLMConfig, chatCfg config.ChatConfig) *ThreadDriver {
	return &ThreadDriver{
		client:      client,
		threads:     threads,
		attachments: attachments,
		llmCfg:      llmCfg,
		chatCfg:     chatCfg,
		clock:       poll.RealClock{},
	}
}

func (d *ThreadDriver) Name() string { return StrategyThread }

// Applies 只有配置了 assistant_id 的助手才走 thread 协议。
func (d *ThreadDriver) Applies(ex *Exchange) bool {
	return d.llmCfg.Assistants[ex.Assistant].AssistantID != ""
}

func (d *ThreadDriver) Reply(ctx context.Context, ex *Exchange) (string, error) {
	handle, created, discard, err := d.threads.GetOrCreate(ctx, ex.UserID, ex.Assistant, d.chatCfg.ThreadTTL, d.client.CreateThread)
	if len(discard) > 0 {
		go d.dropThreads(context.WithoutCancel(ctx), discard)
	}
	if err != nil {
		return "", upstreamError(StrategyThread, "resolve thread", err)
	}
	if created {
		log.Infow("已为用户创建新 thread", "userID", ex.UserID, "assistant", ex.Assistant, "thread", handle.ExternalHandle)
	}
	threadID := handle.ExternalHandle

	var fileIDs []string
	if ex.Attachment != nil && ex.AttachmentSearch && d.attachments != nil {
		fileID, err := d.attachments.Resolve(ctx, ex.UserID, ex.Attachment)
		if err != nil {
			return "", upstreamError(StrategyThread, "resolve attachment", err)
		}
		fileIDs = append(fileIDs, fileID)
	}
	if err := d.client.AddMessage(ctx, threadID, ex.Message, fileIDs); err != nil {
		return "", upstreamError(StrategyThread, "add message", err)
	}

	gen := d.llmCfg.Generation(ex.Assistant, ex.Mode)
	run, err := d.client.CreateRun(ctx, threadID, llm.RunRequest{
		AssistantID:            d.llmCfg.Assistants[ex.Assistant].AssistantID,
		Model:                  gen.Model,
		Instructions:           ex.Instructions,
		AdditionalInstructions: ex.Context,
	})
	if err != nil {
		return "", upstreamError(StrategyThread, "create run", err)
	}

	policy := poll.Policy{Interval: d.chatCfg.PollInterval, MaxAttempts: d.chatCfg.PollMaxAttempts}
	run, err = poll.Until(ctx, d.clock, policy,
		func(ctx context.Context) (llm.Run, error) { return d.client.GetRun(ctx, threadID, run.ID) },
		func(r llm.Run) bool { return r.Status.Terminal() },
	)
	if errors.Is(err, poll.ErrExhausted) {
		return "", upstreamError(StrategyThread, "poll run", fmt.Errorf("run %s still %s after %d polls: %w", run.ID, run.Status, policy.MaxAttempts, err))
	}
	if err != nil {
		return "", upstreamError(StrategyThread, "poll run", err)
	}
	if run.Status != llm.RunCompleted {
		return "", upstreamError(StrategyThread, "poll run", fmt.Errorf("run %s ended %s: %s", run.ID, run.Status, run.Reason))
	}

	text, err := d.client.LatestAssistantText(ctx, threadID, run.ID)
	if err != nil {
		return "", upstreamError(StrategyThread, "list messages", err)
	}
	if text == "" {
		return "", upstreamError(StrategyThread, "list messages", ErrEmptyReply)
	}
	return text, nil
}

// dropThreads 删除已轮换或并发创建中落败的 thread，失败只记录。
func (d *ThreadDriver) dropThreads(ctx context.Context, threadIDs []string) {
	for _, id := range threadIDs {
		if err := d.client.DeleteThread(ctx, id); err != nil {
			log.Warnw("删除多余 thread 失败", "thread", id, "error", err)
		}
	}
}
