// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"time"

	"study-gateway/internal/config"
	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/pkg/llm"
	"study-gateway/pkg/log"

	"github.com/google/uuid"
)

// ChatRequest 是一次聊天请求。
type ChatRequest struct {
	Message             string              `json:"message" binding:"required"`
	AssistantType       string              `json:"assistant_type" binding:"required"`
	ThinkingMode        string              `json:"thinking_mode"`
	Attachment          *model.Attachment   `json:"attachment"`
	ConversationHistory []model.ChatMessage `json:"conversation_history"`
}

// ContextSummary 描述本次回复使用的上下文。
type ContextSummary struct {
	PDFActive   bool   `json:"pdfActive"`
	FocusMethod string `json:"focusMethod"`
	UserLevel   int    `json:"userLevel"`
	Strategy    string `json:"strategy"`
	Mode        string `json:"mode"`
}

// ChatResult 是成功时返回给调用方的结果。
type ChatResult struct {
	Response          string         `json:"response"`
	Tier              string         `json:"tier"`
	RemainingMessages int            `json:"remaining_messages"`
	ContextSummary    ContextSummary `json:"context_summary"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Send 只会返回 *PolicyError；上游故障全部由回退链吸收。
	Send(ctx context.Context, userID string, req ChatRequest) (*ChatResult, error)
	Quota(ctx context.Context, userID, assistant string) (*AccessDecision, error)
	Messages(ctx context.Context, userID, assistant string, limit int) ([]model.Message, error)
	// ResetThread 丢弃用户与助手的 thread 和缓存的历史，下次请求从新对话开始。
	ResetThread(ctx context.Context, userID, assistant string) error
}

// ChatDeps 汇集 ChatService 的协作者。
type ChatDeps struct {
	Access       AccessService
	Profiles     repository.ProfileRepository
	MessageStore repository.MessageRepository
	History      repository.HistoryRepository
	Threads      repository.ThreadRepository
	LLM          llm.Client
	Orchestrator *Orchestrator
	Supplementer *Supplementer
	Accountant   *UsageAccountant
}

type chatService struct {
	ChatDeps
	cfg config.Config
	now func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(deps ChatDeps, cfg config.Config) ChatService {
	return &chatService{ChatDeps: deps, cfg: cfg, now: time.Now}
}

func invalidAssistant() *PolicyError {
	return &PolicyError{Code: CodeAccessDenied, Message: "Unknown assistant type."}
}

func (s *chatService) Send(ctx context.Context, userID string, req ChatRequest) (*ChatResult, error) {
	if !model.IsValidAssistant(req.AssistantType) {
		return nil, invalidAssistant()
	}
	decision, err := s.Access.Check(ctx, AccessRequest{
		UserID:        userID,
		Assistant:     req.AssistantType,
		Message:       req.Message,
		HasAttachment: req.Attachment != nil,
	})
	if err != nil {
		return nil, err
	}

	mode := model.ModeFast
	if req.AssistantType == model.AssistantNora && req.ThinkingMode == model.ModeDeep {
		mode = model.ModeDeep
	}

	if s.cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.RequestTimeout)
		defer cancel()
	}

	user := LoadUserContext(ctx, s.Profiles, userID, decision.Profile)
	var supplement string
	if mode == model.ModeDeep && s.Supplementer != nil {
		supplement = s.Supplementer.Gather(ctx, userID, decision.Sanitized, user)
	}

	ex := &Exchange{
		ID:               uuid.NewString(),
		UserID:           userID,
		Assistant:        req.AssistantType,
		Mode:             mode,
		Message:          decision.Sanitized,
		Attachment:       req.Attachment,
		AttachmentSearch: decision.Policy.AttachmentSearch,
		History:          s.history(ctx, userID, req),
		User:             user,
		Instructions:     Instructions(req.AssistantType),
		Context:          BuildContext(user, req.Attachment, supplement),
	}

	// 先落用户消息，再尝试回复策略
	s.appendMessage(ctx, ex, model.SenderUser, ex.Message)

	reply := s.Orchestrator.Reply(ctx, ex)

	// 回复已经确定，后续写入不受请求取消影响
	persistCtx := context.WithoutCancel(ctx)
	s.appendMessage(persistCtx, ex, model.SenderAssistant, reply.Text)
	s.appendHistory(persistCtx, ex, reply.Text)
	if s.Accountant != nil {
		s.Accountant.Record(ex, reply)
	}

	log.Infow("聊天请求完成", "exchange", ex.ID, "userID", userID, "assistant", ex.Assistant, "mode", mode, "strategy", reply.Strategy)
	return &ChatResult{
		Response:          reply.Text,
		Tier:              decision.Tier,
		RemainingMessages: decision.RemainingMessages,
		ContextSummary: ContextSummary{
			PDFActive:   req.Attachment != nil,
			FocusMethod: user.FocusMethod(),
			UserLevel:   user.Level(),
			Strategy:    reply.Strategy,
			Mode:        mode,
		},
	}, nil
}

// history 优先使用请求携带的历史，其次是 Redis 缓存，最后回落到消息存储。
func (s *chatService) history(ctx context.Context, userID string, req ChatRequest) []model.ChatMessage {
	limit := s.cfg.Chat.HistoryLimit
	if len(req.ConversationHistory) > 0 {
		return lastN(sanitizeHistory(req.ConversationHistory), limit)
	}
	if s.History != nil {
		h, err := s.History.Get(ctx, userID, req.AssistantType)
		if err != nil {
			log.Warnw("读取 Redis 历史失败", "userID", userID, "error", err)
		} else if len(h) > 0 {
			return lastN(h, limit)
		}
	}
	msgs, err := s.MessageStore.ListRecent(ctx, userID, req.AssistantType, limit)
	if err != nil {
		log.Warnw("读取消息存储历史失败", "userID", userID, "error", err)
		return nil
	}
	out := make([]model.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.ChatMessage{Role: m.Sender, Content: m.Content, Timestamp: m.CreatedAt})
	}
	return out
}

func sanitizeHistory(in []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, len(in))
	for _, m := range in {
		content := Sanitize(m.Content)
		if content == "" {
			continue
		}
		role := model.SenderUser
		if m.Role == model.SenderAssistant {
			role = model.SenderAssistant
		}
		out = append(out, model.ChatMessage{Role: role, Content: content, Timestamp: m.Timestamp})
	}
	return out
}

func lastN(h []model.ChatMessage, n int) []model.ChatMessage {
	if n > 0 && len(h) > n {
		return h[len(h)-n:]
	}
	return h
}

func (s *chatService) appendMessage(ctx context.Context, ex *Exchange, sender, content string) {
	msg := &model.Message{
		ID:            uuid.NewString(),
		UserID:        ex.UserID,
		AssistantType: ex.Assistant,
		Sender:        sender,
		Content:       content,
		CreatedAt:     s.now().UTC(),
	}
	if ex.Attachment != nil && sender == model.SenderUser {
		path := ex.Attachment.StoragePath
		msg.AttachmentPath = &path
	}
	if err := s.MessageStore.Append(ctx, msg); err != nil {
		log.Warnw("写入消息失败", "exchange", ex.ID, "sender", sender, "error", err)
	}
}

func (s *chatService) appendHistory(ctx context.Context, ex *Exchange, reply string) {
	if s.History == nil {
		return
	}
	now := s.now()
	err := s.History.Append(ctx, ex.UserID, ex.Assistant,
		model.ChatMessage{Role: model.SenderUser, Content: ex.Message, Timestamp: now},
		model.ChatMessage{Role: model.SenderAssistant, Content: reply, Timestamp: now},
	)
	if err != nil {
		log.Warnw("写入 Redis 历史失败", "exchange", ex.ID, "error", err)
	}
}

func (s *chatService) Quota(ctx context.Context, userID, assistant string) (*AccessDecision, error) {
	if !model.IsValidAssistant(assistant) {
		return nil, invalidAssistant()
	}
	return s.Access.Preview(ctx, userID, assistant)
}

func (s *chatService) Messages(ctx context.Context, userID, assistant string, limit int) ([]model.Message, error) {
	if !model.IsValidAssistant(assistant) {
		return nil, invalidAssistant()
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.MessageStore.ListRecent(ctx, userID, assistant, limit)
}

func (s *chatService) ResetThread(ctx context.Context, userID, assistant string) error {
	if !model.IsValidAssistant(assistant) {
		return invalidAssistant()
	}
	handle, err := s.Threads.Delete(ctx, userID, assistant)
	if err != nil {
		return err
	}
	if handle != nil && s.LLM != nil {
		if err := s.LLM.DeleteThread(ctx, handle.ExternalHandle); err != nil {
			log.Warnw("删除提供方 thread 失败", "thread", handle.ExternalHandle, "error", err)
		}
	}
	if s.History != nil {
		if err := s.History.Clear(ctx, userID, assistant); err != nil && !errors.Is(err, context.Canceled) {
			log.Warnw("清理 Redis 历史失败", "userID", userID, "error", err)
		}
	}
	return nil
}
