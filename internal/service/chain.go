package service

import (
	"context"
	"fmt"
	"strings"

	"study-gateway/internal/model"
	"study-gateway/pkg/log"
)

// Exchange 是一次请求在编排链路中流转的全部输入。
type Exchange struct {
	ID               string
	UserID           string
	Assistant        string
	Mode             string
	Message          string
	Attachment       *model.Attachment
	AttachmentSearch bool
	History          []model.ChatMessage
	User             *UserContext
	Instructions     string
	Context          string
}

// Strategy 是回退链中的一个回复策略。
type Strategy interface {
	Name() string
	Applies(ex *Exchange) bool
	Reply(ctx context.Context, ex *Exchange) (string, error)
}

// Reply 是编排器的输出，Strategy 标记实际产生回复的策略。
type Reply struct {
	Text     string
	Strategy string
}

// StrategyFallback 是模板兜底策略的名称。
const StrategyFallback = "fallback"

// Orchestrator 按顺序尝试策略，第一个成功的胜出，最后总是落到模板兜底。
type Orchestrator struct {
	strategies []Strategy
}

// NewOrchestrator 创建编排器，strategies 按优先级排列。
func NewOrchestrator(strategies ...Strategy) *Orchestrator {
	return &Orchestrator{strategies: strategies}
}

// Reply 不返回错误：每个策略的失败都被记录并转入下一个策略。
func (o *Orchestrator) Reply(ctx context.Context, ex *Exchange) Reply {
	for _, s := range o.strategies {
		if ctx.Err() != nil {
			break
		}
		if !s.Applies(ex) {
			continue
		}
		text, err := o.try(ctx, s, ex)
		if err == nil {
			return Reply{Text: text, Strategy: s.Name()}
		}
		log.Warnw("回复策略失败，转入下一个", "strategy", s.Name(), "exchange", ex.ID, "error", err)
	}
	return Reply{
		Text:     FallbackReply(ex.Assistant, ex.Message, ex.User, ex.Attachment),
		Strategy: StrategyFallback,
	}
}

func (o *Orchestrator) try(ctx context.Context, s Strategy, ex *Exchange) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.Name(), r)
		}
	}()
	text, err = s.Reply(ctx, ex)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", upstreamError(s.Name(), "reply", ErrEmptyReply)
	}
	return text, nil
}
