package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"study-gateway/internal/config"
	"study-gateway/internal/model"
	"study-gateway/pkg/llm"
	"study-gateway/pkg/log"
	"study-gateway/pkg/websearch"
)

// StrategyCompletion 是无状态补全策略的名称。
const StrategyCompletion = "completion"

const webSearchTool = "web_search"

// CompletionDriver 用单次补全加至多一轮工具调用获取回复。
type CompletionDriver struct {
	client     llm.Client
	search     websearch.Client
	llmCfg     config.LLMConfig
	chatCfg    config.ChatConfig
	maxResults int
	documents  *DocumentExcerpter
}

// NewCompletionDriver 创建无状态补全驱动。search 为 nil 时不向模型提供检索工具。
func NewCompletionDriver(client llm.Client, search websearch.Client, llmCfg config.LLMConfig, chatCfg config.ChatConfig, maxResults int) *CompletionDriver {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &CompletionDriver{client: client, search: search, llmCfg: llmCfg, chatCfg: chatCfg, maxResults: maxResults}
}

// WithDocuments 启用附件摘录：有附件时把文档文本并入系统消息。
func (d *CompletionDriver) WithDocuments(e *DocumentExcerpter) *CompletionDriver {
	d.documents = e
	return d
}

func (d *CompletionDriver) Name() string { return StrategyCompletion }

func (d *CompletionDriver) Applies(*Exchange) bool { return true }

func (d *CompletionDriver) Reply(ctx context.Context, ex *Exchange) (string, error) {
	if d.chatCfg.CompletionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.chatCfg.CompletionTimeout)
		defer cancel()
	}

	gen := d.llmCfg.Generation(ex.Assistant, ex.Mode)
	req := llm.CompletionRequest{
		Model:       gen.Model,
		Temperature: float32(gen.Temperature),
		MaxTokens:   gen.MaxTokens,
		Messages:    composeMessages(ex, d.documentExcerpt(ctx, ex)),
	}
	if d.search != nil {
		req.Tools = []llm.Tool{searchToolDefinition()}
	}

	resp, err := d.client.Complete(ctx, req)
	if err != nil {
		return "", upstreamError(StrategyCompletion, "complete", err)
	}
	if len(resp.ToolCalls) > 0 && d.search != nil {
		// 只做一轮工具调用，第二次请求不再提供工具
		req.Messages = append(req.Messages, llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})
		for _, tc := range resp.ToolCalls {
			req.Messages = append(req.Messages, llm.Message{
				Role:       "tool",
				ToolCallID: tc.ID,
				Content:    d.runTool(ctx, tc),
			})
		}
		req.Tools = nil
		resp, err = d.client.Complete(ctx, req)
		if err != nil {
			return "", upstreamError(StrategyCompletion, "complete after tool", err)
		}
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", upstreamError(StrategyCompletion, "complete", ErrEmptyReply)
	}
	return text, nil
}

// documentExcerpt 失败时只记录日志，回复照常进行。
func (d *CompletionDriver) documentExcerpt(ctx context.Context, ex *Exchange) string {
	if d.documents == nil || ex.Attachment == nil || !ex.AttachmentSearch {
		return ""
	}
	text, err := d.documents.Excerpt(ctx, ex.Attachment)
	if err != nil {
		log.Warnw("抽取附件摘录失败", "exchange", ex.ID, "path", ex.Attachment.StoragePath, "error", err)
		return ""
	}
	return text
}

func composeMessages(ex *Exchange, excerpt string) []llm.Message {
	system := ex.Instructions
	if ex.Context != "" {
		system += "\n\n" + ex.Context
	}
	if excerpt != "" {
		system += fmt.Sprintf("\n\n**Document Excerpt (%s):**\n%s", ex.Attachment.Title, excerpt)
	}
	msgs := make([]llm.Message, 0, len(ex.History)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: system})
	for _, h := range ex.History {
		role := h.Role
		if role != model.SenderAssistant {
			role = model.SenderUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: h.Content})
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: ex.Message})
	return msgs
}

func searchToolDefinition() llm.Tool {
	return llm.Tool{
		Name:        webSearchTool,
		Description: "Search the web for current information, recent research, statistics or facts the student asks about.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
			},
			"required": []string{"query"},
		},
	}
}

// runTool 执行一次工具调用，错误以文本形式交还给模型。
func (d *CompletionDriver) runTool(ctx context.Context, tc llm.ToolCall) string {
	if tc.Name != webSearchTool {
		return fmt.Sprintf("Unknown tool: %s", tc.Name)
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return "Invalid search arguments."
	}
	results, err := d.search.Search(ctx, args.Query, d.maxResults)
	if err != nil {
		log.Warnw("工具检索失败", "query", args.Query, "error", err)
		return fmt.Sprintf("Search failed: %v", err)
	}
	return websearch.Format(results)
}
