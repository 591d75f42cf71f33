// Package llm 封装了 LLM 提供方：thread/run 协议与带工具调用的单次补全。
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"study-gateway/internal/config"

	"github.com/sashabaranov/go-openai"
)

// RunStatus 是对提供方 run 状态的归一化。
type RunStatus string

const (
	RunCreated    RunStatus = "created"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunTimedOut   RunStatus = "timed_out"
)

// Terminal 判断状态是否为终态。
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunTimedOut
}

// Run 是一次 run 的快照。
type Run struct {
	ID     string
	Status RunStatus
	Reason string
}

// RunRequest 描述一次 run 的创建参数。
type RunRequest struct {
	AssistantID            string
	Model                  string
	Instructions           string
	AdditionalInstructions string
}

// Message 表示一条角色消息
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall 是模型请求的一次函数调用。
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool 描述一个可供模型调用的函数，Parameters 为 JSON Schema。
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// CompletionRequest 是一次无状态补全请求。
type CompletionRequest struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Messages    []Message
	Tools       []Tool
}

// Completion 是补全结果：要么是文本，要么是工具调用。
type Completion struct {
	Content   string
	ToolCalls []ToolCall
}

// Client defines the interface for an LLM client.
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error
	// AddMessage 向 thread 追加一条用户消息，fileIDs 以 file_search 能力挂载。
	AddMessage(ctx context.Context, threadID, content string, fileIDs []string) error
	CreateRun(ctx context.Context, threadID string, req RunRequest) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	// LatestAssistantText 返回 run 产生的最新一条 assistant 消息的全部文本段拼接。
	LatestAssistantText(ctx context.Context, threadID, runID string) (string, error)
	UploadFile(ctx context.Context, name string, data []byte) (string, error)
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

type openaiClient struct {
	api *openai.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return &openaiClient{api: openai.NewClientWithConfig(c)}
}

// StatusCode 从提供方错误中提取 HTTP 状态码，非 API 错误返回 0。
func StatusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func (c *openaiClient) CreateThread(ctx context.Context) (string, error) {
	th, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return th.ID, nil
}

func (c *openaiClient) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := c.api.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

func (c *openaiClient) AddMessage(ctx context.Context, threadID, content string, fileIDs []string) error {
	req := openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: content,
	}
	for _, id := range fileIDs {
		req.Attachments = append(req.Attachments, openai.ThreadAttachment{
			FileID: id,
			Tools:  []openai.ThreadAttachmentTool{{Type: "file_search"}},
		})
	}
	if _, err := c.api.CreateMessage(ctx, threadID, req); err != nil {
		return fmt.Errorf("add message to thread %s: %w", threadID, err)
	}
	return nil
}

func (c *openaiClient) CreateRun(ctx context.Context, threadID string, req RunRequest) (Run, error) {
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID:            req.AssistantID,
		Model:                  req.Model,
		Instructions:           req.Instructions,
		AdditionalInstructions: req.AdditionalInstructions,
	})
	if err != nil {
		return Run{}, fmt.Errorf("create run on thread %s: %w", threadID, err)
	}
	return toRun(run), nil
}

func (c *openaiClient) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("retrieve run %s: %w", runID, err)
	}
	return toRun(run), nil
}

func toRun(r openai.Run) Run {
	out := Run{ID: r.ID, Status: normalizeStatus(r.Status)}
	if r.LastError != nil {
		out.Reason = r.LastError.Message
	} else if out.Status == RunFailed {
		out.Reason = string(r.Status)
	}
	return out
}

// requires_action 只会出现在函数工具上，这里不提交工具输出，按失败处理。
func normalizeStatus(s openai.RunStatus) RunStatus {
	switch s {
	case openai.RunStatusQueued:
		return RunCreated
	case openai.RunStatusInProgress, openai.RunStatusCancelling:
		return RunInProgress
	case openai.RunStatusCompleted:
		return RunCompleted
	case openai.RunStatusExpired:
		return RunTimedOut
	default:
		return RunFailed
	}
}

func (c *openaiClient) LatestAssistantText(ctx context.Context, threadID, runID string) (string, error) {
	limit := 10
	order := "desc"
	var runFilter *string
	if runID != "" {
		runFilter = &runID
	}
	list, err := c.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, runFilter)
	if err != nil {
		return "", fmt.Errorf("list messages of thread %s: %w", threadID, err)
	}
	for _, m := range list.Messages {
		if m.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		var sb strings.Builder
		for _, part := range m.Content {
			if part.Text != nil {
				sb.WriteString(part.Text.Value)
			}
		}
		return sb.String(), nil
	}
	return "", nil
}

func (c *openaiClient) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	f, err := c.api.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    name,
		Bytes:   data,
		Purpose: openai.PurposeAssistants,
	})
	if err != nil {
		return "", fmt.Errorf("upload file %s: %w", name, err)
	}
	return f.ID, nil
}

func (c *openaiClient) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:       tc.ID,
				Type:     openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		chatReq.Messages = append(chatReq.Messages, msg)
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	if len(chatReq.Tools) > 0 {
		chatReq.ToolChoice = "auto"
	}

	resp, err := c.api.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	msg := resp.Choices[0].Message
	out := &Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}
