// Package tasks 定义了经 Kafka 传递的任务结构。
package tasks

import "time"

// UsageTask 是一次完成交互的用量事件，由用量核算方发出、由账本写入方消费。
type UsageTask struct {
	ExchangeID    string    `json:"exchange_id"`
	UserID        string    `json:"user_id"`
	AssistantType string    `json:"assistant_type"`
	Strategy      string    `json:"strategy"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	CostEstimate  float64   `json:"cost_estimate"`
	Timestamp     time.Time `json:"timestamp"`
}
