package model

import "time"

// UsageCounter 是用量账本的一行：每个 (用户, 助手, 日期) 一行。
// messages_sent 通过单条条件 UPDATE 原子递增。
type UsageCounter struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_usage_user_ai_date,priority:1" json:"userId"`
	AssistantType string     `gorm:"type:varchar(32);not null;uniqueIndex:ux_usage_user_ai_date,priority:2" json:"assistantType"`
	Date          string     `gorm:"type:char(10);not null;uniqueIndex:ux_usage_user_ai_date,priority:3" json:"date"` // YYYY-MM-DD (UTC)
	MessagesSent  int        `gorm:"not null;default:0" json:"messagesSent"`
	TokensUsed    int64      `gorm:"not null;default:0" json:"tokensUsed"`
	CostEstimate  float64    `gorm:"not null;default:0" json:"costEstimate"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UsageCounter) TableName() string {
	return "ai_usage_tracking"
}

// UsageRecord 是一次完成交互的用量记录，只追加。ExchangeID 唯一，保证至多写入一次。
type UsageRecord struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ExchangeID    string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"exchangeId"`
	UserID        string    `gorm:"type:varchar(64);not null;index:idx_usage_record_user_ai,priority:1" json:"userId"`
	AssistantType string    `gorm:"type:varchar(32);not null;index:idx_usage_record_user_ai,priority:2" json:"assistantType"`
	Strategy      string    `gorm:"type:varchar(32)" json:"strategy"`
	InputTokens   int       `gorm:"not null;default:0" json:"inputTokens"`
	OutputTokens  int       `gorm:"not null;default:0" json:"outputTokens"`
	TokensUsed    int       `gorm:"not null;default:0" json:"tokensUsed"`
	CostEstimate  float64   `gorm:"not null;default:0" json:"costEstimate"`
	Timestamp     time.Time `gorm:"not null;index" json:"timestamp"`
}

func (UsageRecord) TableName() string {
	return "ai_usage_records"
}
