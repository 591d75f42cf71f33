package model

import "time"

// 消息发送方。
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
)

// ChatMessage 代表存储在 Redis 中的单条对话消息，也是无状态协议的历史轮次。
type ChatMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Message 是消息存储中的一条记录，只追加、不修改。
type Message struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         string    `gorm:"type:varchar(64);not null;index:idx_message_user_ai,priority:1" json:"userId"`
	AssistantType  string    `gorm:"type:varchar(32);not null;index:idx_message_user_ai,priority:2" json:"assistantType"`
	Sender         string    `gorm:"type:varchar(16);not null" json:"sender"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	AttachmentPath *string   `gorm:"type:varchar(512)" json:"attachmentPath,omitempty"`
	CreatedAt      time.Time `gorm:"not null;index" json:"timestamp"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Message) TableName() string {
	return "ai_chat_messages"
}
