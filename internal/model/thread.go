package model

import "time"

// ThreadHandle 把 (用户, 助手) 映射到提供方的 thread。唯一索引保证同一对最多一个句柄。
type ThreadHandle struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_thread_user_ai,priority:1" json:"userId"`
	AssistantType  string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_thread_user_ai,priority:2" json:"assistantType"`
	ExternalHandle string    `gorm:"type:varchar(128);not null" json:"externalHandle"`
	CreatedAt      time.Time `gorm:"not null" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ThreadHandle) TableName() string {
	return "ai_thread_handles"
}
