package model

import "time"

// TierPolicy 对应 tier_policies 表，描述一个订阅等级的 AI 配额与权限。
// 对网关而言是只读数据，启动时可由配置种子写入。
type TierPolicy struct {
	TierName              string    `gorm:"type:varchar(32);primaryKey" json:"tierName"`
	NoraEnabled           bool      `gorm:"not null;default:false" json:"noraEnabled"`
	NoraMessagesPerDay    int       `gorm:"not null;default:0" json:"noraMessagesPerDay"`
	PatrickEnabled        bool      `gorm:"not null;default:false" json:"patrickEnabled"`
	PatrickMessagesPerDay int       `gorm:"not null;default:0" json:"patrickMessagesPerDay"`
	MaxMessageLength      int       `gorm:"not null" json:"maxMessageLength"`
	CooldownSeconds       int       `gorm:"not null;default:0" json:"cooldownSeconds"`
	AttachmentUpload      bool      `gorm:"not null;default:false" json:"attachmentUpload"`
	AttachmentSearch      bool      `gorm:"not null;default:false" json:"attachmentSearch"`
	UpdatedAt             time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (TierPolicy) TableName() string {
	return "tier_policies"
}

// Quota 返回指定助手在该等级下是否可用以及每日消息上限。
func (p *TierPolicy) Quota(assistant string) (enabled bool, perDay int) {
	switch assistant {
	case AssistantNora:
		return p.NoraEnabled, p.NoraMessagesPerDay
	case AssistantPatrick:
		return p.PatrickEnabled, p.PatrickMessagesPerDay
	}
	return false, 0
}
