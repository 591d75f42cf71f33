package model

import "time"

// Attachment 是请求中携带的文档引用。
type Attachment struct {
	Title       string `json:"title" binding:"required"`
	StoragePath string `json:"storage_path" binding:"required"`
}

// AttachmentRef 缓存已上传到提供方文件库的文档句柄，(user_id, local_path) 唯一。
type AttachmentRef struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID             string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_attachment_user_path,priority:1" json:"userId"`
	LocalPath          string    `gorm:"type:varchar(512);not null;uniqueIndex:ux_attachment_user_path,priority:2" json:"localPath"`
	ExternalFileHandle string    `gorm:"type:varchar(128);not null" json:"externalFileHandle"`
	UploadedAt         time.Time `gorm:"not null" json:"uploadedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (AttachmentRef) TableName() string {
	return "ai_attachment_refs"
}
