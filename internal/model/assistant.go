// Package model 包含了应用的数据模型定义。
package model

// 助手类型。nora 支持 thread 协议、思考模式和文档检索；patrick 只走无状态补全。
const (
	AssistantNora    = "nora"
	AssistantPatrick = "patrick"
)

// 思考模式，仅对 nora 生效。
const (
	ModeFast = "fast"
	ModeDeep = "deep"
)

// 订阅等级名称。
const (
	TierFree    = "free"
	TierTrial   = "trial"
	TierPremium = "premium"
	TierPro     = "pro"
)

// IsValidAssistant 判断助手类型是否受支持。
func IsValidAssistant(assistant string) bool {
	return assistant == AssistantNora || assistant == AssistantPatrick
}
