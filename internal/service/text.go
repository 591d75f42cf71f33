package service

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"study-gateway/internal/model"
)

var (
	scriptBlock  = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	angleBracket = regexp.MustCompile(`[<>]`)
)

// Sanitize 去掉 script 块和尖括号，并去除首尾空白。
func Sanitize(input string) string {
	out := scriptBlock.ReplaceAllString(input, "")
	out = angleBracket.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}

// MessageLength 按字符计数。
func MessageLength(s string) int {
	return utf8.RuneCountInString(s)
}

// EstimateTokens 按固定的字符/token 比例估算，向上取整。
func EstimateTokens(text string, charsPerToken int) int {
	if charsPerToken <= 0 {
		charsPerToken = 4
	}
	return int(math.Ceil(float64(MessageLength(text)) / float64(charsPerToken)))
}

// EstimateCost 按每 1000 token 的输入/输出费率估算费用。
func EstimateCost(inputTokens, outputTokens int, inputRate, outputRate float64) float64 {
	return float64(inputTokens)/1000*inputRate + float64(outputTokens)/1000*outputRate
}

func tooLongMessage(limit, actual int) string {
	return fmt.Sprintf("Message too long. Maximum %d characters allowed for your subscription tier. Current: %d characters.", limit, actual)
}

// UpgradeMessage 返回助手对该等级不可用时的升级提示。
func UpgradeMessage(tier, assistant string) string {
	messages := map[string]map[string]string{
		model.AssistantNora: {
			model.TierFree:    "Nora AI is available for Pro subscribers. Start your 14-day trial or upgrade to access Nora with PDF analysis!",
			model.TierTrial:   "Your trial has ended. Upgrade to Pro to continue using Nora AI with unlimited PDF analysis.",
			model.TierPremium: "Nora AI is exclusive to Pro members. Upgrade to Pro for advanced AI study assistance with PDF analysis!",
		},
		model.AssistantPatrick: {
			model.TierFree:  "Patrick AI is available for Premium and Pro subscribers. Start your 14-day trial or upgrade to access Patrick!",
			model.TierTrial: "Your trial has ended. Upgrade to Premium or Pro to continue using Patrick AI.",
		},
	}
	if m, ok := messages[assistant][tier]; ok {
		return m
	}
	return "Upgrade your subscription for more AI features!"
}

func quotaMessage(tier, assistant string, perDay int) string {
	name := "Nora"
	if assistant == model.AssistantPatrick {
		name = "Patrick"
	}
	next := "Come back tomorrow!"
	switch {
	case assistant == model.AssistantNora && tier == model.TierTrial:
		next = "Upgrade to Pro for 100 messages per day!"
	case assistant == model.AssistantPatrick && tier == model.TierPremium:
		next = "Upgrade to Pro for more messages and access to Nora AI!"
	}
	return fmt.Sprintf("You've reached your daily %s message limit (%d). %s", name, perDay, next)
}

func cooldownMessage(seconds int) string {
	return fmt.Sprintf("Please wait %d seconds before sending another message.", seconds)
}

const (
	attachmentUpgradeMessage = "PDF upload is only available for Pro users. Upgrade to upload and analyze documents!"
	patrickAttachmentMessage = "I appreciate you sharing that document! Unfortunately, I'm not able to read or analyze PDFs. But Nora AI on the Pro plan can dive deep into your documents and create study guides, practice questions, and summaries from them."
)
