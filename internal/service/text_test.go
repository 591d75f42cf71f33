package service

import (
	"testing"

	"study-gateway/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"  plain text  ":                        "plain text",
		"a <script>alert(1)</script> b":         "a  b",
		"<SCRIPT type='x'>\nbad()\n</SCRIPT>ok": "ok",
		"1 < 2 and 3 > 2":                       "1  2 and 3  2",
		"<b>bold</b>":                           "bbold/b",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), in)
	}
}

func TestEstimateTokensAndCost(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("", 4))
	assert.Equal(t, 1, EstimateTokens("abc", 4))
	assert.Equal(t, 2, EstimateTokens("abcde", 4))
	assert.Equal(t, 2, EstimateTokens("héllo", 0))
	assert.InDelta(t, 0.04, EstimateCost(1000, 1000, 0.01, 0.03), 1e-9)
}

func TestUpgradeMessage(t *testing.T) {
	assert.Contains(t, UpgradeMessage(model.TierFree, model.AssistantNora), "14-day trial")
	assert.Contains(t, UpgradeMessage(model.TierTrial, model.AssistantPatrick), "Premium or Pro")
	assert.Equal(t, "Upgrade your subscription for more AI features!", UpgradeMessage(model.TierPro, model.AssistantPatrick))
}
