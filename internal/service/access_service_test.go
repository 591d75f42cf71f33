package service

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"study-gateway/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccess(env *testEnv, clock *time.Time) *accessService {
	s := NewAccessService(env.profiles, env.tiers, env.usage).(*accessService)
	s.now = func() time.Time { return *clock }
	return s
}

func requirePolicyError(t *testing.T, err error, code ErrorCode) *PolicyError {
	t.Helper()
	var pe *PolicyError
	require.True(t, errors.As(err, &pe), "expected *PolicyError, got %v", err)
	require.Equal(t, code, pe.Code)
	return pe
}

func TestAccess_FreeTierLengthBoundary(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "u1", "Ana Lima", model.TierFree)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	access := newAccess(env, &now)

	d, err := access.Check(ctx, AccessRequest{UserID: "u1", Assistant: model.AssistantPatrick, Message: strings.Repeat("a", 500)})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.RemainingMessages)

	_, err = access.Check(ctx, AccessRequest{UserID: "u1", Assistant: model.AssistantPatrick, Message: strings.Repeat("a", 501)})
	pe := requirePolicyError(t, err, CodeMessageTooLong)
	assert.Equal(t, 500, pe.MaxLength)
	assert.Equal(t, 501, pe.CurrentLength)
	assert.Contains(t, pe.Message, "Maximum 500 characters")
	assert.Contains(t, pe.Message, "Current: 501 characters")
	assert.Equal(t, http.StatusBadRequest, pe.HTTPStatus())

	// 被拒绝的请求不扣减
	counter, err := env.usage.Peek(ctx, "u1", model.AssistantPatrick, "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 1, counter.MessagesSent)
}

func TestAccess_LengthCountsCharactersAfterSanitize(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "u1", "", model.TierFree)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	access := newAccess(env, &now)

	msg := strings.Repeat("é", 500) + "<script>alert('x')</script>"
	d, err := access.Check(ctx, AccessRequest{UserID: "u1", Assistant: model.AssistantPatrick, Message: msg})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 500), d.Sanitized)
}

func TestAccess_QuotaExhaustedLeavesLedgerUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "u2", "Ben", model.TierTrial)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	access := newAccess(env, &now)

	for i := 0; i < 2; i++ {
		_, err := access.Check(ctx, AccessRequest{UserID: "u2", Assistant: model.AssistantNora, Message: "hi"})
		require.NoError(t, err)
		now = now.Add(time.Minute)
	}

	d, err := access.Check(ctx, AccessRequest{UserID: "u2", Assistant: model.AssistantNora, Message: "hi"})
	pe := requirePolicyError(t, err, CodeAccessDenied)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, pe.RemainingMessages)
	assert.True(t, pe.UpgradeRequired)
	assert.Contains(t, pe.Message, "daily Nora message limit (2)")
	assert.Contains(t, pe.Message, "Upgrade to Pro for 100 messages per day!")

	counter, err := env.usage.Peek(ctx, "u2", model.AssistantNora, "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 2, counter.MessagesSent)

	// 次日重置
	now = now.Add(24 * time.Hour)
	d, err = access.Check(ctx, AccessRequest{UserID: "u2", Assistant: model.AssistantNora, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 1, d.RemainingMessages)
}

func TestAccess_CooldownSinceLastMessage(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "u3", "Cleo", model.TierTrial)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	access := newAccess(env, &now)

	_, err := access.Check(ctx, AccessRequest{UserID: "u3", Assistant: model.AssistantPatrick, Message: "one"})
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = access.Check(ctx, AccessRequest{UserID: "u3", Assistant: model.AssistantPatrick, Message: "two"})
	pe := requirePolicyError(t, err, CodeAccessDenied)
	assert.Equal(t, 3, pe.CooldownSeconds)
	assert.Equal(t, 14, pe.RemainingMessages)

	now = now.Add(3 * time.Second)
	_, err = access.Check(ctx, AccessRequest{UserID: "u3", Assistant: model.AssistantPatrick, Message: "two"})
	assert.NoError(t, err)
}

func TestAccess_AssistantNotInTier(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "u4", "Dan", model.TierPremium)
	now := time.Now()
	access := newAccess(env, &now)

	_, err := access.Check(ctx, AccessRequest{UserID: "u4", Assistant: model.AssistantNora, Message: "hi"})
	pe := requirePolicyError(t, err, CodeAccessDenied)
	assert.True(t, pe.UpgradeRequired)
	assert.Equal(t, UpgradeMessage(model.TierPremium, model.AssistantNora), pe.Message)
	assert.Equal(t, http.StatusForbidden, pe.HTTPStatus())
}

func TestAccess_MissingProfileIsFree(t *testing.T) {
	env := newTestEnv(t)
	now := time.Now()
	access := newAccess(env, &now)

	d, err := access.Check(ctx, AccessRequest{UserID: "ghost", Assistant: model.AssistantPatrick, Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, d.Tier)
	assert.Nil(t, d.Profile)
}

func TestAccess_ExpiredTrialDowngradedBeforeQuota(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Hour)
	require.NoError(t, env.db.Create(&model.Profile{UserID: "u5", SubscriptionTier: model.TierTrial, TrialEndsAt: &ended}).Error)
	access := newAccess(env, &now)

	_, err := access.Check(ctx, AccessRequest{UserID: "u5", Assistant: model.AssistantNora, Message: "hi"})
	pe := requirePolicyError(t, err, CodeAccessDenied)
	assert.Equal(t, model.TierFree, pe.Tier)

	p, err := env.profiles.GetProfile(ctx, "u5")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, p.SubscriptionTier)
}

func TestAccess_AttachmentPermission(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "trial", "T", model.TierTrial)
	env.addProfile(t, "pro", "P", model.TierPro)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	access := newAccess(env, &now)

	_, err := access.Check(ctx, AccessRequest{UserID: "trial", Assistant: model.AssistantNora, Message: "read this", HasAttachment: true})
	pe := requirePolicyError(t, err, CodeAttachmentDenied)
	assert.Equal(t, attachmentUpgradeMessage, pe.Message)

	_, err = access.Check(ctx, AccessRequest{UserID: "pro", Assistant: model.AssistantPatrick, Message: "read this", HasAttachment: true})
	requirePolicyError(t, err, CodeAttachmentDenied)

	d, err := access.Check(ctx, AccessRequest{UserID: "pro", Assistant: model.AssistantNora, Message: "read this", HasAttachment: true})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.Policy.AttachmentSearch)

	counter, err := env.usage.Peek(ctx, "trial", model.AssistantNora, "2026-05-04")
	require.NoError(t, err)
	assert.Equal(t, 0, counter.MessagesSent)
}

func TestAccess_UnknownTierIsConfigurationError(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "u6", "Eve", "gold")
	now := time.Now()
	access := newAccess(env, &now)

	_, err := access.Check(ctx, AccessRequest{UserID: "u6", Assistant: model.AssistantPatrick, Message: "hi"})
	pe := requirePolicyError(t, err, CodeConfigurationError)
	assert.Equal(t, http.StatusInternalServerError, pe.HTTPStatus())
}

func TestAccess_PreviewDoesNotCharge(t *testing.T) {
	env := newTestEnv(t)
	env.addProfile(t, "u7", "Fay", model.TierTrial)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	access := newAccess(env, &now)

	d, err := access.Preview(ctx, "u7", model.AssistantNora)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.RemainingMessages)

	_, err = access.Check(ctx, AccessRequest{UserID: "u7", Assistant: model.AssistantNora, Message: "hi"})
	require.NoError(t, err)
	_, err = access.Check(ctx, AccessRequest{UserID: "u7", Assistant: model.AssistantNora, Message: "hi again"})
	require.Error(t, err) // 冷却中

	d, err = access.Preview(ctx, "u7", model.AssistantNora)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 1, d.RemainingMessages)
	assert.Equal(t, 5, d.CooldownSeconds)
	assert.NotEmpty(t, d.Reason)
}
