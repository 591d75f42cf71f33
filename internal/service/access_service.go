package service

import (
	"context"
	"errors"
	"time"

	"study-gateway/internal/model"
	"study-gateway/internal/repository"
	"study-gateway/pkg/log"
)

// AccessRequest 是访问控制的输入。
type AccessRequest struct {
	UserID        string
	Assistant     string
	Message       string
	HasAttachment bool
}

// AccessDecision 是访问控制的输出。只有 Allowed 为 true 时 Sanitized 可供下游使用。
type AccessDecision struct {
	Allowed           bool
	Tier              string
	Reason            string
	RemainingMessages int
	CooldownSeconds   int
	Sanitized         string
	Policy            *model.TierPolicy
	Profile           *model.Profile
}

// AccessService 定义了访问控制的接口。
type AccessService interface {
	// Check 依次校验等级、配额、冷却、长度和附件权限，全部通过后才扣减当天计数。
	// 拒绝时返回 *PolicyError，账本不会被修改。
	Check(ctx context.Context, req AccessRequest) (*AccessDecision, error)
	// Preview 只读地返回当前等级与剩余额度，不扣减。
	Preview(ctx context.Context, userID, assistant string) (*AccessDecision, error)
}

type accessService struct {
	profiles repository.ProfileRepository
	tiers    repository.TierRepository
	usage    repository.UsageRepository
	now      func() time.Time
}

// NewAccessService 创建一个新的 AccessService 实例。
func NewAccessService(profiles repository.ProfileRepository, tiers repository.TierRepository, usage repository.UsageRepository) AccessService {
	return &accessService{profiles: profiles, tiers: tiers, usage: usage, now: time.Now}
}

func ledgerDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// resolveTier 读取用户等级，试用到期时先降级为 free。没有 profile 的用户按 free 处理。
func (s *accessService) resolveTier(ctx context.Context, userID string, now time.Time) (*model.Profile, string, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.TierFree, nil
	}
	if err != nil {
		return nil, "", err
	}
	if profile.TrialExpired(now) {
		if _, err := s.profiles.DowngradeExpiredTrial(ctx, userID, now); err != nil {
			return nil, "", err
		}
		log.Infow("试用期已结束，降级为 free", "userID", userID)
		profile.SubscriptionTier = model.TierFree
	}
	tier := profile.SubscriptionTier
	if tier == "" {
		tier = model.TierFree
	}
	return profile, tier, nil
}

// evaluate 执行只读部分：等级、助手开关、配额与冷却。
func (s *accessService) evaluate(ctx context.Context, userID, assistant string, now time.Time) (*AccessDecision, int, error) {
	profile, tier, err := s.resolveTier(ctx, userID, now)
	if err != nil {
		return nil, 0, configurationError("", err)
	}
	policy, err := s.tiers.GetPolicy(ctx, tier)
	if err != nil {
		return nil, 0, configurationError(tier, err)
	}

	d := &AccessDecision{Tier: tier, Policy: policy, Profile: profile}
	enabled, perDay := policy.Quota(assistant)
	if !enabled || perDay <= 0 {
		return d, perDay, &PolicyError{
			Code:            CodeAccessDenied,
			Message:         UpgradeMessage(tier, assistant),
			UpgradeRequired: true,
			Tier:            tier,
		}
	}

	counter, err := s.usage.Peek(ctx, userID, assistant, ledgerDate(now))
	if err != nil {
		return nil, 0, configurationError(tier, err)
	}
	d.RemainingMessages = max(perDay-counter.MessagesSent, 0)
	if d.RemainingMessages == 0 {
		return d, perDay, &PolicyError{
			Code:            CodeAccessDenied,
			Message:         quotaMessage(tier, assistant, perDay),
			UpgradeRequired: tier != model.TierPro,
			Tier:            tier,
		}
	}
	if wait := cooldownLeft(counter.LastMessageAt, policy.CooldownSeconds, now); wait > 0 {
		d.CooldownSeconds = wait
		return d, perDay, &PolicyError{
			Code:              CodeAccessDenied,
			Message:           cooldownMessage(wait),
			Tier:              tier,
			RemainingMessages: d.RemainingMessages,
			CooldownSeconds:   wait,
		}
	}
	return d, perDay, nil
}

func cooldownLeft(last *time.Time, cooldownSeconds int, now time.Time) int {
	if last == nil || cooldownSeconds <= 0 {
		return 0
	}
	left := time.Duration(cooldownSeconds)*time.Second - now.Sub(*last)
	if left <= 0 {
		return 0
	}
	secs := int(left / time.Second)
	if left%time.Second != 0 {
		secs++
	}
	return secs
}

func (s *accessService) Preview(ctx context.Context, userID, assistant string) (*AccessDecision, error) {
	d, _, err := s.evaluate(ctx, userID, assistant, s.now())
	var pe *PolicyError
	if errors.As(err, &pe) && pe.Code == CodeAccessDenied && d != nil {
		// 预览时配额耗尽或冷却中只是状态，不算错误
		d.Reason = pe.Message
		return d, nil
	}
	if err != nil {
		return nil, err
	}
	d.Allowed = true
	return d, nil
}

func (s *accessService) Check(ctx context.Context, req AccessRequest) (*AccessDecision, error) {
	now := s.now()
	d, perDay, err := s.evaluate(ctx, req.UserID, req.Assistant, now)
	if err != nil {
		return d, err
	}
	policy := d.Policy

	d.Sanitized = Sanitize(req.Message)
	if n := MessageLength(d.Sanitized); n > policy.MaxMessageLength {
		return d, &PolicyError{
			Code:              CodeMessageTooLong,
			Message:           tooLongMessage(policy.MaxMessageLength, n),
			UpgradeRequired:   d.Tier != model.TierPro,
			Tier:              d.Tier,
			RemainingMessages: d.RemainingMessages,
			MaxLength:         policy.MaxMessageLength,
			CurrentLength:     n,
		}
	}

	if req.HasAttachment {
		if req.Assistant == model.AssistantPatrick {
			return d, &PolicyError{
				Code:              CodeAttachmentDenied,
				Message:           patrickAttachmentMessage,
				UpgradeRequired:   true,
				Tier:              d.Tier,
				RemainingMessages: d.RemainingMessages,
			}
		}
		if !policy.AttachmentUpload {
			return d, &PolicyError{
				Code:              CodeAttachmentDenied,
				Message:           attachmentUpgradeMessage,
				UpgradeRequired:   true,
				Tier:              d.Tier,
				RemainingMessages: d.RemainingMessages,
			}
		}
	}

	state, err := s.usage.CheckAndIncrement(ctx, repository.LedgerIncrement{
		UserID:        req.UserID,
		AssistantType: req.Assistant,
		Date:          ledgerDate(now),
		Limit:         perDay,
		Cooldown:      time.Duration(policy.CooldownSeconds) * time.Second,
		Now:           now,
	})
	if err != nil {
		return d, configurationError(d.Tier, err)
	}
	if !state.Admitted {
		// 预检之后被并发请求抢先
		pe := &PolicyError{Code: CodeAccessDenied, Tier: d.Tier, RemainingMessages: max(perDay-state.MessagesSent, 0)}
		switch state.Denial {
		case repository.DenialCooldown:
			pe.CooldownSeconds = max(cooldownLeft(state.LastMessageAt, policy.CooldownSeconds, now), 1)
			pe.Message = cooldownMessage(pe.CooldownSeconds)
		default:
			pe.RemainingMessages = 0
			pe.Message = quotaMessage(d.Tier, req.Assistant, perDay)
			pe.UpgradeRequired = d.Tier != model.TierPro
		}
		return d, pe
	}

	d.Allowed = true
	d.RemainingMessages = max(perDay-state.MessagesSent, 0)
	return d, nil
}
