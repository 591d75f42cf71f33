package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"study-gateway/pkg/llm"
	"study-gateway/pkg/poll"
)

// ErrorCode 是返回给调用方的策略错误码。
type ErrorCode string

const (
	CodeAccessDenied       ErrorCode = "ACCESS_DENIED"
	CodeMessageTooLong     ErrorCode = "MESSAGE_TOO_LONG"
	CodeAttachmentDenied   ErrorCode = "ATTACHMENT_ACCESS_DENIED"
	CodeConfigurationError ErrorCode = "CONFIGURATION_ERROR"
	CodeAuthentication     ErrorCode = "AUTHENTICATION_FAILED"
)

// PolicyError 是终止性错误：在任何上游调用或计费之前短路返回给用户。
type PolicyError struct {
	Code              ErrorCode
	Message           string // 面向用户的说明或升级提示
	UpgradeRequired   bool
	Tier              string
	RemainingMessages int
	CooldownSeconds   int
	MaxLength         int
	CurrentLength     int
	Err               error
}

func (e *PolicyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// HTTPStatus 返回该错误对应的 HTTP 状态码。
func (e *PolicyError) HTTPStatus() int {
	switch e.Code {
	case CodeMessageTooLong:
		return http.StatusBadRequest
	case CodeAuthentication:
		return http.StatusUnauthorized
	case CodeConfigurationError:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

func configurationError(tier string, err error) *PolicyError {
	return &PolicyError{
		Code:    CodeConfigurationError,
		Message: "Access verification failed. Please try again later.",
		Tier:    tier,
		Err:     err,
	}
}

var (
	ErrUpstreamTimeout = errors.New("upstream timeout")
	ErrUpstreamAPI     = errors.New("upstream api error")
	ErrEmptyReply      = errors.New("upstream returned empty reply")
)

// UpstreamError 是可恢复错误：由驱动返回，编排器据此降级到下一个策略，永远不会暴露给用户。
type UpstreamError struct {
	Driver     string
	Op         string
	Timeout    bool
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	kind := "api"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("%s %s (%s, status %d): %v", e.Driver, e.Op, kind, e.StatusCode, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstreamTimeout:
		return e.Timeout
	case ErrUpstreamAPI:
		return !e.Timeout
	}
	return false
}

func upstreamError(driver, op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{
		Driver:     driver,
		Op:         op,
		Timeout:    errors.Is(err, context.DeadlineExceeded) || errors.Is(err, poll.ErrExhausted),
		StatusCode: llm.StatusCode(err),
		Err:        err,
	}
}
