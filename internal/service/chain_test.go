package service

import (
	"context"
	"errors"
	"testing"

	"study-gateway/internal/model"

	"github.com/stretchr/testify/assert"
)

type stubStrategy struct {
	name    string
	applies bool
	text    string
	err     error
	panics  bool
	calls   int
}

func (s *stubStrategy) Name() string           { return s.name }
func (s *stubStrategy) Applies(*Exchange) bool { return s.applies }
func (s *stubStrategy) Reply(context.Context, *Exchange) (string, error) {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.text, s.err
}

func testExchange() *Exchange {
	return &Exchange{
		ID:        "ex-1",
		UserID:    "u1",
		Assistant: model.AssistantNora,
		Message:   "help me focus",
		User:      &UserContext{Profile: &model.Profile{FullName: "Maya Chen"}},
	}
}

func TestOrchestrator_FirstSuccessWins(t *testing.T) {
	first := &stubStrategy{name: "a", applies: true, text: "from a"}
	second := &stubStrategy{name: "b", applies: true, text: "from b"}

	r := NewOrchestrator(first, second).Reply(ctx, testExchange())

	assert.Equal(t, Reply{Text: "from a", Strategy: "a"}, r)
	assert.Equal(t, 0, second.calls)
}

func TestOrchestrator_SkipsFailuresAndInapplicable(t *testing.T) {
	skipped := &stubStrategy{name: "skip", applies: false, text: "never"}
	failing := &stubStrategy{name: "fail", applies: true, err: errors.New("503")}
	empty := &stubStrategy{name: "empty", applies: true, text: "   "}
	panicking := &stubStrategy{name: "panic", applies: true, panics: true}
	ok := &stubStrategy{name: "ok", applies: true, text: "done"}

	r := NewOrchestrator(skipped, failing, empty, panicking, ok).Reply(ctx, testExchange())

	assert.Equal(t, "ok", r.Strategy)
	assert.Equal(t, 0, skipped.calls)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, panicking.calls)
}

func TestOrchestrator_AllFailFallsBackToTemplate(t *testing.T) {
	r := NewOrchestrator(
		&stubStrategy{name: "thread", applies: true, err: errNetwork},
		&stubStrategy{name: "completion", applies: true, err: errNetwork},
	).Reply(ctx, testExchange())

	assert.Equal(t, StrategyFallback, r.Strategy)
	assert.NotEmpty(t, r.Text)
	assert.Contains(t, r.Text, "Maya")
}

func TestOrchestrator_CancelledContextGoesStraightToFallback(t *testing.T) {
	c, cancel := context.WithCancel(ctx)
	cancel()
	s := &stubStrategy{name: "a", applies: true, text: "x"}

	r := NewOrchestrator(s).Reply(c, testExchange())

	assert.Equal(t, StrategyFallback, r.Strategy)
	assert.Equal(t, 0, s.calls)
}

func TestUpstreamError_Classification(t *testing.T) {
	timeout := upstreamError("thread", "poll run", context.DeadlineExceeded)
	assert.ErrorIs(t, timeout, ErrUpstreamTimeout)
	assert.NotErrorIs(t, timeout, ErrUpstreamAPI)

	api := upstreamError("completion", "complete", errNetwork)
	assert.ErrorIs(t, api, ErrUpstreamAPI)
	assert.ErrorIs(t, api, errNetwork)

	assert.Same(t, api, upstreamError("chain", "reply", api))
	assert.Nil(t, upstreamError("x", "y", nil))
}
