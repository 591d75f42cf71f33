package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"study-gateway/pkg/poll"
	"study-gateway/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDBDown = errors.New("mysql: connection refused")

// flakyProcessor 前 failures 次返回错误，之后成功。
type flakyProcessor struct {
	failures int
	calls    int
	written  []string
}

func (p *flakyProcessor) Process(_ context.Context, task tasks.UsageTask) error {
	p.calls++
	if p.calls <= p.failures {
		return errDBDown
	}
	p.written = append(p.written, task.ExchangeID)
	return nil
}

type fakeClock struct {
	slept []time.Duration
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

var retryPolicy = poll.Policy{Interval: time.Second, MaxAttempts: maxAttempts}

func TestProcessWithRetry_SucceedsOnLastAttempt(t *testing.T) {
	p := &flakyProcessor{failures: maxAttempts - 1}
	clock := &fakeClock{}

	err := processWithRetry(context.Background(), clock, retryPolicy, p, tasks.UsageTask{ExchangeID: "ex-1"})

	require.NoError(t, err)
	assert.Equal(t, maxAttempts, p.calls)
	assert.Equal(t, []string{"ex-1"}, p.written)
	assert.Len(t, clock.slept, maxAttempts-1)
}

func TestProcessWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &flakyProcessor{failures: maxAttempts}
	clock := &fakeClock{}

	err := processWithRetry(context.Background(), clock, retryPolicy, p, tasks.UsageTask{ExchangeID: "ex-2"})

	require.Error(t, err)
	assert.ErrorIs(t, err, errDBDown)
	assert.Contains(t, err.Error(), "ex-2")
	assert.Equal(t, maxAttempts, p.calls)
	assert.Empty(t, p.written)
}

func TestProcessWithRetry_FirstAttemptNoSleep(t *testing.T) {
	p := &flakyProcessor{}
	clock := &fakeClock{}

	require.NoError(t, processWithRetry(context.Background(), clock, retryPolicy, p, tasks.UsageTask{ExchangeID: "ex-3"}))
	assert.Equal(t, 1, p.calls)
	assert.Empty(t, clock.slept)
}

func TestProcessWithRetry_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyProcessor{failures: maxAttempts}

	err := processWithRetry(ctx, &fakeClock{}, retryPolicy, p, tasks.UsageTask{ExchangeID: "ex-4"})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}
