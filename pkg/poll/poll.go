// Package poll 提供有界轮询：固定间隔、最多 MaxAttempts 次拉取，直到终态谓词成立。
package poll

import (
	"context"
	"errors"
	"time"
)

// ErrExhausted 表示在 MaxAttempts 次拉取内未到达终态。
var ErrExhausted = errors.New("poll: attempts exhausted before terminal state")

// Clock 抽象了两次拉取之间的等待，测试中可替换为假时钟。
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock 基于 time.Timer 的实现，ctx 取消时立即返回。
type RealClock struct{}

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Policy 描述轮询的间隔与次数上限。
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
}

// Budget 返回最坏情况下的等待总时长。
func (p Policy) Budget() time.Duration {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(p.MaxAttempts-1) * p.Interval
}

// Until 反复调用 fetch，直到 done 返回 true。
// 最多拉取 MaxAttempts 次，两次拉取之间睡眠一个 Interval，最后一次拉取后不再睡眠。
// fetch 出错立即返回；次数耗尽时返回最后一次的结果和 ErrExhausted。
func Until[T any](ctx context.Context, clock Clock, p Policy, fetch func(context.Context) (T, error), done func(T) bool) (T, error) {
	var last T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fetch(ctx)
		if err != nil {
			return v, err
		}
		last = v
		if done(v) {
			return v, nil
		}
		if attempt == attempts {
			break
		}
		if err := clock.Sleep(ctx, p.Interval); err != nil {
			return last, err
		}
	}
	return last, ErrExhausted
}
