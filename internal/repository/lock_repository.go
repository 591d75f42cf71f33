package repository

import (
	"context"
	"errors"
	"time"

	"study-gateway/pkg/poll"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrLockTimeout 表示在等待时间内未能获得锁。
var ErrLockTimeout = errors.New("lock: wait timed out")

// Locker 提供跨实例的互斥锁。
type Locker interface {
	// Lock 获取 key 上的锁，持有上限为 ttl，最多等待 wait；返回的 unlock 只释放自己持有的锁。
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (unlock func(), err error)
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

type redisLocker struct {
	redisClient *redis.Client
	clock       poll.Clock
	interval    time.Duration
}

// NewRedisLocker 基于 SETNX 创建 Locker。
func NewRedisLocker(redisClient *redis.Client) Locker {
	return &redisLocker{redisClient: redisClient, clock: poll.RealClock{}, interval: 50 * time.Millisecond}
}

func (l *redisLocker) Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error) {
	token := uuid.NewString()
	attempts := int(wait/l.interval) + 1
	acquired, err := poll.Until(ctx, l.clock, poll.Policy{Interval: l.interval, MaxAttempts: attempts},
		func(ctx context.Context) (bool, error) {
			return l.redisClient.SetNX(ctx, key, token, ttl).Result()
		},
		func(ok bool) bool { return ok })
	if errors.Is(err, poll.ErrExhausted) || (err == nil && !acquired) {
		return nil, ErrLockTimeout
	}
	if err != nil {
		return nil, err
	}
	return func() {
		_ = releaseScript.Run(context.Background(), l.redisClient, []string{key}, token).Err()
	}, nil
}
