package lock

import (
	"Parimutuel/internal/observability"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock key only while it still holds the caller's token
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// ErrLockTimeout is returned when the lock could not be taken within MaxWait
var ErrLockTimeout = errors.New("lock: wait timeout")

// RedisLocker is a cross-process market lock using SETNX with a TTL.
// Lock retries until the key is free, MaxWait passes or ctx is done.
type RedisLocker struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	metrics  *observability.Metrics

	TTL     time.Duration
	MaxWait time.Duration
	Retry   time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, metrics *observability.Metrics) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		metrics:  metrics,
		TTL:      30 * time.Second,
		MaxWait:  10 * time.Second,
		Retry:    25 * time.Millisecond,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	token := uuid.New().String()
	lk := lockKey(key)

	deadline := time.NewTimer(r.MaxWait)
	defer deadline.Stop()

	for {
		ok, err := r.rdb.SetNX(ctx, lk, token, r.TTL).Result()
		if err != nil {
			r.fail()
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			r.fail()
			return nil, ctx.Err()
		case <-deadline.C:
			r.fail()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-time.After(r.Retry):
		}
	}

	if r.metrics != nil {
		r.metrics.LockWait.WithLabelValues("redis").Observe(time.Since(start).Seconds())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = r.unlockSc.Run(unlockCtx, r.rdb, []string{lk}, token).Err()
		})
	}, nil
}

func (r *RedisLocker) fail() {
	if r.metrics != nil {
		r.metrics.LockErrors.WithLabelValues("redis").Inc()
	}
}

// Ping checks the redis connection
func (r *RedisLocker) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
