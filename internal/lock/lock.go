// Package lock provides the short-lived mutual exclusion used around claim
// number allocation.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrNotAcquired is returned when the key stays held by someone else for
	// the whole wait window.
	ErrNotAcquired = errors.New("lock: not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or was taken over.
	ErrNotHeld = errors.New("lock: not held")
)

// Locker acquires named locks.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// Lock is a held lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Nop never blocks. Used when no Redis is configured.
type Nop struct{}

func (Nop) Acquire(context.Context, string, time.Duration) (Lock, error) {
	return nopLock{}, nil
}

type nopLock struct{}

func (nopLock) Release(context.Context) error { return nil }

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker implements Locker with SET NX and a compare-and-delete release,
// so locks are shared across server replicas.
type RedisLocker struct {
	rdb       redis.UniversalClient
	keyPrefix string
	wait      time.Duration
}

// NewRedisLocker creates a RedisLocker. Acquire retries with backoff for up
// to wait before giving up; wait <= 0 means a single attempt.
func NewRedisLocker(rdb redis.UniversalClient, keyPrefix string, wait time.Duration) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "lock:"
	}
	return &RedisLocker{rdb: rdb, keyPrefix: keyPrefix, wait: wait}
}

// Acquire takes the lock for key, holding it for at most ttl.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lockKey := l.keyPrefix + key
	value := uuid.New().String()
	deadline := time.Now().Add(l.wait)
	backoff := 10 * time.Millisecond

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, value, ttl).Result()
		if err != nil {
			return nil, eris.Wrapf(err, "lock: acquire %s", lockKey)
		}
		if ok {
			zap.L().Debug("lock: acquired", zap.String("key", lockKey))
			return &redisLock{rdb: l.rdb, key: lockKey, value: value}, nil
		}
		if !time.Now().Add(backoff).Before(deadline) {
			return nil, eris.Wrapf(ErrNotAcquired, "lock: %s", lockKey)
		}

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, eris.Wrapf(ctx.Err(), "lock: acquire %s", lockKey)
		case <-t.C:
		}
		backoff = min(backoff*2, 500*time.Millisecond)
	}
}

type redisLock struct {
	rdb   redis.UniversalClient
	key   string
	value string
}

func (l *redisLock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.value).Int64()
	if err != nil {
		return eris.Wrapf(err, "lock: release %s", l.key)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotHeld, "lock: %s", l.key)
	}
	zap.L().Debug("lock: released", zap.String("key", l.key))
	return nil
}

// ClaimKey is the lock key guarding claim numbering for a homeowner.
func ClaimKey(homeownerID string) string {
	return "claims:" + homeownerID
}
