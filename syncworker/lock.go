package syncworker

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockHeld means another process is running a cycle for the same tenant.
var ErrLockHeld = errors.New("sync cycle lock held by another process")

// Lock is a held cycle lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out per-key cycle locks. Obtain returns ErrLockHeld when the
// key is taken.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// RedisLocker is a Locker over bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
}

func NewRedisLocker(client *redislock.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func cycleLockKey(tenantID string) string {
	return "sync:" + tenantID
}
