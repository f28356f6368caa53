package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned by RunExclusive when another holder owns the key.
var ErrLocked = errors.New("platform/cache: lock held elsewhere")

// Locker serialises work across processes with short-lived redis locks.
type Locker struct {
	client *redislock.Client
}

// NewLocker wraps a redis client.
func NewLocker(rdb redis.UniversalClient) *Locker {
	return &Locker{client: redislock.New(rdb)}
}

// RunExclusive runs fn while holding key. The lock expires after ttl even if the
// process dies, so ttl must exceed the expected run time.
func (l *Locker) RunExclusive(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLocked
	}
	if err != nil {
		return fmt.Errorf("platform/cache: obtain %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
