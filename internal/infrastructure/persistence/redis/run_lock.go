package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotHeld is returned when releasing a lock that expired or was taken over.
var ErrLockNotHeld = errors.New("lock: not held by this owner")

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock is a single-holder lease built on SET NX PX.
type RunLock struct {
	client *redis.Client
	keys   Keys
}

// NewRunLock creates a lock backed by the cache's client.
func NewRunLock(c *Cache) *RunLock {
	return &RunLock{client: c.client, keys: c.keys}
}

// Acquire takes the lease for ttl. ok is false when another owner holds it.
func (l *RunLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (func(context.Context) error, bool, error) {
	key := l.keys.Lock(resource)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release %s: %w", key, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
	return release, true, nil
}
