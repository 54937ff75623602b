package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	k := Keys{Prefix: "achievements:"}
	assert.Equal(t, "achievements:lock:batch:evaluate_all_students", k.Lock("batch:evaluate_all_students"))
	assert.Equal(t, "achievements:summary:weekly:latest", k.WeeklySummary())
	assert.Equal(t, "achievements:events:", k.Events())
}

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "cache:6380"
	cfg.DB = 2

	opts := cfg.Options()
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 10, opts.PoolSize)
}

func TestNewCache_UnreachableServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.MaxRetries = -1
	cfg.DialTimeout = 200 * time.Millisecond

	_, err := NewCache(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestCache_RejectsEmptyKey(t *testing.T) {
	c := NewCacheWithClient(nil, "")
	assert.ErrorIs(t, c.Set(context.Background(), "", 1, time.Minute), ErrCacheKeyEmpty)
	assert.ErrorIs(t, c.Get(context.Background(), "", new(int)), ErrCacheKeyEmpty)
}
