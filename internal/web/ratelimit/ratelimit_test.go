package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tb := NewTokenBucket(Config{Limit: 2, Window: time.Minute})
	tb.clock = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		info, err := tb.Allow(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, info.Allowed)
	}
	info, _ := tb.Allow(ctx, "p1")
	assert.False(t, info.Allowed)
	assert.Equal(t, 0, info.Remaining)

	other, _ := tb.Allow(ctx, "p2")
	assert.True(t, other.Allowed, "keys are independent")

	now = now.Add(30 * time.Second)
	info, _ = tb.Allow(ctx, "p1")
	assert.True(t, info.Allowed, "half a window refills one token")

	now = now.Add(2 * time.Minute)
	tb.Prune()
	assert.Empty(t, tb.buckets)
}

func TestRedisLimiter(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	_, err := NewRedisLimiter(client, Config{})
	assert.Error(t, err)

	l, err := NewRedisLimiter(client, Config{Limit: 2, Window: time.Minute, Prefix: "rl:"})
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 10, 0, time.UTC)
	l.clock = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		info, err := l.Allow(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, info.Allowed)
	}
	info, err := l.Allow(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, info.Allowed)
	assert.Equal(t, now.Truncate(time.Minute).Add(time.Minute), info.ResetAt)
	assert.True(t, mr.Exists("rl:p1:20240101T000000"))

	now = now.Add(time.Minute)
	info, err = l.Allow(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, info.Allowed, "a new window starts from zero")
}
