package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed window limiter shared by every server process.
type RedisLimiter struct {
	client *redis.Client
	cfg    Config
	clock  func() time.Time
}

// NewRedisLimiter creates a Redis backed limiter.
func NewRedisLimiter(client *redis.Client, cfg Config) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, errors.New("limit and window must be positive")
	}
	return &RedisLimiter{client: client, cfg: cfg, clock: time.Now}, nil
}

// Allow counts the request in the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Info, error) {
	now := l.clock()
	windowStart := now.Truncate(l.cfg.Window)
	redisKey := l.cfg.Prefix + key + ":" + windowStart.Format("20060102T150405")

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.cfg.Window)
		return nil
	})
	if err != nil {
		return nil, err
	}

	count := int(incr.Val())
	remaining := l.cfg.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &Info{
		Limit:     l.cfg.Limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(l.cfg.Window),
		Allowed:   count <= l.cfg.Limit,
	}, nil
}
