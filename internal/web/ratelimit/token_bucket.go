package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is an in-process limiter. Each key holds up to Limit tokens
// that refill continuously over Window.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   int
	window  time.Duration
	clock   func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates an in-process limiter.
func NewTokenBucket(cfg Config) *TokenBucket {
	return &TokenBucket{buckets: make(map[string]*bucket), limit: cfg.Limit, window: cfg.Window, clock: time.Now}
}

// Allow takes a token for key when one is available.
func (tb *TokenBucket) Allow(_ context.Context, key string) (*Info, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.limit), last: now}
		tb.buckets[key] = b
	}
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens += float64(tb.limit) * float64(elapsed) / float64(tb.window)
		if b.tokens > float64(tb.limit) {
			b.tokens = float64(tb.limit)
		}
		b.last = now
	}

	info := &Info{Limit: tb.limit}
	if b.tokens >= 1 {
		b.tokens--
		info.Allowed = true
	}
	info.Remaining = int(b.tokens)
	missing := float64(tb.limit) - b.tokens
	info.ResetAt = now.Add(time.Duration(missing * float64(tb.window) / float64(tb.limit)))
	return info, nil
}

// Prune drops buckets that have been full for a whole window.
func (tb *TokenBucket) Prune() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	cutoff := tb.clock().Add(-tb.window)
	for k, b := range tb.buckets {
		if b.last.Before(cutoff) {
			delete(tb.buckets, k)
		}
	}
}
