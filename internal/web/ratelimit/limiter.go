// Package ratelimit throttles API writes per project.
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether one more request under key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (*Info, error)
}

// Info is the limiter state after a decision.
type Info struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// Config is shared by the limiter backends.
type Config struct {
	// Limit is the number of requests allowed per Window
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
	// Prefix is prepended to Redis keys
	Prefix string `mapstructure:"prefix"`
}

// DefaultConfig allows 600 writes per minute.
func DefaultConfig() Config {
	return Config{Limit: 600, Window: time.Minute, Prefix: "collections:ratelimit:"}
}
