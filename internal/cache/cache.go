// Package cache holds hot, rarely written rows (collections, config
// documents) close to the engine. Every write path invalidates the keys it
// touches, so the TTL only bounds staleness across processes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Cache defines the interface for all cache backends
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes values from the cache
	Delete(ctx context.Context, keys ...string) error

	// Clear removes all values from the cache
	Clear(ctx context.Context) error

	// Exists checks if a key exists in the cache
	Exists(ctx context.Context, key string) (bool, error)
}

// Config holds common configuration for cache backends
type Config struct {
	// DefaultTTL is the default time-to-live for cached items
	DefaultTTL time.Duration `mapstructure:"ttl"`
	// Prefix is prepended to all cache keys
	Prefix string `mapstructure:"prefix"`
}

// DefaultConfig returns a default cache configuration
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "collections:",
	}
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	var miss ErrCacheMiss
	return errors.As(err, &miss)
}

// GetJSON decodes a cached JSON value into dst. found is false on a miss.
func GetJSON(ctx context.Context, c Cache, key string, dst any) (found bool, err error) {
	b, err := c.Get(ctx, key)
	if err != nil {
		if IsCacheMiss(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		// a stale encoding is treated as a miss
		_ = c.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON stores v encoded as JSON.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, b, ttl)
}

// Noop is a cache that never stores anything.
type Noop struct{}

func (Noop) Get(_ context.Context, key string) ([]byte, error) { return nil, ErrCacheMiss{Key: key} }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, ...string) error { return nil }
func (Noop) Clear(context.Context) error { return nil }
func (Noop) Exists(context.Context, string) (bool, error) { return false, nil }
