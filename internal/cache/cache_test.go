package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisCacheWithClient(client, DefaultConfig())
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// backends runs the same behaviour against every implementation.
func backends(t *testing.T) map[string]Cache {
	mem := NewMemoryCache()
	t.Cleanup(func() { mem.Close() })
	rc, _ := setupTestRedis(t)
	return map[string]Cache{"memory": mem, "redis": rc}
}

func TestCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
			require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

			got, err := c.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), got)

			ok, err := c.Exists(ctx, "b")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, c.Delete(ctx, "a", "b", "missing"))
			_, err = c.Get(ctx, "a")
			assert.True(t, IsCacheMiss(err))
			ok, err = c.Exists(ctx, "b")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestCache_JSONHelpers(t *testing.T) {
	ctx := context.Background()
	type row struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	}
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var out row
			found, err := GetJSON(ctx, c, CollectionKey("c1"), &out)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, SetJSON(ctx, c, CollectionKey("c1"), row{ID: "c1", Path: "products"}, 0))
			found, err = GetJSON(ctx, c, CollectionKey("c1"), &out)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "products", out.Path)

			require.NoError(t, c.Set(ctx, "broken", []byte("{"), 0))
			found, err = GetJSON(ctx, c, "broken", &out)
			require.NoError(t, err)
			assert.False(t, found)
			ok, _ := c.Exists(ctx, "broken")
			assert.False(t, ok, "undecodable entries are evicted")

			require.NoError(t, c.Clear(ctx))
			found, _ = GetJSON(ctx, c, CollectionKey("c1"), &out)
			assert.False(t, found)
		})
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCacheWithConfig(Config{DefaultTTL: time.Minute})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, "forever", []byte("v"), -1))
	ok, err := c.Exists(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	buf := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", buf, 0))
	buf[0] = 'x'
	got, _ := c.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

func TestMemoryCache_CancelledContext(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, c.Set(ctx, "k", nil, 0), context.Canceled)
}

func TestRedisCache_TTLAndPrefix(t *testing.T) {
	c, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, ConfigKey("p1", "__joy_linked__"), []byte("{}"), 0))
	assert.True(t, mr.Exists("collections:config:p1:__joy_linked__"))
	assert.Equal(t, 5*time.Minute, mr.TTL("collections:config:p1:__joy_linked__"))

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	mr.FastForward(2 * time.Second)
	_, err := c.Get(ctx, "short")
	assert.True(t, IsCacheMiss(err))

	mr.Set("other:key", "kept")
	require.NoError(t, c.Clear(ctx))
	assert.True(t, mr.Exists("other:key"), "clear only touches the prefix")
}

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr(), Cache: DefaultConfig()})
	require.NoError(t, err)
	defer c.Close()

	_, err = NewRedisCache(context.Background(), RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var c Cache = Noop{}
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}
