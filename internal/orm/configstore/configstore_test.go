package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/collections/internal/cache"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/migrate"
)

var project = entity.MustParseUUID("0b7d5c1e-3f2a-4c6e-8a1d-2e9f4b6c8d10")

func newTestStore(t *testing.T, c cache.Cache) *Store {
	t.Helper()
	p, err := adapter.Open(adapter.Config{Type: adapter.SQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	_, err = migrate.New(p, nil).Bootstrap(context.Background())
	require.NoError(t, err)
	return New(p, nil, c, 0, nil)
}

func TestPut_VersionsAndOptimisticLock(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	_, err := s.Get(ctx, project, Linked)
	assert.True(t, errs.IsNotFound(err))

	zero := 0
	r, err := s.Put(ctx, project, Linked, json.RawMessage(`{"version": 1, "rules": []}`), &zero)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Version)
	assert.JSONEq(t, `{"version":1,"rules":[]}`, string(r.Data))

	r, err = s.Put(ctx, project, Linked, json.RawMessage(`{"version": 1, "rules": [{"id": "a"}]}`), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Version)

	stale := 1
	_, err = s.Put(ctx, project, Linked, json.RawMessage(`{}`), &stale)
	assert.True(t, errors.Is(err, errs.ErrOptimisticLockFailed))

	got, err := s.Get(ctx, project, Linked)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.JSONEq(t, `{"version":1,"rules":[{"id":"a"}]}`, string(got.Data))
}

func TestPut_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)

	tests := []struct {
		name string
		key  string
		data string
	}{
		{"empty name", "", `{}`},
		{"invalid json", AppConfig, `{"a":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Put(ctx, project, tt.key, json.RawMessage(tt.data), nil)
			assert.True(t, errors.Is(err, errs.ErrInvalidInput))
		})
	}
}

func TestDecodeListDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, cache.NewMemoryCache())

	var cfg map[string]any
	found, err := s.Decode(ctx, project, FormRoutes, &cfg)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Put(ctx, project, FormRoutes, json.RawMessage(`{"contact": "/contact"}`), nil)
	require.NoError(t, err)
	_, err = s.Put(ctx, project, AppConfig, json.RawMessage(`{"theme": "dark"}`), nil)
	require.NoError(t, err)

	found, err = s.Decode(ctx, project, FormRoutes, &cfg)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "/contact", cfg["contact"])

	all, err := s.List(ctx, project)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, AppConfig, all[0].Name)
	assert.Equal(t, FormRoutes, all[1].Name)

	require.NoError(t, s.Delete(ctx, project, FormRoutes))
	require.NoError(t, s.Delete(ctx, project, FormRoutes))
	found, err = s.Decode(ctx, project, FormRoutes, &cfg)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGet_RedisCacheIsInvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := newTestStore(t, cache.NewRedisCacheWithClient(client, cache.DefaultConfig()))

	_, err := s.Put(ctx, project, CustomPages, json.RawMessage(`{"pages": 1}`), nil)
	require.NoError(t, err)

	_, err = s.Get(ctx, project, CustomPages)
	require.NoError(t, err)
	assert.Len(t, mr.Keys(), 1)

	_, err = s.Put(ctx, project, CustomPages, json.RawMessage(`{"pages": 2}`), nil)
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())

	got, err := s.Get(ctx, project, CustomPages)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.JSONEq(t, `{"pages":2}`, string(got.Data))
}
