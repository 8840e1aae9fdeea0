package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/collections/internal/orm/adapter"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	oldWd, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(oldWd)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, adapter.SQLite, cfg.Database.Type)
	assert.Equal(t, "collections.db", cfg.Database.DSN)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 600, cfg.RateLimit.Limit)
	assert.Equal(t, 4, cfg.Hooks.Workers)
	assert.False(t, cfg.Profiling.Enabled)
	assert.Equal(t, "127.0.0.1:6060", cfg.Profiling.Address)
	assert.Error(t, cfg.RequireSecret())
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collections.yml")
	content := `
database:
  type: postgres
  dsn: postgres://localhost/collections
  options:
    table_prefix: cms_
server:
  address: 127.0.0.1:9000
  write_timeout: 1m
redis:
  addr: localhost:6379
rate_limit:
  enabled: true
  limit: 10
  window: 1s
log:
  level: debug
profiling:
  enabled: true
  block_rate: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("COLLECTIONS_AUTH_SECRET", "from-env")
	t.Setenv("COLLECTIONS_HOOKS_WORKERS", "8")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, adapter.Postgres, cfg.Database.Type)
	assert.Equal(t, "cms_", cfg.Database.Options.TablePrefix)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, time.Minute, cfg.Server.WriteTimeout)
	assert.True(t, cfg.Redis.Enabled())
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Second, cfg.RateLimit.Window)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 8, cfg.Hooks.Workers)
	assert.True(t, cfg.Profiling.Enabled)
	assert.Equal(t, 5, cfg.Profiling.BlockRate)
	assert.NoError(t, cfg.RequireSecret())

	logger, err := cfg.Log.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "database:\n  type: mysql\n"},
		{"bad prefix", "database:\n  options:\n    table_prefix: \"a;b\"\n"},
		{"bad rate limit", "rate_limit:\n  enabled: true\n  limit: 0\n"},
		{"no workers", "hooks:\n  workers: 0\n"},
		{"profiling without address", "profiling:\n  enabled: true\n  address: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "collections.yml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := LogConfig{Level: "loud"}.NewLogger()
	assert.Error(t, err)
}
