// Package config loads the collections service configuration from
// collections.yml and COLLECTIONS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/web/profiling"
	"github.com/conduit-lang/collections/internal/web/ratelimit"
	"github.com/conduit-lang/collections/internal/web/server"
)

// EnvPrefix prefixes every environment override, e.g.
// COLLECTIONS_DATABASE_DSN.
const EnvPrefix = "COLLECTIONS"

// Config represents the service configuration
type Config struct {
	Database  adapter.Config   `mapstructure:"database"`
	Server    server.Config    `mapstructure:"server"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Cache     CacheConfig      `mapstructure:"cache"`
	RateLimit RateLimitConfig  `mapstructure:"rate_limit"`
	Hooks     HooksConfig      `mapstructure:"hooks"`
	Log       LogConfig        `mapstructure:"log"`
	Profiling profiling.Config `mapstructure:"profiling"`
}

// AuthConfig configures bearer tokens
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// RedisConfig enables the shared cache and rate limiter when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis server is configured
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// CacheConfig configures collection and config caching
type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig configures write throttling
type RateLimitConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	ratelimit.Config `mapstructure:",squash"`
}

// HooksConfig sizes the async hook worker pool
type HooksConfig struct {
	Workers int `mapstructure:"workers"`
}

// LogConfig configures the zap logger
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	srv := server.DefaultConfig()
	rl := ratelimit.DefaultConfig()

	v.SetDefault("database.type", string(adapter.SQLite))
	v.SetDefault("database.dsn", "collections.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.options.table_prefix", "")

	v.SetDefault("server.address", srv.Address)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.write_timeout", srv.WriteTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.read_header_timeout", srv.ReadHeaderTimeout)
	v.SetDefault("server.max_header_bytes", srv.MaxHeaderBytes)
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.ttl", 5*time.Minute)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.limit", rl.Limit)
	v.SetDefault("rate_limit.window", rl.Window)
	v.SetDefault("rate_limit.prefix", rl.Prefix)

	v.SetDefault("hooks.workers", 4)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	prof := profiling.DefaultConfig()
	v.SetDefault("profiling.enabled", prof.Enabled)
	v.SetDefault("profiling.address", prof.Address)
	v.SetDefault("profiling.block_rate", prof.BlockRate)
	v.SetDefault("profiling.mutex_fraction", prof.MutexFraction)
}

// Load reads the configuration. An empty path searches for collections.yml
// in the working directory; a missing file there is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("collections")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	typ, err := adapter.ParseType(string(cfg.Database.Type))
	if err != nil {
		return nil, fmt.Errorf("database.type: %w", err)
	}
	cfg.Database.Type = typ

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no safe default
func Validate(cfg *Config) error {
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if cfg.RateLimit.Enabled && (cfg.RateLimit.Limit <= 0 || cfg.RateLimit.Window <= 0) {
		return errors.New("rate_limit.limit and rate_limit.window must be positive")
	}
	if cfg.Hooks.Workers < 1 {
		return fmt.Errorf("hooks.workers must be at least 1, got %d", cfg.Hooks.Workers)
	}
	if cfg.Profiling.Enabled && cfg.Profiling.Address == "" {
		return errors.New("profiling.address is required when profiling is enabled")
	}
	if p := cfg.Database.Options.TablePrefix; p != "" && strings.ContainsAny(p, " .;\"'") {
		return fmt.Errorf("database.options.table_prefix contains invalid characters: %q", p)
	}
	return nil
}

// RequireSecret fails when no token secret is configured.
func (c *Config) RequireSecret() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required (set %s_AUTH_SECRET)", EnvPrefix)
	}
	return nil
}

// NewLogger builds the zap logger described by c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
