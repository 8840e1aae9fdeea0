package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cache"
	"github.com/conduit-lang/collections/internal/cli/config"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/configstore"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/linked"
	"github.com/conduit-lang/collections/internal/orm/relationships"
	"github.com/conduit-lang/collections/internal/orm/store"
	"github.com/conduit-lang/collections/internal/web/ratelimit"
	"github.com/conduit-lang/collections/internal/web/stream"
)

// app wires the engine from a config.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	provider  *adapter.SQLProvider
	redis     *redis.Client
	queue     *hooks.AsyncQueue
	store     *store.Store
	relations *relationships.Engine
	configs   *configstore.Store
	linked    *linked.Resolver
	events    *stream.Broker
	closers   []func() error
}

func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	p, err := adapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, provider: p}
	a.closers = append(a.closers, p.Close)

	var c cache.Cache
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		a.redis = client
		a.closers = append(a.closers, client.Close)
		c = cache.NewRedisCacheWithClient(client, cache.Config{DefaultTTL: cfg.Cache.TTL, Prefix: cache.DefaultConfig().Prefix})
	} else {
		mem := cache.NewMemoryCache()
		a.closers = append(a.closers, mem.Close)
		c = mem
	}

	a.queue = hooks.NewAsyncQueue(cfg.Hooks.Workers, logger.Named("hooks"))
	a.queue.Start()
	a.closers = append(a.closers, func() error { a.queue.Shutdown(); return nil })

	executor := hooks.NewExecutor(a.queue, logger.Named("hooks"))
	registerAuditHooks(executor, logger.Named("audit"))
	a.events = stream.NewBroker(64, logger.Named("events"))
	a.events.Register(executor)
	a.closers = append(a.closers, func() error { a.events.Close(); return nil })

	a.store = store.New(p, store.Options{
		Cache:    c,
		CacheTTL: cfg.Cache.TTL,
		Hooks:    executor,
		Logger:   logger,
	})
	a.relations = relationships.New(a.store)
	a.configs = configstore.New(p, a.store.Transactions(), c, cfg.Cache.TTL, logger.Named("config"))
	a.linked = linked.NewResolver(a.store, a.configs)
	return a, nil
}

// limiter returns the configured write limiter, or nil when disabled.
func (a *app) limiter() (ratelimit.Limiter, error) {
	if !a.cfg.RateLimit.Enabled {
		return nil, nil
	}
	if a.redis != nil {
		return ratelimit.NewRedisLimiter(a.redis, a.cfg.RateLimit.Config)
	}
	return ratelimit.NewTokenBucket(a.cfg.RateLimit.Config), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

// registerAuditHooks logs every committed write after the fact.
func registerAuditHooks(e *hooks.Executor, logger *zap.Logger) {
	audit := func(_ context.Context, _ *sql.Tx, ev *hooks.Event) error {
		fields := []zap.Field{
			zap.String("event", ev.Kind.String()),
			zap.String("project_id", string(ev.ProjectID)),
		}
		if !ev.CollectionID.IsZero() {
			fields = append(fields, zap.String("collection_id", string(ev.CollectionID)))
		}
		if ev.Model != nil {
			fields = append(fields, zap.String("model_id", string(ev.Model.ModelID)), zap.Bool("created", ev.Created))
		}
		if ev.Relation != nil {
			fields = append(fields, zap.String("relation_id", string(ev.Relation.RelationID)))
		}
		if len(ev.Changed) > 0 {
			fields = append(fields, zap.Strings("changed", ev.Changed))
		}
		if len(ev.Deleted) > 0 {
			fields = append(fields, zap.Int("deleted", len(ev.Deleted)))
		}
		logger.Info("write committed", fields...)
		return nil
	}
	for _, kind := range []hooks.Kind{
		hooks.CollectionSaved, hooks.CollectionDeleted,
		hooks.ModelSaved, hooks.ModelDeleted,
		hooks.RelationLinked, hooks.RelationUnlinked,
	} {
		e.Register(kind, &hooks.Hook{Name: "audit", Kind: kind, Fn: audit, Async: true})
	}
}
