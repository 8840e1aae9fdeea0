// Package store persists collections and models and enforces everything a
// model write has to satisfy: schema validation, collection cardinality,
// materialized hierarchy paths, relations and derived label/search columns.
package store

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cache"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/hierarchy"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/schema"
	"github.com/conduit-lang/collections/internal/orm/transaction"
	"github.com/conduit-lang/collections/internal/orm/validation"
)

// RelationSyncer replaces the outgoing edges of a model inside the model's
// own transaction. Any error aborts the whole upsert.
type RelationSyncer interface {
	SyncTx(ctx context.Context, tx *sql.Tx, projectID entity.UUID, m *entity.Model, relations map[string][]entity.UUID) error
}

// Options configures a Store. Zero values fall back to working defaults.
type Options struct {
	Transactions *transaction.Manager
	Registry     *schema.Registry
	Cache        cache.Cache
	CacheTTL     time.Duration
	Hooks        *hooks.Executor
	Logger       *zap.Logger
	// Clock overrides the time source for _created_at/_updated_at.
	Clock func() time.Time
}

// Store is the collection and model repository.
type Store struct {
	provider  adapter.Provider
	dialect   adapter.Dialect
	txm       *transaction.Manager
	registry  *schema.Registry
	validator *validation.Engine
	tree      *hierarchy.Manager
	relations RelationSyncer
	cache     cache.Cache
	cacheTTL  time.Duration
	hooks     *hooks.Executor
	logger    *zap.Logger
	clock     func() time.Time
}

// New creates a store on top of an initialised provider.
func New(p adapter.Provider, opts Options) *Store {
	s := &Store{
		provider: p,
		dialect:  p.Dialect(),
		txm:      opts.Transactions,
		registry: opts.Registry,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		hooks:    opts.Hooks,
		logger:   opts.Logger,
		clock:    opts.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.txm == nil {
		s.txm = transaction.NewManager(p.DB(), transaction.WithLogger(s.logger))
	}
	if s.registry == nil {
		s.registry = schema.NewRegistry()
	}
	if s.cache == nil {
		s.cache = cache.Noop{}
	}
	if s.cacheTTL == 0 {
		s.cacheTTL = cache.DefaultConfig().DefaultTTL
	}
	if s.hooks == nil {
		s.hooks = hooks.NewExecutor(nil, s.logger)
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	s.validator = validation.NewEngine(s)
	s.tree = hierarchy.NewManager(s.dialect, migrate.ModelTable, s.logger)
	return s
}

// SetRelationSyncer wires the relation engine. Upserts that carry relations
// fail until it is set.
func (s *Store) SetRelationSyncer(r RelationSyncer) {
	s.relations = r
}

// Provider returns the storage provider.
func (s *Store) Provider() adapter.Provider { return s.provider }

// Dialect returns the SQL dialect.
func (s *Store) Dialect() adapter.Dialect { return s.dialect }

// Transactions returns the transaction manager shared by every engine
// component working on this store.
func (s *Store) Transactions() *transaction.Manager { return s.txm }

// Registry returns the resolved schema registry.
func (s *Store) Registry() *schema.Registry { return s.registry }

// Hooks returns the lifecycle hook executor.
func (s *Store) Hooks() *hooks.Executor { return s.hooks }

// Logger returns the store's logger.
func (s *Store) Logger() *zap.Logger { return s.logger }

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) adapter.DBTX {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		return tx
	}
	return s.provider.DB()
}

// read runs fn on the transaction in ctx, or in a fresh snapshot so that a
// count and a page observe the same state.
func (s *Store) read(ctx context.Context, fn func(q adapter.DBTX) error) error {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		return fn(tx)
	}
	return s.txm.WithSnapshot(ctx, func(tx *sql.Tx) error {
		return fn(tx)
	})
}

func (s *Store) table(name string) string {
	return s.dialect.Table(name)
}

func (s *Store) now() entity.Timestamp {
	return entity.NewTimestamp(s.clock())
}

// bump returns a timestamp strictly after prev, so every write changes the
// _updated_at stamp that optimistic checks and the schema registry key on.
func (s *Store) bump(prev entity.Timestamp) entity.Timestamp {
	n := s.now()
	if !n.Time().After(prev.Time()) {
		n = entity.NewTimestamp(prev.Time().Add(time.Microsecond))
	}
	return n
}
