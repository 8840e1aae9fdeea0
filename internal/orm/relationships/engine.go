// Package relationships manages relation types and the edges between models.
//
// A relation type names a relationship from the models of one collection
// either to the models of another collection (strong edges, checked against
// the target row) or to opaque external references (weak edges). Each type
// carries three limits: model_cardinality bounds the edges leaving one model,
// related_cardinality bounds the edges reaching one target and cardinality
// bounds the edges of the whole type. The limits are counted and the edge
// written inside one transaction, with the counted rows locked, so two
// concurrent links can never both pass a check only one of them should.
package relationships

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/store"
	"github.com/conduit-lang/collections/internal/orm/transaction"
)

// Engine is the relation engine.
type Engine struct {
	store   *store.Store
	dialect adapter.Dialect
	txm     *transaction.Manager
	hooks   *hooks.Executor
	logger  *zap.Logger
	clock   func() time.Time
}

var _ store.RelationSyncer = (*Engine)(nil)

// New creates an engine on top of s and registers it as the store's
// relation syncer, so model upserts can carry __relations__.
func New(s *store.Store) *Engine {
	e := &Engine{
		store:   s,
		dialect: s.Dialect(),
		txm:     s.Transactions(),
		hooks:   s.Hooks(),
		logger:  s.Logger().Named("relations"),
		clock:   time.Now,
	}
	s.SetRelationSyncer(e)
	return e
}

func (e *Engine) now() entity.Timestamp {
	return entity.NewTimestamp(e.clock())
}

func (e *Engine) table(name string) string {
	return e.dialect.Table(name)
}

// conn returns the transaction in ctx, or the pool.
func (e *Engine) conn(ctx context.Context) adapter.DBTX {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		return tx
	}
	return e.store.Provider().DB()
}

func (e *Engine) where(fields *query.FieldSet, g *query.Group, args *query.Args) (string, error) {
	return query.NewCompiler(e.dialect, fields).Where(g, args)
}

const (
	relationTypeTableName = migrate.RelationTypeTable
	relationTableName     = migrate.RelationTable
	modelTableName        = migrate.ModelTable
)
