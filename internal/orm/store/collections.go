package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cache"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/schema"
	"github.com/conduit-lang/collections/internal/orm/transaction"
)

// CreateCollection stores a new collection for projectID. The schemas are
// checked, including __extends cycles, before anything is written.
func (s *Store) CreateCollection(ctx context.Context, projectID entity.UUID, in entity.CollectionInput) (*entity.Collection, error) {
	if projectID.IsZero() {
		return nil, errs.Invalid("project_id is required")
	}
	if !in.Path.Present() {
		return nil, errs.Invalid("path is required")
	}

	c := entity.NewCollection(projectID)
	in.Apply(c)
	normalizeCollection(c)
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now

	ev := &hooks.Event{Kind: hooks.CollectionSaved, ProjectID: projectID, CollectionID: c.CollectionID, Collection: c, Created: true}
	err := s.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := s.insert(ctx, tx, migrate.CollectionTable, collectionColumns, collectionValues(c)); err != nil {
			return s.collectionWriteError(err, c)
		}
		return s.hooks.Run(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.cacheCollection(ctx, c)
	s.hooks.Dispatch(ev)
	s.logger.Info("collection created",
		zap.String("collection_id", string(c.CollectionID)),
		zap.String("project_id", string(projectID)),
		zap.String("path", string(c.Path)))
	return c, nil
}

// UpdateCollection applies the sent fields of in. A readonly collection
// only accepts flag changes, so it can be unlocked first.
func (s *Store) UpdateCollection(ctx context.Context, id entity.UUID, in entity.CollectionInput) (*entity.Collection, error) {
	var (
		c       *entity.Collection
		oldPath entity.Path
		ev      *hooks.Event
	)
	err := s.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		c, err = s.lockCollection(ctx, tx, id)
		if err != nil {
			return err
		}
		if c.IsReadonly && !collectionFlagsOnly(in) {
			return errs.Immutable("collection", id, "readonly")
		}
		oldPath = c.Path

		in.Apply(c)
		normalizeCollection(c)
		if err := checkCollection(c); err != nil {
			return err
		}
		c.UpdatedAt = s.bump(c.UpdatedAt)

		if err := s.update(ctx, tx, migrate.CollectionTable, "collection_id", id, collectionColumns[1:], collectionValues(c)[1:]); err != nil {
			return s.collectionWriteError(err, c)
		}
		ev = &hooks.Event{Kind: hooks.CollectionSaved, ProjectID: c.ProjectID, CollectionID: id, Collection: c}
		return s.hooks.Run(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.registry.Invalidate(string(id))
	s.uncacheCollection(ctx, c.ProjectID, id, oldPath, c.Path)
	s.hooks.Dispatch(ev)
	s.logger.Info("collection updated", zap.String("collection_id", string(id)))
	return c, nil
}

// GetCollection returns a collection by id, from the cache when possible.
// Inside a transaction the row is always read from the database.
func (s *Store) GetCollection(ctx context.Context, id entity.UUID) (*entity.Collection, error) {
	_, inTx := transaction.TxFromContext(ctx)
	if !inTx {
		var c entity.Collection
		if found, err := cache.GetJSON(ctx, s.cache, cache.CollectionKey(string(id)), &c); err == nil && found {
			normalizeCollection(&c)
			return &c, nil
		} else if err != nil {
			s.logger.Warn("collection cache read failed", zap.Error(err))
		}
	}

	c, err := s.selectCollection(ctx, s.conn(ctx), "collection_id", id, false)
	if err != nil {
		return nil, err
	}
	if !inTx {
		s.cacheCollection(ctx, c)
	}
	return c, nil
}

// GetCollectionByPath returns the collection at path within a project.
func (s *Store) GetCollectionByPath(ctx context.Context, projectID entity.UUID, path entity.Path) (*entity.Collection, error) {
	var id entity.UUID
	if found, _ := cache.GetJSON(ctx, s.cache, cache.CollectionPathKey(string(projectID), string(path)), &id); found {
		c, err := s.GetCollection(ctx, id)
		if err == nil && c.ProjectID == projectID && c.Path == path {
			return c, nil
		}
	}

	d := s.dialect
	args := query.NewArgs(d)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s",
		columnList(d, "", collectionColumns), s.table(migrate.CollectionTable),
		d.Quote("project_id"), args.Add(projectID), d.Quote("path"), args.Add(path))
	c, err := scanCollection(s.conn(ctx).QueryRowContext(ctx, stmt, args.Values()...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("collection", path)
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	s.cacheCollection(ctx, c)
	return c, nil
}

// ListCollections pages through the collections of a project.
func (s *Store) ListCollections(ctx context.Context, projectID entity.UUID, syntax *query.Syntax) (*query.Page[*entity.Collection], error) {
	d := s.dialect
	args := query.NewArgs(d)
	base := fmt.Sprintf("%s = %s", d.Quote("project_id"), args.Add(projectID))
	plan, err := query.NewCompiler(d, query.CollectionFields).Plan(syntax, args, base)
	if err != nil {
		return nil, err
	}

	var items []*entity.Collection
	var total int
	err = s.read(ctx, func(q adapter.DBTX) error {
		items = nil
		var ferr error
		total, ferr = plan.Fetch(ctx, q, columnList(d, "", collectionColumns), s.table(migrate.CollectionTable), func(rows *sql.Rows) error {
			c, err := scanCollection(rows)
			if err != nil {
				return err
			}
			items = append(items, c)
			return nil
		})
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return query.NewPage(items, total, plan.Limit, plan.Offset), nil
}

// DeleteCollection removes a collection with its models and relations.
// Weak references held elsewhere are left dangling.
func (s *Store) DeleteCollection(ctx context.Context, id entity.UUID) error {
	var (
		c  *entity.Collection
		ev *hooks.Event
	)
	err := s.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		c, err = s.lockCollection(ctx, tx, id)
		if err != nil {
			return err
		}
		if !c.IsDeletable {
			return errs.Immutable("collection", id, "not deletable")
		}
		if c.IsReadonly {
			return errs.Immutable("collection", id, "readonly")
		}
		d := s.dialect
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			s.table(migrate.CollectionTable), d.Quote("collection_id"), d.Placeholder(1))
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete collection: %w", errs.ConvertDBError(err))
		}
		ev = &hooks.Event{Kind: hooks.CollectionDeleted, ProjectID: c.ProjectID, CollectionID: id, Collection: c, Deleted: []entity.UUID{id}}
		return s.hooks.Run(ctx, tx, ev)
	})
	if err != nil {
		return err
	}

	s.registry.Invalidate(string(id))
	s.uncacheCollection(ctx, c.ProjectID, id, c.Path)
	s.hooks.Dispatch(ev)
	s.logger.Info("collection deleted", zap.String("collection_id", string(id)))
	return nil
}

// Schema resolves the schema of typ in c. A type without a schema of its own
// gets an empty, permissive one.
func (s *Store) Schema(c *entity.Collection, typ string) (*schema.Resolved, error) {
	if _, ok := c.Schemas[typ]; !ok {
		return &schema.Resolved{Type: typ, Chain: []string{typ}}, nil
	}
	return s.registry.Lookup(string(c.CollectionID), c.UpdatedAt.String(), c.Schemas, typ)
}

func (s *Store) lockCollection(ctx context.Context, tx *sql.Tx, id entity.UUID) (*entity.Collection, error) {
	return s.selectCollection(ctx, tx, "collection_id", id, true)
}

func (s *Store) selectCollection(ctx context.Context, q adapter.DBTX, column string, value any, lock bool) (*entity.Collection, error) {
	d := s.dialect
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		columnList(d, "", collectionColumns), s.table(migrate.CollectionTable), d.Quote(column), d.Placeholder(1))
	if lock {
		stmt += d.ForUpdate()
	}
	c, err := scanCollection(q.QueryRowContext(ctx, stmt, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("collection", value)
		}
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

func (s *Store) collectionWriteError(err error, c *entity.Collection) error {
	err = errs.ConvertDBError(err)
	if errors.Is(err, errs.ErrUniqueViolation) {
		return &errs.PathConflictError{Entity: "collection", Path: string(c.Path)}
	}
	return fmt.Errorf("failed to write collection: %w", err)
}

func (s *Store) cacheCollection(ctx context.Context, c *entity.Collection) {
	if err := cache.SetJSON(ctx, s.cache, cache.CollectionKey(string(c.CollectionID)), c, s.cacheTTL); err != nil {
		s.logger.Warn("collection cache write failed", zap.Error(err))
		return
	}
	_ = cache.SetJSON(ctx, s.cache, cache.CollectionPathKey(string(c.ProjectID), string(c.Path)), c.CollectionID, s.cacheTTL)
}

func (s *Store) uncacheCollection(ctx context.Context, projectID, id entity.UUID, paths ...entity.Path) {
	keys := []string{cache.CollectionKey(string(id))}
	for _, p := range paths {
		keys = append(keys, cache.CollectionPathKey(string(projectID), string(p)))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("collection cache invalidation failed", zap.Error(err))
	}
}

// checkCollection validates the collection definition itself.
func checkCollection(c *entity.Collection) error {
	if _, err := entity.ParsePath(string(c.Path)); err != nil {
		return errs.Invalid("%v", err)
	}
	if c.Cardinality < entity.Unlimited {
		return errs.Invalid("cardinality must be -1 or greater, got %d", c.Cardinality)
	}
	seen := make(map[string]bool, len(c.Types))
	for _, t := range c.Types {
		if strings.TrimSpace(t) == "" {
			return errs.Invalid("types must not contain empty names")
		}
		if seen[t] {
			return errs.Invalid("type %q is listed twice", t)
		}
		seen[t] = true
	}
	if err := schema.Check(c.Schemas); err != nil {
		return err
	}
	for typ := range c.Defaults {
		if !c.AllowsType(typ) {
			return errs.Invalid("defaults given for type %q which the collection does not allow", typ)
		}
	}
	return nil
}

func collectionFlagsOnly(in entity.CollectionInput) bool {
	return !in.Path.Set && !in.Cardinality.Set && !in.Types.Set && !in.Schemas.Set &&
		!in.Defaults.Set && !in.Data.Set && !in.Meta.Set && !in.Folders.Set && !in.Tags.Set
}
