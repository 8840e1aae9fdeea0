package relationships

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/transaction"
)

// CreateRelationType defines a relation type in a project. The model
// collection, and the related collection when given, must belong to the
// same project.
func (e *Engine) CreateRelationType(ctx context.Context, projectID entity.UUID, in entity.RelationTypeInput) (*entity.RelationType, error) {
	if projectID.IsZero() {
		return nil, errs.Invalid("project_id is required")
	}
	if strings.TrimSpace(in.RelationType) == "" {
		return nil, errs.Invalid("relation_type is required")
	}
	rt := in.Build(projectID)
	for _, limit := range []int{rt.Cardinality, rt.ModelCardinality, rt.RelatedCardinality} {
		if limit < entity.Unlimited {
			return nil, errs.Invalid("cardinality must be -1 or greater, got %d", limit)
		}
	}
	if rt.RelatedCollectionID != nil && rt.RelatedCollectionID.IsZero() {
		rt.RelatedCollectionID = nil
	}

	err := e.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		from, err := e.store.GetCollection(ctx, rt.ModelCollectionID)
		if err != nil {
			return err
		}
		if from.ProjectID != projectID {
			return errs.Invalid("collection %s belongs to another project", from.CollectionID)
		}
		if rt.RelatedCollectionID != nil {
			to, err := e.store.GetCollection(ctx, *rt.RelatedCollectionID)
			if err != nil {
				return err
			}
			if to.ProjectID != projectID {
				return errs.Invalid("collection %s belongs to another project", to.CollectionID)
			}
			if t := rt.RelatedCollectionModelType; t != nil && !to.AllowsType(*t) {
				return errs.Invalid("collection %s does not allow type %q", to.Path, *t)
			}
		} else if rt.RelatedCollectionModelType != nil {
			return errs.Invalid("related_collection_model_type needs a related collection")
		}

		now := e.now()
		rt.CreatedAt, rt.UpdatedAt = now, now
		if err := e.insert(ctx, tx, relationTypeTableName, relationTypeColumns, relationTypeValues(rt)); err != nil {
			if errors.Is(err, errs.ErrUniqueViolation) {
				return &errs.PathConflictError{Entity: "relation type", Path: rt.RelationType}
			}
			return fmt.Errorf("failed to create relation type: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("relation type created",
		zap.String("relation_type_id", string(rt.RelationTypeID)),
		zap.String("relation_type", rt.RelationType),
		zap.Int("model_cardinality", rt.ModelCardinality),
		zap.Int("related_cardinality", rt.RelatedCardinality),
		zap.Int("cardinality", rt.Cardinality))
	return rt, nil
}

// GetRelationType returns a relation type by id.
func (e *Engine) GetRelationType(ctx context.Context, id entity.UUID) (*entity.RelationType, error) {
	return e.selectRelationType(ctx, e.conn(ctx), query.And(query.Cond("_relation_type_id", query.OpEq, string(id))), false, id)
}

// GetRelationTypeByName returns the relation type of a project by name.
func (e *Engine) GetRelationTypeByName(ctx context.Context, projectID entity.UUID, name string) (*entity.RelationType, error) {
	g := query.And(
		query.Cond("project_id", query.OpEq, string(projectID)),
		query.Cond("relation_type", query.OpEq, name),
	)
	return e.selectRelationType(ctx, e.conn(ctx), g, false, name)
}

// ListRelationTypes pages through the relation types of a project.
func (e *Engine) ListRelationTypes(ctx context.Context, projectID entity.UUID, syntax *query.Syntax) (*query.Page[*entity.RelationType], error) {
	d := e.dialect
	args := query.NewArgs(d)
	base := fmt.Sprintf("%s = %s", d.Quote("project_id"), args.Add(projectID))
	plan, err := query.NewCompiler(d, query.RelationTypeFields).Plan(syntax, args, base)
	if err != nil {
		return nil, err
	}

	var items []*entity.RelationType
	var total int
	read := func(q adapter.DBTX) error {
		items = nil
		var ferr error
		total, ferr = plan.Fetch(ctx, q, columnList(d, relationTypeColumns), e.table(relationTypeTableName), func(rows *sql.Rows) error {
			rt, err := scanRelationType(rows)
			if err != nil {
				return err
			}
			items = append(items, rt)
			return nil
		})
		return ferr
	}
	if tx, ok := transaction.TxFromContext(ctx); ok {
		err = read(tx)
	} else {
		err = e.txm.WithSnapshot(ctx, func(tx *sql.Tx) error { return read(tx) })
	}
	if err != nil {
		return nil, err
	}
	return query.NewPage(items, total, plan.Limit, plan.Offset), nil
}

// DeleteRelationType removes a relation type and every edge of it.
func (e *Engine) DeleteRelationType(ctx context.Context, id entity.UUID) error {
	return e.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rt, err := e.lockRelationType(ctx, tx, id)
		if err != nil {
			return err
		}
		if !rt.IsDeletable {
			return errs.Immutable("relation type", id, "not deletable")
		}
		if rt.IsReadonly {
			return errs.Immutable("relation type", id, "readonly")
		}
		d := e.dialect
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
			e.table(relationTypeTableName), d.Quote("_relation_type_id"), d.Placeholder(1))
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to delete relation type: %w", errs.ConvertDBError(err))
		}
		e.logger.Info("relation type deleted", zap.String("relation_type_id", string(id)))
		return nil
	})
}

func (e *Engine) lockRelationType(ctx context.Context, tx *sql.Tx, id entity.UUID) (*entity.RelationType, error) {
	return e.selectRelationType(ctx, tx, query.And(query.Cond("_relation_type_id", query.OpEq, string(id))), true, id)
}

func (e *Engine) selectRelationType(ctx context.Context, q adapter.DBTX, g *query.Group, lock bool, key any) (*entity.RelationType, error) {
	d := e.dialect
	args := query.NewArgs(d)
	where, err := e.where(query.RelationTypeFields, g, args)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		columnList(d, relationTypeColumns), e.table(relationTypeTableName), where)
	if lock {
		stmt += d.ForUpdate()
	}
	rt, err := scanRelationType(q.QueryRowContext(ctx, stmt, args.Values()...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("relation type", key)
		}
		return nil, fmt.Errorf("failed to get relation type: %w", err)
	}
	return rt, nil
}
