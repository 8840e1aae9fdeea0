package relationships

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// LinkInput describes one edge to create. The relation type is given by id,
// or by name within the project of the source model. Exactly one of
// RelatedID and WeakRelatedID must be set.
type LinkInput struct {
	RelationTypeID entity.UUID  `json:"_relation_type_id"`
	RelationType   string       `json:"relation_type"`
	ModelID        entity.UUID  `json:"model_id"`
	RelatedID      *entity.UUID `json:"related_id"`
	WeakRelatedID  *string      `json:"weak_related_id"`
	// SortOrder defaults to one past the model's last edge of the type.
	SortOrder  *int       `json:"sort_order"`
	IsUnlisted bool       `json:"is_unlisted"`
	Meta       entity.Doc `json:"meta"`
}

func (in LinkInput) validate() error {
	strong := in.RelatedID != nil && !in.RelatedID.IsZero()
	weak := in.WeakRelatedID != nil && *in.WeakRelatedID != ""
	switch {
	case in.ModelID.IsZero():
		return errs.Invalid("model_id is required")
	case in.RelationTypeID.IsZero() && in.RelationType == "":
		return errs.Invalid("a relation type id or name is required")
	case strong == weak:
		return errs.Invalid("exactly one of related_id and weak_related_id must be set")
	}
	return nil
}

// modelRef is the part of a model row the engine checks edges against.
type modelRef struct {
	ID           entity.UUID
	CollectionID entity.UUID
	ProjectID    entity.UUID
	Type         string
}

// Link creates an edge. Linking an edge that already exists returns it
// unchanged.
func (e *Engine) Link(ctx context.Context, in LinkInput) (*entity.Relation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	var (
		r  *entity.Relation
		ev *hooks.Event
	)
	err := e.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		src, err := e.sourceModel(ctx, in.ModelID)
		if err != nil {
			return err
		}
		rt, err := e.resolveType(ctx, src.ProjectID, in.RelationTypeID, in.RelationType)
		if err != nil {
			return err
		}
		var created bool
		if r, created, err = e.link(ctx, tx, rt, src, in); err != nil {
			return err
		}
		if !created {
			return nil
		}
		ev = &hooks.Event{Kind: hooks.RelationLinked, ProjectID: src.ProjectID, CollectionID: src.CollectionID, Relation: r, Created: true}
		return e.hooks.Run(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	if ev != nil {
		e.hooks.Dispatch(ev)
	}
	return r, nil
}

// Unlink removes an edge. Removing an edge that does not exist succeeds.
func (e *Engine) Unlink(ctx context.Context, relationID entity.UUID) error {
	var ev *hooks.Event
	err := e.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		rels, err := e.selectRelations(ctx, tx, query.And(query.Cond("relation_id", query.OpEq, string(relationID))))
		if err != nil {
			return err
		}
		if len(rels) == 0 {
			return nil
		}
		r := rels[0]
		rt, err := e.lockRelationType(ctx, tx, r.RelationTypeID)
		if err != nil {
			return err
		}
		if rt.IsReadonly {
			return errs.Immutable("relation type", rt.RelationTypeID, "readonly")
		}
		if err := e.deleteRelation(ctx, tx, r.RelationID); err != nil {
			return err
		}
		ev = &hooks.Event{Kind: hooks.RelationUnlinked, ProjectID: rt.ProjectID, CollectionID: rt.ModelCollectionID, Relation: r, Deleted: []entity.UUID{r.RelationID}}
		return e.hooks.Run(ctx, tx, ev)
	})
	if err != nil {
		return err
	}
	if ev != nil {
		e.hooks.Dispatch(ev)
		e.logger.Debug("relation unlinked", zap.String("relation_id", string(relationID)))
	}
	return nil
}

// SyncRelations replaces the strong edges of a model for each named relation
// type with the given targets, in order.
func (e *Engine) SyncRelations(ctx context.Context, modelID entity.UUID, relations map[string][]entity.UUID) error {
	return e.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		m, err := e.store.GetModel(ctx, modelID)
		if err != nil {
			return err
		}
		c, err := e.store.GetCollection(ctx, m.CollectionID)
		if err != nil {
			return err
		}
		return e.SyncTx(ctx, tx, c.ProjectID, m, relations)
	})
}

// SyncTx implements store.RelationSyncer. Edges missing from a list are
// removed first, so the limits are checked against the final edge set.
func (e *Engine) SyncTx(ctx context.Context, tx *sql.Tx, projectID entity.UUID, m *entity.Model, relations map[string][]entity.UUID) error {
	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)

	src := modelRef{ID: m.ModelID, CollectionID: m.CollectionID, ProjectID: projectID, Type: m.Type}
	for _, name := range names {
		targets := relations[name]
		rt, err := e.GetRelationTypeByName(ctx, projectID, name)
		if err != nil {
			return err
		}
		if rt.ModelCollectionID != m.CollectionID {
			return errs.RelationIntegrity(name, "models of collection %s cannot hold it", m.CollectionID)
		}
		want := make(map[entity.UUID]int, len(targets))
		for i, id := range targets {
			if _, dup := want[id]; dup {
				return errs.Invalid("relation %q lists %s twice", name, id)
			}
			want[id] = i
		}

		existing, err := e.selectRelations(ctx, tx, query.And(
			query.Cond("_relation_type_id", query.OpEq, string(rt.RelationTypeID)),
			query.Cond("model_id", query.OpEq, string(m.ModelID)),
			query.Cond("related_id", query.OpNis, nil),
		))
		if err != nil {
			return err
		}
		have := make(map[entity.UUID]*entity.Relation, len(existing))
		for _, r := range existing {
			if _, keep := want[*r.RelatedID]; keep {
				have[*r.RelatedID] = r
				continue
			}
			if rt.IsReadonly {
				return errs.Immutable("relation type", rt.RelationTypeID, "readonly")
			}
			if err := e.deleteRelation(ctx, tx, r.RelationID); err != nil {
				return err
			}
			if err := e.hooks.Run(ctx, tx, &hooks.Event{Kind: hooks.RelationUnlinked, ProjectID: projectID, CollectionID: m.CollectionID, Relation: r}); err != nil {
				return err
			}
		}

		for i, id := range targets {
			order := i
			if r, ok := have[id]; ok {
				if r.SortOrder != order {
					if err := e.setSortOrder(ctx, tx, r.RelationID, order); err != nil {
						return err
					}
				}
				continue
			}
			related := id
			r, _, err := e.link(ctx, tx, rt, src, LinkInput{ModelID: m.ModelID, RelatedID: &related, SortOrder: &order})
			if err != nil {
				return err
			}
			if err := e.hooks.Run(ctx, tx, &hooks.Event{Kind: hooks.RelationLinked, ProjectID: projectID, CollectionID: m.CollectionID, Relation: r, Created: true}); err != nil {
				return err
			}
		}
	}
	return nil
}

type limitCheck struct {
	limit int
	side  errs.Side
	g     *query.Group
}

// link checks and inserts one edge inside tx. It locks, in this order, the
// relation type row when its overall limit applies and the source and target
// model rows, so concurrent links of the same rows are serialised before any
// counting happens.
func (e *Engine) link(ctx context.Context, tx *sql.Tx, rt *entity.RelationType, src modelRef, in LinkInput) (*entity.Relation, bool, error) {
	if rt.IsReadonly {
		return nil, false, errs.Immutable("relation type", rt.RelationTypeID, "readonly")
	}
	if rt.Cardinality >= 0 {
		if _, err := e.lockRelationType(ctx, tx, rt.RelationTypeID); err != nil {
			return nil, false, err
		}
	}
	if rt.ModelCollectionID != src.CollectionID {
		return nil, false, errs.RelationIntegrity(rt.RelationType, "model %s is not in collection %s", src.ID, rt.ModelCollectionID)
	}

	var target query.Condition
	if in.RelatedID != nil {
		if !rt.AcceptsStrong() {
			return nil, false, errs.RelationIntegrity(rt.RelationType, "only weak references are accepted")
		}
		refs, err := e.lockModels(ctx, tx, src.ID, *in.RelatedID)
		if err != nil {
			return nil, false, err
		}
		related, ok := refs[*in.RelatedID]
		if !ok {
			return nil, false, errs.RelationIntegrity(rt.RelationType, "related model %s does not exist", *in.RelatedID)
		}
		if related.CollectionID != *rt.RelatedCollectionID {
			return nil, false, errs.RelationIntegrity(rt.RelationType, "related model %s is not in collection %s", related.ID, *rt.RelatedCollectionID)
		}
		if t := rt.RelatedCollectionModelType; t != nil && *t != related.Type {
			return nil, false, errs.RelationIntegrity(rt.RelationType, "related model %s has type %q, want %q", related.ID, related.Type, *t)
		}
		target = query.Cond("related_id", query.OpEq, string(*in.RelatedID))
	} else {
		if rt.AcceptsStrong() {
			return nil, false, errs.RelationIntegrity(rt.RelationType, "weak references are not accepted")
		}
		if _, err := e.lockModels(ctx, tx, src.ID); err != nil {
			return nil, false, err
		}
		target = query.Cond("weak_related_id", query.OpEq, *in.WeakRelatedID)
	}

	ofType := query.Cond("_relation_type_id", query.OpEq, string(rt.RelationTypeID))
	fromModel := query.Cond("model_id", query.OpEq, string(src.ID))
	dup, err := e.selectRelations(ctx, tx, query.And(ofType, fromModel, target))
	if err != nil {
		return nil, false, err
	}
	if len(dup) > 0 {
		return dup[0], false, nil
	}

	subject := "relation type " + rt.RelationType
	checks := []limitCheck{
		{rt.ModelCardinality, errs.SideModel, query.And(ofType, fromModel)},
		{rt.Cardinality, errs.SideOverall, query.And(ofType)},
	}
	if in.RelatedID != nil {
		checks = append(checks, limitCheck{rt.RelatedCardinality, errs.SideRelated, query.And(ofType, target)})
	}
	for _, c := range checks {
		if c.limit < 0 {
			continue
		}
		n, err := e.count(ctx, tx, c.g)
		if err != nil {
			return nil, false, err
		}
		if !entity.CardinalityAllows(c.limit, n) {
			return nil, false, &errs.CardinalityExceededError{Subject: subject, Side: c.side, Limit: c.limit}
		}
	}

	order := 0
	if in.SortOrder != nil {
		order = *in.SortOrder
	} else if order, err = e.nextSortOrder(ctx, tx, rt.RelationTypeID, src.ID); err != nil {
		return nil, false, err
	}
	meta := in.Meta
	if meta == nil {
		meta = entity.Doc{}
	}
	now := e.now()
	r := &entity.Relation{
		RelationID:     entity.NewUUID(),
		RelationTypeID: rt.RelationTypeID,
		ModelID:        src.ID,
		RelatedID:      in.RelatedID,
		WeakRelatedID:  in.WeakRelatedID,
		SortOrder:      order,
		IsUnlisted:     in.IsUnlisted,
		Meta:           meta,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if r.RelatedID != nil {
		r.WeakRelatedID = nil
	}
	if err := e.insert(ctx, tx, relationTableName, relationColumns, relationValues(r)); err != nil {
		return nil, false, fmt.Errorf("failed to link: %w", err)
	}

	e.logger.Debug("relation linked",
		zap.String("relation_id", string(r.RelationID)),
		zap.String("relation_type", rt.RelationType),
		zap.String("model_id", string(src.ID)),
		zap.String("target", r.Target()))
	return r, true, nil
}

func (e *Engine) resolveType(ctx context.Context, projectID, id entity.UUID, name string) (*entity.RelationType, error) {
	var (
		rt  *entity.RelationType
		err error
	)
	if !id.IsZero() {
		rt, err = e.GetRelationType(ctx, id)
	} else {
		rt, err = e.GetRelationTypeByName(ctx, projectID, name)
	}
	if err != nil {
		return nil, err
	}
	if rt.ProjectID != projectID {
		return nil, errs.NotFound("relation type", id)
	}
	return rt, nil
}

// sourceModel loads the model an edge leaves from, with its project.
func (e *Engine) sourceModel(ctx context.Context, id entity.UUID) (modelRef, error) {
	m, err := e.store.GetModel(ctx, id)
	if err != nil {
		return modelRef{}, err
	}
	c, err := e.store.GetCollection(ctx, m.CollectionID)
	if err != nil {
		return modelRef{}, err
	}
	return modelRef{ID: m.ModelID, CollectionID: m.CollectionID, ProjectID: c.ProjectID, Type: m.Type}, nil
}

// lockModels locks the model rows in id order and returns the ones found.
func (e *Engine) lockModels(ctx context.Context, tx *sql.Tx, ids ...entity.UUID) (map[entity.UUID]modelRef, error) {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = string(id)
	}
	d := e.dialect
	args := query.NewArgs(d)
	where, err := e.where(query.ModelFields, query.And(query.Cond("model_id", query.OpIn, values)), args)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s ORDER BY %s%s",
		d.Quote("model_id"), d.Quote("collection_id"), d.Quote("type"),
		e.table(modelTableName), where, d.Quote("model_id"), d.ForUpdate())
	rows, err := tx.QueryContext(ctx, stmt, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("failed to lock models: %w", errs.ConvertDBError(err))
	}
	defer rows.Close()
	out := make(map[entity.UUID]modelRef, len(ids))
	for rows.Next() {
		var ref modelRef
		if err := rows.Scan(&ref.ID, &ref.CollectionID, &ref.Type); err != nil {
			return nil, err
		}
		out[ref.ID] = ref
	}
	return out, rows.Err()
}

func (e *Engine) count(ctx context.Context, tx *sql.Tx, g *query.Group) (int, error) {
	args := query.NewArgs(e.dialect)
	where, err := e.where(query.RelationFields, g, args)
	if err != nil {
		return 0, err
	}
	var n int
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", e.table(relationTableName), where)
	if err := tx.QueryRowContext(ctx, stmt, args.Values()...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count relations: %w", err)
	}
	return n, nil
}

func (e *Engine) nextSortOrder(ctx context.Context, tx *sql.Tx, typeID, modelID entity.UUID) (int, error) {
	d := e.dialect
	stmt := fmt.Sprintf("SELECT MAX(%s) FROM %s WHERE %s = %s AND %s = %s",
		d.Quote("sort_order"), e.table(relationTableName),
		d.Quote("_relation_type_id"), d.Placeholder(1), d.Quote("model_id"), d.Placeholder(2))
	var max sql.NullInt64
	if err := tx.QueryRowContext(ctx, stmt, typeID, modelID).Scan(&max); err != nil {
		return 0, fmt.Errorf("failed to read sort order: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

func (e *Engine) setSortOrder(ctx context.Context, tx *sql.Tx, id entity.UUID, order int) error {
	d := e.dialect
	stmt := fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s WHERE %s = %s",
		e.table(relationTableName), d.Quote("sort_order"), d.Placeholder(1),
		d.Quote("_updated_at"), d.Placeholder(2), d.Quote("relation_id"), d.Placeholder(3))
	if _, err := tx.ExecContext(ctx, stmt, order, e.now(), id); err != nil {
		return fmt.Errorf("failed to reorder relation: %w", errs.ConvertDBError(err))
	}
	return nil
}

func (e *Engine) deleteRelation(ctx context.Context, tx *sql.Tx, id entity.UUID) error {
	d := e.dialect
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		e.table(relationTableName), d.Quote("relation_id"), d.Placeholder(1))
	if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("failed to unlink: %w", errs.ConvertDBError(err))
	}
	return nil
}
