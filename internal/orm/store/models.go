package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/hierarchy"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/tracking"
	"github.com/conduit-lang/collections/internal/orm/validation"
)

// UpsertModel creates (empty ModelID) or updates a model. Schema
// validation, cardinality, hierarchy placement, relation sync and the
// derived label and search columns all run in one transaction, so a failure
// at any step leaves nothing behind.
func (s *Store) UpsertModel(ctx context.Context, in entity.ModelUpsert) (*entity.Model, error) {
	var (
		m      *entity.Model
		events []*hooks.Event
	)
	err := s.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		events = events[:0]
		var err error
		m, err = s.upsert(ctx, tx, in, &events)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		s.hooks.Dispatch(ev)
	}
	return m, nil
}

// MoveModel re-parents a model; a nil parent moves it to the root.
func (s *Store) MoveModel(ctx context.Context, id entity.UUID, parentID *entity.UUID) (*entity.Model, error) {
	in := entity.ModelUpsert{ModelID: id, ParentID: entity.Null[entity.UUID]()}
	if parentID != nil {
		in.ParentID = entity.Some(*parentID)
	}
	return s.UpsertModel(ctx, in)
}

func (s *Store) upsert(ctx context.Context, tx *sql.Tx, in entity.ModelUpsert, events *[]*hooks.Event) (*entity.Model, error) {
	var existing *entity.Model
	collectionID := in.CollectionID
	if !in.ModelID.IsZero() {
		found, err := s.selectModel(ctx, tx, in.ModelID, true)
		if err != nil {
			return nil, err
		}
		if !collectionID.IsZero() && collectionID != found.CollectionID {
			return nil, errs.Invalid("model %s belongs to collection %s", found.ModelID, found.CollectionID)
		}
		existing, collectionID = found, found.CollectionID
	}
	if collectionID.IsZero() {
		return nil, errs.Invalid("collection_id is required")
	}

	c, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if existing.IsReadonly && !in.OnlyFlags() {
			return nil, errs.Immutable("model", existing.ModelID, "readonly")
		}
		if in.ExpectedUpdatedAt != nil && !existing.UpdatedAt.Equal(*in.ExpectedUpdatedAt) {
			return nil, fmt.Errorf("%w: model %s changed at %s", errs.ErrOptimisticLockFailed, existing.ModelID, existing.UpdatedAt)
		}
	}

	typ := c.DefaultType()
	switch {
	case in.Type.Present():
		typ = in.Type.Val
	case existing != nil:
		typ = existing.Type
	}
	if !c.AllowsType(typ) {
		verr := &errs.SchemaValidationError{}
		verr.Add("type", "enum", typ, "type %q is not allowed in collection %s", typ, c.Path)
		return nil, verr
	}
	resolved, err := s.Schema(c, typ)
	if err != nil {
		return nil, err
	}

	// concurrent writers serialise on the collection row before counting
	// models or checking _unique values
	if (existing == nil && c.Cardinality >= 0) || len(resolved.UniqueFields()) > 0 {
		if err := s.lockCollectionRow(ctx, tx, collectionID); err != nil {
			return nil, err
		}
	}

	// 1. field values and defaults
	var m *entity.Model
	if existing == nil {
		if err := s.checkCollectionCardinality(ctx, tx, c); err != nil {
			return nil, err
		}
		m = entity.NewModel(collectionID, typ)
		in.ApplyFields(m)
		m.Data = entity.MergeDoc(c.Defaults[typ], m.Data)
	} else {
		cp := *existing
		m = &cp
		in.ApplyFields(m)
		m.Type = typ
	}
	m.Data = validation.ApplyDefaults(resolved, m.Data)
	m.Meta = entity.CloneDoc(m.Meta)

	// 2. parent
	var parent *entity.Model
	switch {
	case in.ParentID.Present():
		if parent, err = s.selectModel(ctx, tx, in.ParentID.Val, true); err != nil {
			if errs.IsNotFound(err) {
				return nil, errs.NotFound("parent model", in.ParentID.Val)
			}
			return nil, err
		}
		if parent.CollectionID != collectionID {
			return nil, errs.Invalid("parent %s belongs to another collection", parent.ModelID)
		}
	case in.ParentID.Set:
	case existing != nil && existing.ParentID != nil:
		if parent, err = s.selectModel(ctx, tx, *existing.ParentID, false); err != nil {
			return nil, err
		}
	}
	if !in.ParentID.Set && (existing == nil || in.Data.Set) {
		if field, ok := resolved.HierarchyLabelField(); ok {
			built, err := s.buildHierarchy(ctx, tx, c, typ, field, m, parent, events)
			if err != nil {
				return nil, err
			}
			if built != nil {
				parent = built
			}
		}
	}

	// 3. validation
	verr := &errs.SchemaValidationError{}
	checkVocabulary(c, m, verr)
	target := validation.Target{CollectionID: collectionID, Type: typ, ModelID: m.ModelID}
	if err := s.validator.Validate(ctx, target, resolved, m.Data); err != nil {
		var ve *errs.SchemaValidationError
		if !errors.As(err, &ve) {
			return nil, err
		}
		verr.Merge(ve)
	}
	if err := verr.ErrOrNil(); err != nil {
		return nil, err
	}

	// 4. derived columns
	if in.Path.Set {
		m.Path = in.Path.Ptr()
	}
	m.Label = computeLabel(resolved, m.Data)
	var parentLabel *string
	if parent != nil {
		parentLabel = parent.HierarchyLabel
	}
	m.HierarchyLabel = hierarchyLabel(parentLabel, m.Label)
	m.Searchable, m.Searchable2 = searchProjection(resolved, m.Data, m.Label)

	// 5. persist
	ev := &hooks.Event{Kind: hooks.ModelSaved, ProjectID: c.ProjectID, CollectionID: collectionID, Model: m}
	if existing == nil {
		if err := s.insertModel(ctx, tx, m, parent); err != nil {
			return nil, err
		}
		ev.Created = true
	} else {
		changes, err := s.updateModel(ctx, tx, existing, m, parent, in)
		if err != nil {
			return nil, err
		}
		ev.Changed = changes.ChangedFields()
	}

	// 6. relations
	if in.Relations != nil {
		if s.relations == nil {
			return nil, errs.Invalid("relations cannot be written through this store")
		}
		if err := s.relations.SyncTx(ctx, tx, c.ProjectID, m, in.Relations); err != nil {
			return nil, err
		}
	}

	if err := s.hooks.Run(ctx, tx, ev); err != nil {
		return nil, err
	}
	*events = append(*events, ev)

	s.logger.Debug("model saved",
		zap.String("model_id", string(m.ModelID)),
		zap.String("collection_id", string(collectionID)),
		zap.String("type", typ),
		zap.Bool("created", ev.Created))
	return m, nil
}

func (s *Store) insertModel(ctx context.Context, tx *sql.Tx, m *entity.Model, parent *entity.Model) error {
	var parentH, parentPath *entity.Path
	if parent != nil {
		m.ParentID = parent.ModelID.Ptr()
		parentH, parentPath = parent.HierarchyPath, parent.Path
	} else {
		m.ParentID = nil
	}
	if err := hierarchy.ValidateUserPath(m.Path, parentPath); err != nil {
		return err
	}
	m.HierarchyPath = hierarchy.ChildPath(parentH, m.ModelID).Ptr()

	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.insert(ctx, tx, migrate.ModelTable, modelWriteColumns, modelValues(m)); err != nil {
		return modelWriteError(err, m.Path)
	}
	return nil
}

// updateModel writes the row and, when the parent or path changed, rewrites
// the subtree's materialized paths and hierarchy labels.
func (s *Store) updateModel(ctx context.Context, tx *sql.Tx, existing, m *entity.Model, parent *entity.Model, in entity.ModelUpsert) (*tracking.ChangeTracker, error) {
	var newParentID *entity.UUID
	var parentPath *entity.Path
	if parent != nil {
		newParentID, parentPath = parent.ModelID.Ptr(), parent.Path
	}
	parentChanged := !sameID(existing.ParentID, newParentID)
	pathChanged := in.Path.Present() && (existing.Path == nil || *existing.Path != in.Path.Val)
	moving := parentChanged || pathChanged

	m.UpdatedAt = s.bump(existing.UpdatedAt)
	row := *m
	row.ParentID, row.HierarchyPath = existing.ParentID, existing.HierarchyPath
	if moving {
		row.Path = existing.Path
	} else if err := hierarchy.ValidateUserPath(m.Path, parentPath); err != nil {
		return nil, err
	}
	if err := s.update(ctx, tx, migrate.ModelTable, "model_id", m.ModelID, modelWriteColumns[1:], modelValues(&row)[1:]); err != nil {
		return nil, modelWriteError(err, row.Path)
	}

	if moving {
		mv := hierarchy.Move{Node: node(existing)}
		if parent != nil {
			pn := node(parent)
			mv.Parent = &pn
		}
		if pathChanged {
			mv.NewPath = m.Path
		}
		res, err := s.tree.Move(ctx, tx, mv, m.UpdatedAt)
		if err != nil {
			return nil, err
		}
		m.ParentID, m.HierarchyPath, m.Path = newParentID, res.HierarchyPath.Ptr(), res.Path
	}

	before, err := query.Record(existing)
	if err != nil {
		return nil, err
	}
	after, err := query.Record(m)
	if err != nil {
		return nil, err
	}
	changes := tracking.NewChangeTracker(before, after, []string{"data", "meta"},
		"_updated_at", "__searchable", "__searchable2", "__hierarchy_path")

	if parentChanged || changes.Changed("_label") || changes.Changed("_hierarchy_label") {
		if err := s.refreshHierarchyLabels(ctx, tx, m); err != nil {
			return nil, err
		}
	}
	return changes, nil
}

// buildHierarchy turns a label such as "A / B / C" into the chain of
// ancestors "A" and "A / B", creating the ones that do not exist yet, and
// leaves "C" as the model's own label. It returns the direct parent.
func (s *Store) buildHierarchy(ctx context.Context, tx *sql.Tx, c *entity.Collection, typ, field string, m, parent *entity.Model, events *[]*hooks.Event) (*entity.Model, error) {
	raw, ok := m.Data[field].(string)
	if !ok || !strings.Contains(raw, "/") {
		return nil, nil
	}
	segs := hierarchy.SplitLabel(raw)
	if len(segs) < 2 {
		return nil, nil
	}

	prefix := ""
	if parent != nil && parent.HierarchyLabel != nil {
		prefix = *parent.HierarchyLabel
	}
	for _, seg := range segs[:len(segs)-1] {
		label := hierarchy.Label(&prefix, seg)
		found, err := s.findByHierarchyLabel(ctx, tx, c.CollectionID, typ, label)
		if err != nil {
			return nil, err
		}
		if found == nil {
			up := entity.ModelUpsert{
				CollectionID: c.CollectionID,
				Type:         entity.Some(typ),
				Data:         entity.Some(entity.Doc{field: seg}),
				ParentID:     entity.Null[entity.UUID](),
			}
			if parent != nil {
				up.ParentID = entity.Some(parent.ModelID)
			}
			if found, err = s.upsert(ctx, tx, up, events); err != nil {
				return nil, fmt.Errorf("failed to create ancestor %q: %w", label, err)
			}
		}
		parent, prefix = found, label
	}
	m.Data[field] = segs[len(segs)-1]
	return parent, nil
}

func (s *Store) findByHierarchyLabel(ctx context.Context, tx *sql.Tx, collectionID entity.UUID, typ, label string) (*entity.Model, error) {
	d := s.dialect
	args := query.NewArgs(d)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s AND %s = %s ORDER BY %s LIMIT 1",
		columnList(d, "", modelColumns), s.table(migrate.ModelTable),
		d.Quote("collection_id"), args.Add(collectionID),
		d.Quote("type"), args.Add(typ),
		d.Quote("_hierarchy_label"), args.Add(label),
		d.Quote("_created_at"))
	m, err := scanModel(tx.QueryRowContext(ctx, stmt, args.Values()...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

// refreshHierarchyLabels recomputes _hierarchy_label below m, parents first.
func (s *Store) refreshHierarchyLabels(ctx context.Context, tx *sql.Tx, m *entity.Model) error {
	d := s.dialect
	args := query.NewArgs(d)
	where, err := query.NewCompiler(d, query.ModelFields).Where(
		hierarchy.DescendantsOf(*m.HierarchyPath).Add(query.Cond("collection_id", query.OpEq, string(m.CollectionID))), args)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s WHERE %s ORDER BY LENGTH(%s)",
		d.Quote("model_id"), d.Quote("parent_id"), d.Quote("_label"), d.Quote("_hierarchy_label"),
		s.table(migrate.ModelTable), where, d.Quote(hierarchy.Column))

	type labelRow struct {
		id, parent entity.UUID
		label      *entity.Label
		current    *string
	}
	var rows []labelRow
	rs, err := tx.QueryContext(ctx, stmt, args.Values()...)
	if err != nil {
		return fmt.Errorf("failed to load descendants: %w", err)
	}
	for rs.Next() {
		var r labelRow
		var parent *entity.UUID
		if err := rs.Scan(&r.id, &parent, &r.label, &r.current); err != nil {
			rs.Close()
			return err
		}
		if parent != nil {
			r.parent = *parent
		}
		rows = append(rows, r)
	}
	if err := rs.Err(); err != nil {
		rs.Close()
		return err
	}
	rs.Close()

	labels := map[entity.UUID]*string{m.ModelID: m.HierarchyLabel}
	update := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s",
		s.table(migrate.ModelTable), d.Quote("_hierarchy_label"), d.Placeholder(1), d.Quote("model_id"), d.Placeholder(2))
	for _, r := range rows {
		hl := hierarchyLabel(labels[r.parent], r.label)
		labels[r.id] = hl
		if sameString(hl, r.current) {
			continue
		}
		if _, err := tx.ExecContext(ctx, update, hl, r.id); err != nil {
			return fmt.Errorf("failed to update hierarchy label: %w", err)
		}
	}
	return nil
}

func (s *Store) checkCollectionCardinality(ctx context.Context, tx *sql.Tx, c *entity.Collection) error {
	if c.Cardinality < 0 {
		return nil
	}
	d := s.dialect
	var n int
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		s.table(migrate.ModelTable), d.Quote("collection_id"), d.Placeholder(1))
	if err := tx.QueryRowContext(ctx, stmt, c.CollectionID).Scan(&n); err != nil {
		return fmt.Errorf("failed to count models: %w", err)
	}
	if !entity.CardinalityAllows(c.Cardinality, n) {
		return &errs.CardinalityExceededError{Subject: "collection " + string(c.Path), Side: errs.SideCollection, Limit: c.Cardinality}
	}
	return nil
}

// lockCollectionRow holds the collection row until tx ends. SQLite
// transactions are already immediate, so it only locks on postgres.
func (s *Store) lockCollectionRow(ctx context.Context, tx *sql.Tx, id entity.UUID) error {
	d := s.dialect
	lock := d.ForUpdate()
	if lock == "" {
		return nil
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s%s", d.Quote("collection_id"),
		s.table(migrate.CollectionTable), d.Quote("collection_id"), d.Placeholder(1), lock)
	var got entity.UUID
	if err := tx.QueryRowContext(ctx, stmt, id).Scan(&got); err != nil {
		return fmt.Errorf("failed to lock collection: %w", errs.ConvertDBError(err))
	}
	return nil
}

// checkVocabulary enforces the folders and tags a collection defines. A
// collection that defines none accepts any.
func checkVocabulary(c *entity.Collection, m *entity.Model, verr *errs.SchemaValidationError) {
	if m.Folder != nil && len(c.Folders) > 0 {
		if _, ok := c.Folders[*m.Folder]; !ok {
			verr.Add("folder", "enum", *m.Folder, "folder %q is not defined in collection %s", *m.Folder, c.Path)
		}
	}
	if len(c.Tags) > 0 {
		for _, tag := range m.Tags {
			if _, ok := c.Tags[tag]; !ok {
				verr.Add("tags", "enum", tag, "tag %q is not defined in collection %s", tag, c.Path)
			}
		}
	}
}

func modelWriteError(err error, path *entity.Path) error {
	err = errs.ConvertDBError(err)
	if errors.Is(err, errs.ErrUniqueViolation) && path != nil {
		return &errs.PathConflictError{Entity: "model", Path: string(*path)}
	}
	if errs.IsNotFound(err) {
		return err
	}
	return fmt.Errorf("failed to write model: %w", err)
}

func node(m *entity.Model) hierarchy.Node {
	n := hierarchy.Node{ID: m.ModelID, CollectionID: m.CollectionID, Path: m.Path}
	if m.HierarchyPath != nil {
		n.HierarchyPath = *m.HierarchyPath
	}
	return n
}

func sameID(a, b *entity.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
