package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/hierarchy"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// GetModel returns a model by id.
func (s *Store) GetModel(ctx context.Context, id entity.UUID) (*entity.Model, error) {
	return s.selectModel(ctx, s.conn(ctx), id, false)
}

// ListModels pages through the models of a collection. The count and the
// page are read from the same snapshot.
func (s *Store) ListModels(ctx context.Context, collectionID entity.UUID, syntax *query.Syntax) (*query.Page[*entity.Model], error) {
	if _, err := s.GetCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	d := s.dialect
	args := query.NewArgs(d)
	base := fmt.Sprintf("%s = %s", d.Quote("collection_id"), args.Add(collectionID))
	return s.pageModels(ctx, syntax, args, base)
}

// Children pages through the direct children of a model.
func (s *Store) Children(ctx context.Context, id entity.UUID, syntax *query.Syntax) (*query.Page[*entity.Model], error) {
	if _, err := s.GetModel(ctx, id); err != nil {
		return nil, err
	}
	d := s.dialect
	args := query.NewArgs(d)
	base := fmt.Sprintf("%s = %s", d.Quote("parent_id"), args.Add(id))
	return s.pageModels(ctx, syntax, args, base)
}

// Descendants pages through every model below id.
func (s *Store) Descendants(ctx context.Context, id entity.UUID, syntax *query.Syntax) (*query.Page[*entity.Model], error) {
	m, err := s.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	d := s.dialect
	args := query.NewArgs(d)
	base, err := query.NewCompiler(d, query.ModelFields).Where(
		hierarchy.DescendantsOf(*m.HierarchyPath).Add(query.Cond("collection_id", query.OpEq, string(m.CollectionID))), args)
	if err != nil {
		return nil, err
	}
	return s.pageModels(ctx, syntax, args, "("+base+")")
}

// Ancestors returns the ancestors of a model, root first.
func (s *Store) Ancestors(ctx context.Context, id entity.UUID) ([]*entity.Model, error) {
	m, err := s.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.ParentID == nil {
		return []*entity.Model{}, nil
	}
	d := s.dialect
	args := query.NewArgs(d)
	where, err := query.NewCompiler(d, query.ModelFields).Where(
		hierarchy.AncestorsOf(*m.HierarchyPath).Add(query.Cond("collection_id", query.OpEq, string(m.CollectionID))), args)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY LENGTH(%s)",
		columnList(d, "", modelColumns), s.table(migrate.ModelTable), where, d.Quote(hierarchy.Column))

	out := []*entity.Model{}
	err = s.read(ctx, func(q adapter.DBTX) error {
		rows, err := q.QueryContext(ctx, stmt, args.Values()...)
		if err != nil {
			return fmt.Errorf("failed to load ancestors: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanModel(rows)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

// CountModels returns how many models a collection holds.
func (s *Store) CountModels(ctx context.Context, collectionID entity.UUID) (int, error) {
	d := s.dialect
	var n int
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = %s",
		s.table(migrate.ModelTable), d.Quote("collection_id"), d.Placeholder(1))
	if err := s.conn(ctx).QueryRowContext(ctx, stmt, collectionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count models: %w", err)
	}
	return n, nil
}

// IsUnique reports whether no other model of (collection, type) stores value
// at data.field. It joins the transaction in ctx so it sees the write in
// progress.
func (s *Store) IsUnique(ctx context.Context, collectionID entity.UUID, typ, field string, value any, exclude entity.UUID) (bool, error) {
	switch value.(type) {
	case nil, map[string]any, []any:
		return true, nil
	}
	d := s.dialect
	args := query.NewArgs(d)
	g := query.And(
		query.Cond("collection_id", query.OpEq, string(collectionID)),
		query.Cond("type", query.OpEq, typ),
		query.Cond("data."+field, query.OpEq, value),
	)
	if !exclude.IsZero() {
		g.Add(query.Cond("model_id", query.OpNeq, string(exclude)))
	}
	where, err := query.NewCompiler(d, query.ModelFields).Where(g, args)
	if err != nil {
		return false, err
	}
	stmt := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", s.table(migrate.ModelTable), where)
	var one int
	err = s.conn(ctx).QueryRowContext(ctx, stmt, args.Values()...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return true, nil
	case err != nil:
		return false, fmt.Errorf("failed to check uniqueness of %s: %w", field, err)
	}
	return false, nil
}

// GetModels loads the models with the given ids in one query. Missing ids
// are absent from the result.
func (s *Store) GetModels(ctx context.Context, ids []entity.UUID) (map[entity.UUID]*entity.Model, error) {
	out := make(map[entity.UUID]*entity.Model, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = string(id)
	}
	d := s.dialect
	args := query.NewArgs(d)
	where, err := query.NewCompiler(d, query.ModelFields).Where(query.And(query.Cond("model_id", query.OpIn, values)), args)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		columnList(d, "", modelColumns), s.table(migrate.ModelTable), where)
	rows, err := s.conn(ctx).QueryContext(ctx, stmt, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out[m.ModelID] = m
	}
	return out, rows.Err()
}

func (s *Store) pageModels(ctx context.Context, syntax *query.Syntax, args *query.Args, base ...string) (*query.Page[*entity.Model], error) {
	d := s.dialect
	plan, err := query.NewCompiler(d, query.ModelFields).Plan(syntax, args, base...)
	if err != nil {
		return nil, err
	}
	var items []*entity.Model
	var total int
	err = s.read(ctx, func(q adapter.DBTX) error {
		items = nil
		var ferr error
		total, ferr = plan.Fetch(ctx, q, columnList(d, "", modelColumns), s.table(migrate.ModelTable), func(rows *sql.Rows) error {
			m, err := scanModel(rows)
			if err != nil {
				return err
			}
			items = append(items, m)
			return nil
		})
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return query.NewPage(items, total, plan.Limit, plan.Offset), nil
}

func (s *Store) selectModel(ctx context.Context, q adapter.DBTX, id entity.UUID, lock bool) (*entity.Model, error) {
	d := s.dialect
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		columnList(d, "", modelColumns), s.table(migrate.ModelTable), d.Quote("model_id"), d.Placeholder(1))
	if lock {
		stmt += d.ForUpdate()
	}
	m, err := scanModel(q.QueryRowContext(ctx, stmt, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("model", id)
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return m, nil
}
