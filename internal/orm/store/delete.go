package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/hierarchy"
	"github.com/conduit-lang/collections/internal/orm/hooks"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/query"
)

// DeleteModel removes a model together with its whole subtree and every
// relation touching them. Nothing is deleted when any model of the subtree
// is readonly or not deletable.
func (s *Store) DeleteModel(ctx context.Context, id entity.UUID) ([]entity.UUID, error) {
	var ev *hooks.Event
	err := s.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		m, err := s.selectModel(ctx, tx, id, true)
		if err != nil {
			return err
		}
		c, err := s.GetCollection(ctx, m.CollectionID)
		if err != nil {
			return err
		}

		d := s.dialect
		compiler := query.NewCompiler(d, query.ModelFields)
		subtree := func() *query.Group {
			return hierarchy.SubtreeOf(*m.HierarchyPath).Add(query.Cond("collection_id", query.OpEq, string(m.CollectionID)))
		}

		args := query.NewArgs(d)
		where, err := compiler.Where(subtree().AddGroup(query.Or(
			query.Cond("is_deletable", query.OpEq, false),
			query.Cond("is_readonly", query.OpEq, true),
		)), args)
		if err != nil {
			return err
		}
		var blocked entity.UUID
		var deletable, readonly bool
		stmt := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s LIMIT 1",
			d.Quote("model_id"), d.Quote("is_deletable"), d.Quote("is_readonly"), s.table(migrate.ModelTable), where)
		switch err := tx.QueryRowContext(ctx, stmt, args.Values()...).Scan(&blocked, &deletable, &readonly); {
		case err == nil:
			reason := "not deletable"
			if readonly {
				reason = "readonly"
			}
			return errs.Immutable("model", blocked, reason)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check subtree: %w", err)
		}

		args = query.NewArgs(d)
		where, err = compiler.Where(subtree(), args)
		if err != nil {
			return err
		}
		ids, err := s.selectIDs(ctx, tx, where, args.Values())
		if err != nil {
			return err
		}
		stmt = fmt.Sprintf("DELETE FROM %s WHERE %s", s.table(migrate.ModelTable), where)
		if _, err := tx.ExecContext(ctx, stmt, args.Values()...); err != nil {
			return fmt.Errorf("failed to delete model: %w", errs.ConvertDBError(err))
		}

		ev = &hooks.Event{Kind: hooks.ModelDeleted, ProjectID: c.ProjectID, CollectionID: m.CollectionID, Model: m, Deleted: ids}
		return s.hooks.Run(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}

	s.hooks.Dispatch(ev)
	s.logger.Info("model deleted",
		zap.String("model_id", string(id)),
		zap.Int("subtree", len(ev.Deleted)))
	return ev.Deleted, nil
}

func (s *Store) selectIDs(ctx context.Context, tx *sql.Tx, where string, args []any) ([]entity.UUID, error) {
	d := s.dialect
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY LENGTH(%s)",
		d.Quote("model_id"), s.table(migrate.ModelTable), where, d.Quote(hierarchy.Column))
	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subtree: %w", err)
	}
	defer rows.Close()
	var ids []entity.UUID
	for rows.Next() {
		var id entity.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
