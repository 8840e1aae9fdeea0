package relationships

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/query"
)

type scanner interface {
	Scan(dest ...any) error
}

var relationTypeColumns = []string{
	"_relation_type_id", "project_id", "relation_type", "model_collection_id", "related_collection_id",
	"related_collection_model_type", "cardinality", "model_cardinality", "related_cardinality", "meta",
	"is_unlisted", "is_deletable", "is_readonly", "__is_rest_disabled", "_created_at", "_updated_at",
}

var relationColumns = []string{
	"relation_id", "_relation_type_id", "model_id", "related_id", "weak_related_id",
	"sort_order", "meta", "is_unlisted", "_created_at", "_updated_at",
}

func columnList(d adapter.Dialect, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

func scanRelationType(row scanner) (*entity.RelationType, error) {
	var rt entity.RelationType
	err := row.Scan(
		&rt.RelationTypeID, &rt.ProjectID, &rt.RelationType, &rt.ModelCollectionID, &rt.RelatedCollectionID,
		&rt.RelatedCollectionModelType, &rt.Cardinality, &rt.ModelCardinality, &rt.RelatedCardinality, &rt.Meta,
		&rt.IsUnlisted, &rt.IsDeletable, &rt.IsReadonly, &rt.RestDisabled, &rt.CreatedAt, &rt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if rt.Meta == nil {
		rt.Meta = entity.Doc{}
	}
	return &rt, nil
}

func relationTypeValues(rt *entity.RelationType) []any {
	return []any{
		rt.RelationTypeID, rt.ProjectID, rt.RelationType, rt.ModelCollectionID, rt.RelatedCollectionID,
		rt.RelatedCollectionModelType, rt.Cardinality, rt.ModelCardinality, rt.RelatedCardinality, rt.Meta,
		rt.IsUnlisted, rt.IsDeletable, rt.IsReadonly, rt.RestDisabled, rt.CreatedAt, rt.UpdatedAt,
	}
}

func scanRelation(row scanner) (*entity.Relation, error) {
	var r entity.Relation
	err := row.Scan(
		&r.RelationID, &r.RelationTypeID, &r.ModelID, &r.RelatedID, &r.WeakRelatedID,
		&r.SortOrder, &r.Meta, &r.IsUnlisted, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if r.Meta == nil {
		r.Meta = entity.Doc{}
	}
	return &r, nil
}

func relationValues(r *entity.Relation) []any {
	return []any{
		r.RelationID, r.RelationTypeID, r.ModelID, r.RelatedID, r.WeakRelatedID,
		r.SortOrder, r.Meta, r.IsUnlisted, r.CreatedAt, r.UpdatedAt,
	}
}

func (e *Engine) insert(ctx context.Context, q adapter.DBTX, table string, cols []string, values []any) error {
	d := e.dialect
	args := query.NewArgs(d)
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = args.Add(v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		e.table(table), columnList(d, cols), strings.Join(ph, ", "))
	if _, err := q.ExecContext(ctx, stmt, args.Values()...); err != nil {
		return errs.ConvertDBError(err)
	}
	return nil
}

func (e *Engine) selectRelations(ctx context.Context, q adapter.DBTX, g *query.Group) ([]*entity.Relation, error) {
	d := e.dialect
	args := query.NewArgs(d)
	where, err := e.where(query.RelationFields, g, args)
	if err != nil {
		return nil, err
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s, %s, %s",
		columnList(d, relationColumns), e.table(relationTableName), where,
		d.Quote("sort_order"), d.Quote("_created_at"), d.Quote("relation_id"))
	rows, err := q.QueryContext(ctx, stmt, args.Values()...)
	if err != nil {
		return nil, fmt.Errorf("failed to list relations: %w", errs.ConvertDBError(err))
	}
	defer rows.Close()
	var out []*entity.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
