package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/query"
	"github.com/conduit-lang/collections/internal/orm/schema"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

var collectionColumns = []string{
	"collection_id", "project_id", "path", "cardinality", "types", "schemas", "defaults",
	"data", "meta", "folders", "tags", "is_unlisted", "is_deletable", "is_readonly",
	"__is_rest_disabled", "_created_at", "_updated_at",
}

// modelColumns are read back; _label_text is write-only.
var modelColumns = []string{
	"model_id", "collection_id", "type", "parent_id", "path", "folder", "tags", "data", "meta",
	"is_unlisted", "is_deletable", "is_readonly", "is_starred", "is_enabled", "__is_rest_disabled",
	"red", "orange", "yellow", "green", "blue", "purple", "gray",
	"_label", "_hierarchy_label", "_created_at", "_updated_at",
	"__searchable", "__searchable2", "__hierarchy_path",
}

var modelWriteColumns = append(append([]string(nil), modelColumns...), "_label_text")

func columnList(d adapter.Dialect, alias string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
		if alias != "" {
			quoted[i] = alias + "." + quoted[i]
		}
	}
	return strings.Join(quoted, ", ")
}

func scanCollection(row scanner) (*entity.Collection, error) {
	var c entity.Collection
	err := row.Scan(
		&c.CollectionID, &c.ProjectID, &c.Path, &c.Cardinality,
		entity.JSONColumn(&c.Types), entity.JSONColumn(&c.Schemas), entity.JSONColumn(&c.Defaults),
		&c.Data, &c.Meta, entity.JSONColumn(&c.Folders), entity.JSONColumn(&c.Tags),
		&c.IsUnlisted, &c.IsDeletable, &c.IsReadonly, &c.RestDisabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	normalizeCollection(&c)
	return &c, nil
}

func collectionValues(c *entity.Collection) []any {
	return []any{
		c.CollectionID, c.ProjectID, c.Path, c.Cardinality,
		entity.JSONColumn(c.Types), entity.JSONColumn(c.Schemas), entity.JSONColumn(c.Defaults),
		c.Data, c.Meta, entity.JSONColumn(c.Folders), entity.JSONColumn(c.Tags),
		c.IsUnlisted, c.IsDeletable, c.IsReadonly, c.RestDisabled,
		c.CreatedAt, c.UpdatedAt,
	}
}

// normalizeCollection replaces nil containers so rows and JSON never carry null.
func normalizeCollection(c *entity.Collection) {
	if c.Types == nil {
		c.Types = []string{}
	}
	if c.Schemas == nil {
		c.Schemas = schema.Types{}
	}
	if c.Defaults == nil {
		c.Defaults = map[string]entity.Doc{}
	}
	if c.Data == nil {
		c.Data = entity.Doc{}
	}
	if c.Meta == nil {
		c.Meta = entity.Doc{}
	}
	if c.Folders == nil {
		c.Folders = map[string]entity.FolderDefinition{}
	}
	if c.Tags == nil {
		c.Tags = map[string]entity.TagDefinition{}
	}
}

func scanModel(row scanner) (*entity.Model, error) {
	var m entity.Model
	err := row.Scan(
		&m.ModelID, &m.CollectionID, &m.Type, &m.ParentID, &m.Path, &m.Folder,
		entity.JSONColumn(&m.Tags), &m.Data, &m.Meta,
		&m.IsUnlisted, &m.IsDeletable, &m.IsReadonly, &m.IsStarred, &m.IsEnabled, &m.RestDisabled,
		&m.Red, &m.Orange, &m.Yellow, &m.Green, &m.Blue, &m.Purple, &m.Gray,
		&m.Label, &m.HierarchyLabel, &m.CreatedAt, &m.UpdatedAt,
		entity.JSONColumn(&m.Searchable), &m.Searchable2, &m.HierarchyPath,
	)
	if err != nil {
		return nil, err
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}
	if m.Data == nil {
		m.Data = entity.Doc{}
	}
	if m.Meta == nil {
		m.Meta = entity.Doc{}
	}
	return &m, nil
}

func modelValues(m *entity.Model) []any {
	var label, labelText any
	if m.Label != nil {
		label = *m.Label
		labelText = m.Label.String()
	}
	var searchable any
	if m.Searchable != nil {
		searchable = entity.JSONColumn(m.Searchable)
	}
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{
		m.ModelID, m.CollectionID, m.Type, m.ParentID, m.Path, m.Folder,
		entity.JSONColumn(tags), m.Data, m.Meta,
		m.IsUnlisted, m.IsDeletable, m.IsReadonly, m.IsStarred, m.IsEnabled, m.RestDisabled,
		m.Red, m.Orange, m.Yellow, m.Green, m.Blue, m.Purple, m.Gray,
		label, m.HierarchyLabel, m.CreatedAt, m.UpdatedAt,
		searchable, m.Searchable2, m.HierarchyPath,
		labelText,
	}
}

func (s *Store) insert(ctx context.Context, q adapter.DBTX, table string, cols []string, values []any) error {
	args := query.NewArgs(s.dialect)
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = args.Add(v)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.table(table), columnList(s.dialect, "", cols), strings.Join(ph, ", "))
	_, err := q.ExecContext(ctx, stmt, args.Values()...)
	return err
}

// update writes cols of the row whose key column equals id.
func (s *Store) update(ctx context.Context, q adapter.DBTX, table, key string, id any, cols []string, values []any) error {
	d := s.dialect
	args := query.NewArgs(d)
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = fmt.Sprintf("%s = %s", d.Quote(c), args.Add(values[i]))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		s.table(table), strings.Join(set, ", "), d.Quote(key), args.Add(id))
	res, err := q.ExecContext(ctx, stmt, args.Values()...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound(table, id)
	}
	return nil
}
