package query

import (
	"fmt"
	"strings"
)

// Kind is the storage shape of a filterable column.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindBool
	KindTime
	KindUUID
	KindPath
	KindJSONArray
	KindJSON
)

// Column is a whitelisted core column.
type Column struct {
	Name string
	Kind Kind
}

// FieldSet is the whitelist of filterable fields for one table.
//
// Core columns are addressed by name. JSON document columns (data, meta)
// are addressed with dot paths such as "data.address.city". When Fallback
// is set, a bare unknown name resolves into that document, so "sku" reads
// as "data.sku".
type FieldSet struct {
	Columns   map[string]Column
	Documents map[string]bool
	Fallback  string
	// ID breaks ordering ties.
	ID string
	// DefaultOrder is used when the query names no order.
	DefaultOrder string
	// Search is the lower-cased text column searched by free-text terms.
	Search string
}

// Field is a resolved reference: either a core column or a path inside a
// JSON document column.
type Field struct {
	Column Column
	Path   []string
}

// IsDocument reports whether the field addresses a JSON document path.
func (f Field) IsDocument() bool { return len(f.Path) > 0 }

// Resolve maps a query field name onto a column.
func (fs *FieldSet) Resolve(name string) (Field, error) {
	if c, ok := fs.Columns[name]; ok {
		return Field{Column: c}, nil
	}
	root, rest, dotted := strings.Cut(name, ".")
	if dotted && fs.Documents[root] {
		path := strings.Split(rest, ".")
		for _, seg := range path {
			if seg == "" {
				return Field{}, fmt.Errorf("invalid field %q", name)
			}
		}
		return Field{Column: Column{Name: root, Kind: KindJSON}, Path: path}, nil
	}
	if fs.Fallback != "" && name != "" && !strings.HasPrefix(name, "_") {
		return Field{Column: Column{Name: fs.Fallback, Kind: KindJSON}, Path: strings.Split(name, ".")}, nil
	}
	return Field{}, fmt.Errorf("unknown field %q", name)
}

func columns(kind Kind, names ...string) map[string]Column {
	out := make(map[string]Column, len(names))
	for _, n := range names {
		out[n] = Column{Name: n, Kind: kind}
	}
	return out
}

func merge(sets ...map[string]Column) map[string]Column {
	out := map[string]Column{}
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

var flagNames = []string{"is_unlisted", "is_deletable", "is_readonly"}

// ModelFields is the field set of the model table.
var ModelFields = &FieldSet{
	Columns: merge(
		columns(KindUUID, "model_id", "collection_id", "parent_id"),
		columns(KindText, "type", "folder", "_hierarchy_label"),
		columns(KindPath, "path", "__hierarchy_path"),
		columns(KindJSONArray, "tags"),
		columns(KindJSON, "data", "meta"),
		columns(KindBool, append(flagNames, "is_starred", "is_enabled", "__is_rest_disabled",
			"red", "orange", "yellow", "green", "blue", "purple", "gray")...),
		columns(KindTime, "_created_at", "_updated_at"),
		map[string]Column{"_label": {Name: "_label_text", Kind: KindText}},
	),
	Documents:    map[string]bool{"data": true, "meta": true},
	Fallback:     "data",
	ID:           "model_id",
	DefaultOrder: "_created_at",
	Search:       "__searchable2",
}

// CollectionFields is the field set of the collection table.
var CollectionFields = &FieldSet{
	Columns: merge(
		columns(KindUUID, "collection_id", "project_id"),
		columns(KindPath, "path"),
		columns(KindNumber, "cardinality"),
		columns(KindJSONArray, "types"),
		columns(KindJSON, "data", "meta"),
		columns(KindBool, append(flagNames, "__is_rest_disabled")...),
		columns(KindTime, "_created_at", "_updated_at"),
	),
	Documents:    map[string]bool{"data": true, "meta": true},
	ID:           "collection_id",
	DefaultOrder: "path",
}

// RelationTypeFields is the field set of the relation type table.
var RelationTypeFields = &FieldSet{
	Columns: merge(
		columns(KindUUID, "_relation_type_id", "project_id", "model_collection_id", "related_collection_id"),
		columns(KindText, "relation_type", "related_collection_model_type"),
		columns(KindNumber, "cardinality", "model_cardinality", "related_cardinality"),
		columns(KindJSON, "meta"),
		columns(KindBool, append(flagNames, "__is_rest_disabled")...),
		columns(KindTime, "_created_at", "_updated_at"),
	),
	Documents:    map[string]bool{"meta": true},
	ID:           "_relation_type_id",
	DefaultOrder: "relation_type",
}

// RelationFields is the field set of the relation table.
var RelationFields = &FieldSet{
	Columns: merge(
		columns(KindUUID, "relation_id", "_relation_type_id", "model_id", "related_id"),
		columns(KindText, "weak_related_id"),
		columns(KindNumber, "sort_order"),
		columns(KindJSON, "meta"),
		columns(KindBool, "is_unlisted"),
		columns(KindTime, "_created_at", "_updated_at"),
	),
	Documents:    map[string]bool{"meta": true},
	ID:           "relation_id",
	DefaultOrder: "sort_order",
}
