package migrate

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/collections/internal/orm/adapter"
)

// Table names, before the prefix is applied.
const (
	CollectionTable   = "collection"
	ModelTable        = "model"
	RelationTypeTable = "relation_type"
	RelationTable     = "relation"
	ConfigTable       = "config"
)

// Tables lists the engine tables in creation order.
var Tables = []string{CollectionTable, ModelTable, RelationTypeTable, RelationTable, ConfigTable}

type ddl struct {
	d    adapter.Dialect
	opts adapter.Options
}

func (g ddl) t(name string) string { return g.d.Table(name) }

func (g ddl) index(unique bool, table, name string, cols ...string) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = g.d.Quote(c)
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s);", kind,
		g.d.Quote(g.d.Name(table+"_"+name)), g.t(table), strings.Join(quoted, ", "))
}

func (g ddl) projectRef() string {
	fk := g.opts.ProjectIDFK
	if fk == nil || fk.Table == "" {
		return ""
	}
	col := fk.Column
	if col == "" {
		col = "project_id"
	}
	return fmt.Sprintf(" REFERENCES %s (%s) ON DELETE CASCADE", g.d.Quote(fk.Table), g.d.Quote(col))
}

func (g ddl) flags(names ...string) string {
	var b strings.Builder
	for _, n := range names {
		def := "FALSE"
		if n == "is_deletable" || n == "is_enabled" {
			def = "TRUE"
		}
		fmt.Fprintf(&b, "\t%s BOOLEAN NOT NULL DEFAULT %s,\n", g.d.Quote(n), def)
	}
	return b.String()
}

func (g ddl) stamps() string {
	ts := g.d.TimestampType()
	return fmt.Sprintf("\t\"_created_at\" %[1]s NOT NULL,\n\t\"_updated_at\" %[1]s NOT NULL", ts)
}

func (g ddl) drop(name string) string {
	if g.d.Type() == adapter.Postgres {
		return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE;", g.t(name))
	}
	return fmt.Sprintf("DROP TABLE IF EXISTS %s;", g.t(name))
}

// Schema returns the bootstrap migrations for the dialect and options.
func Schema(d adapter.Dialect, opts adapter.Options) []*Migration {
	g := ddl{d: d, opts: opts}
	uuid, js, path := d.UUIDType(), d.JSONType(), d.PathType()

	collection := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	"collection_id" %[2]s PRIMARY KEY,
	"project_id" %[2]s NOT NULL%[3]s,
	"path" %[4]s NOT NULL,
	"cardinality" INTEGER NOT NULL DEFAULT -1,
	"types" %[5]s NOT NULL DEFAULT '[]',
	"schemas" %[5]s NOT NULL DEFAULT '{}',
	"defaults" %[5]s NOT NULL DEFAULT '{}',
	"data" %[5]s NOT NULL DEFAULT '{}',
	"meta" %[5]s NOT NULL DEFAULT '{}',
	"folders" %[5]s NOT NULL DEFAULT '{}',
	"tags" %[5]s NOT NULL DEFAULT '{}',
%[6]s%[7]s
);
%[8]s`,
		g.t(CollectionTable), uuid, g.projectRef(), path, js,
		g.flags("is_unlisted", "is_deletable", "is_readonly", "__is_rest_disabled"), g.stamps(),
		g.index(true, CollectionTable, "project_path", "project_id", "path"))

	model := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	"model_id" %[2]s PRIMARY KEY,
	"collection_id" %[2]s NOT NULL REFERENCES %[3]s ("collection_id") ON DELETE CASCADE,
	"type" TEXT NOT NULL,
	"parent_id" %[2]s REFERENCES %[1]s ("model_id") ON DELETE CASCADE,
	"path" %[4]s,
	"folder" TEXT,
	"tags" %[5]s NOT NULL DEFAULT '[]',
	"data" %[5]s NOT NULL DEFAULT '{}',
	"meta" %[5]s NOT NULL DEFAULT '{}',
%[6]s	"_label" %[5]s,
	"_label_text" TEXT,
	"_hierarchy_label" TEXT,
	"__searchable" %[5]s,
	"__searchable2" TEXT NOT NULL DEFAULT '',
	"__hierarchy_path" %[4]s NOT NULL,
%[7]s
);
%[8]s
%[9]s
%[10]s
%[11]s
%[12]s`,
		g.t(ModelTable), uuid, g.t(CollectionTable), path, js,
		g.flags("is_unlisted", "is_deletable", "is_readonly", "is_starred", "is_enabled", "__is_rest_disabled",
			"red", "orange", "yellow", "green", "blue", "purple", "gray"),
		g.stamps(),
		g.index(true, ModelTable, "collection_path", "collection_id", "path"),
		g.index(false, ModelTable, "hierarchy", "collection_id", "__hierarchy_path"),
		g.index(false, ModelTable, "collection_type", "collection_id", "type"),
		g.index(false, ModelTable, "parent", "parent_id"),
		g.index(false, ModelTable, "created", "collection_id", "_created_at"))
	if d.Type() == adapter.Postgres {
		model += fmt.Sprintf("\nCREATE INDEX IF NOT EXISTS %s ON %s USING GIN (\"data\" jsonb_path_ops);",
			d.Quote(d.Name("model_data")), g.t(ModelTable))
	}

	relationType := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	"_relation_type_id" %[2]s PRIMARY KEY,
	"project_id" %[2]s NOT NULL%[3]s,
	"relation_type" TEXT NOT NULL,
	"model_collection_id" %[2]s NOT NULL REFERENCES %[4]s ("collection_id") ON DELETE CASCADE,
	"related_collection_id" %[2]s REFERENCES %[4]s ("collection_id") ON DELETE CASCADE,
	"related_collection_model_type" TEXT,
	"cardinality" INTEGER NOT NULL DEFAULT -1,
	"model_cardinality" INTEGER NOT NULL DEFAULT -1,
	"related_cardinality" INTEGER NOT NULL DEFAULT -1,
	"meta" %[5]s NOT NULL DEFAULT '{}',
%[6]s%[7]s
);
%[8]s`,
		g.t(RelationTypeTable), uuid, g.projectRef(), g.t(CollectionTable), js,
		g.flags("is_unlisted", "is_deletable", "is_readonly", "__is_rest_disabled"), g.stamps(),
		g.index(true, RelationTypeTable, "project_name", "project_id", "relation_type"))

	relation := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	"relation_id" %[2]s PRIMARY KEY,
	"_relation_type_id" %[2]s NOT NULL REFERENCES %[3]s ("_relation_type_id") ON DELETE CASCADE,
	"model_id" %[2]s NOT NULL REFERENCES %[4]s ("model_id") ON DELETE CASCADE,
	"related_id" %[2]s REFERENCES %[4]s ("model_id") ON DELETE CASCADE,
	"weak_related_id" TEXT,
	"sort_order" INTEGER NOT NULL DEFAULT 0,
	"meta" %[5]s NOT NULL DEFAULT '{}',
%[6]s%[7]s,
	CHECK (("related_id" IS NULL) <> ("weak_related_id" IS NULL))
);
%[8]s
%[9]s
%[10]s
%[11]s`,
		g.t(RelationTable), uuid, g.t(RelationTypeTable), g.t(ModelTable), js,
		g.flags("is_unlisted"), g.stamps(),
		g.index(true, RelationTable, "edge", "_relation_type_id", "model_id", "related_id"),
		g.index(true, RelationTable, "weak_edge", "_relation_type_id", "model_id", "weak_related_id"),
		g.index(false, RelationTable, "related", "_relation_type_id", "related_id"),
		g.index(false, RelationTable, "weak", "weak_related_id"))

	config := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	"project_id" %[2]s NOT NULL,
	"name" TEXT NOT NULL,
	"version" INTEGER NOT NULL DEFAULT 1,
	"data" %[3]s NOT NULL DEFAULT '{}',
%[4]s,
	PRIMARY KEY ("project_id", "name")
);`,
		g.t(ConfigTable), uuid, js, g.stamps())

	return []*Migration{
		{Version: 1, Name: "create_collection", Up: collection, Down: g.drop(CollectionTable)},
		{Version: 2, Name: "create_model", Up: model, Down: g.drop(ModelTable)},
		{Version: 3, Name: "create_relation_type", Up: relationType, Down: g.drop(RelationTypeTable)},
		{Version: 4, Name: "create_relation", Up: relation, Down: g.drop(RelationTable)},
		{Version: 5, Name: "create_config", Up: config, Down: g.drop(ConfigTable)},
	}
}
