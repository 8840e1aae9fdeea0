package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/errs"
)

var (
	pg     = adapter.NewDialect(adapter.Postgres, "")
	sqlite = adapter.NewDialect(adapter.SQLite, "")
)

func compileCond(t *testing.T, d adapter.Dialect, c Condition) (string, []any) {
	t.Helper()
	args := NewArgs(d)
	sql, err := NewCompiler(d, ModelFields).Condition(c, args)
	require.NoError(t, err)
	return sql, args.Values()
}

func TestCompiler_Condition(t *testing.T) {
	tests := []struct {
		name    string
		dialect adapter.Dialect
		cond    Condition
		sql     string
		args    []any
	}{
		{
			name:    "bare field falls back to data on pg",
			dialect: pg,
			cond:    Cond("sku", OpEq, "X1"),
			sql:     `("data" #>> '{sku}') = $1`,
			args:    []any{"X1"},
		},
		{
			name:    "bare field falls back to data on sqlite",
			dialect: sqlite,
			cond:    Cond("sku", OpEq, "X1"),
			sql:     `json_extract("data", '$."sku"') = ?1`,
			args:    []any{"X1"},
		},
		{
			name:    "negation includes missing values",
			dialect: sqlite,
			cond:    Cond("type", OpNeq, "order"),
			sql:     `NOT COALESCE(("type" = ?1), FALSE)`,
			args:    []any{"order"},
		},
		{
			name:    "empty in never matches",
			dialect: pg,
			cond:    Cond("type", OpIn, []any{}),
			sql:     `FALSE`,
		},
		{
			name:    "is null",
			dialect: pg,
			cond:    Cond("parent_id", OpIs, nil),
			sql:     `"parent_id" IS NULL`,
		},
		{
			name:    "nis true",
			dialect: pg,
			cond:    Cond("is_enabled", OpNis, true),
			sql:     `"is_enabled" IS NOT TRUE`,
		},
		{
			name:    "like escapes wildcards in plain values",
			dialect: pg,
			cond:    Cond("type", OpLike, "a_b"),
			sql:     `"type" ILIKE $1 ESCAPE '\'`,
			args:    []any{`%a\_b%`},
		},
		{
			name:    "label maps to its text column",
			dialect: sqlite,
			cond:    Cond("_label", OpLike, "al%"),
			sql:     `"_label_text" LIKE ?1 ESCAPE '\'`,
			args:    []any{"al%"},
		},
		{
			name:    "descendant is a prefix range",
			dialect: pg,
			cond:    Cond("path", OpDescendant, "a.b"),
			sql:     `("path" = $1 OR ("path" >= $2 AND "path" < $3))`,
			args:    []any{"a.b", "a.b.", "a.b/"},
		},
		{
			name:    "folder descendant is a slash prefix",
			dialect: sqlite,
			cond:    Cond("folder", OpDescendant, "products"),
			sql:     `("folder" = ?1 OR substr("folder", 1, 9) = ?2)`,
			args:    []any{"products", "products/"},
		},
		{
			name:    "ancestor lists the ancestors",
			dialect: pg,
			cond:    Cond("path", OpAncestor, "a.b.c"),
			sql:     `"path" IN ($1, $2, $3)`,
			args:    []any{"a", "a.b", "a.b.c"},
		},
		{
			name:    "numbers compare against the numeric projection",
			dialect: pg,
			cond:    Cond("data.qty", OpGt, 4),
			sql:     `(CASE WHEN jsonb_typeof("data" #> '{qty}') = 'number' THEN ("data" #>> '{qty}')::numeric END) > $1`,
			args:    []any{int64(4)},
		},
		{
			name:    "array contains",
			dialect: pg,
			cond:    Cond("tags", OpContains, "x"),
			sql:     `(jsonb_typeof("tags") = 'array' AND jsonb_exists("tags", CAST($1 AS TEXT)))`,
			args:    []any{"x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := compileCond(t, tt.dialect, tt.cond)
			assert.Equal(t, tt.sql, sql)
			if tt.args == nil {
				assert.Empty(t, args)
			} else {
				assert.Equal(t, tt.args, args)
			}
		})
	}
}

func TestCompiler_InMixedJSONTypes(t *testing.T) {
	sql, args := compileCond(t, sqlite, Cond("data.code", OpIn, []any{"a", 1, "b"}))
	assert.Equal(t,
		`json_extract("data", '$."code"') IN (?1, ?3) OR (CASE WHEN json_type("data", '$."code"') IN ('integer', 'real') THEN json_extract("data", '$."code"') END) IN (?2)`,
		sql)
	assert.Equal(t, []any{"a", int64(1), "b"}, args)
}

func TestCompiler_Where(t *testing.T) {
	g := And(Cond("type", OpEq, "order")).
		AddGroup(Or(Cond("status", OpEq, "paid"), Cond("status", OpEq, "shipped")))

	args := NewArgs(sqlite, "seed")
	sql, err := NewCompiler(sqlite, ModelFields).As("m").Where(g, args)
	require.NoError(t, err)
	assert.Equal(t,
		`(m."type" = ?2) AND ((json_extract(m."data", '$."status"') = ?3) OR (json_extract(m."data", '$."status"') = ?4))`,
		sql)
	assert.Equal(t, []any{"seed", "order", "paid", "shipped"}, args.Values())

	sql, err = NewCompiler(sqlite, ModelFields).Where(&Group{}, NewArgs(sqlite))
	require.NoError(t, err)
	assert.Equal(t, "1 = 1", sql)
}

func TestCompiler_Rejects(t *testing.T) {
	c := NewCompiler(pg, ModelFields)
	bad := []Condition{
		Cond("_secret", OpEq, 1),
		Cond("is_enabled", OpGt, true),
		Cond("type", OpIs, "maybe"),
		Cond("type", OpAncestor, "a"),
		Cond("folder", OpDescendant, "/"),
		Cond("_created_at", OpDescendant, "a"),
		Cond("path", OpDescendant, "a..b"),
		Cond("model_id", OpEq, "not-a-uuid"),
		Cond("_created_at", OpGt, "yesterday"),
		Cond("type", OpMatch, "(("),
		Cond("path", OpLtree, "!a"),
		Cond("sku", OpEq, nil),
		Cond("data.a'b", OpEq, "x"),
	}
	for _, cond := range bad {
		_, err := c.Condition(cond, NewArgs(pg))
		assert.ErrorIs(t, err, errs.ErrInvalidInput, "%+v", cond)
	}

	_, err := NewCompiler(pg, CollectionFields).Condition(Cond("sku", OpEq, "x"), NewArgs(pg))
	assert.Error(t, err, "collections have no data fallback")
}

func TestCompiler_OrderBy(t *testing.T) {
	c := NewCompiler(pg, ModelFields)

	sql, err := c.OrderBy("", true)
	require.NoError(t, err)
	assert.Equal(t, `ORDER BY "_created_at" ASC, "model_id" ASC`, sql)

	sql, err = c.OrderBy("type, -data.rank", false)
	require.NoError(t, err)
	assert.Equal(t, `ORDER BY "type" DESC, ("data" #> '{rank}') ASC, "model_id" DESC`, sql)

	sql, err = c.OrderBy("model_id", true)
	require.NoError(t, err)
	assert.Equal(t, `ORDER BY "model_id" ASC`, sql)

	_, err = c.OrderBy("_nope", true)
	assert.Error(t, err)
}

func TestCompiler_Search(t *testing.T) {
	args := NewArgs(pg)
	sql, err := NewCompiler(pg, ModelFields).Search("  Red  50%", args)
	require.NoError(t, err)
	assert.Equal(t, `"__searchable2" ILIKE $1 ESCAPE '\' AND "__searchable2" ILIKE $2 ESCAPE '\'`, sql)
	assert.Equal(t, []any{"%red%", "50%"}, args.Values())

	_, err = NewCompiler(pg, CollectionFields).Search("x", NewArgs(pg))
	assert.Error(t, err)
}

func TestPlan_SQL(t *testing.T) {
	limit := 20
	asc := false
	s := &Syntax{
		Where: Where{Group: *And(Cond("status", OpIn, []any{"paid", "shipped"}))},
		Order: "_created_at",
		Asc:   &asc,
		Limit: &limit,
	}
	args := NewArgs(pg)
	base := `"collection_id" = ` + args.Add("c1")
	p, err := NewCompiler(pg, ModelFields).Plan(s, args, base)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT COUNT(*) FROM "model" WHERE "collection_id" = $1 AND ((("data" #>> '{status}') IN ($2, $3)))`,
		p.CountSQL(`"model"`))
	assert.Equal(t,
		`SELECT * FROM "model" WHERE "collection_id" = $1 AND ((("data" #>> '{status}') IN ($2, $3))) ORDER BY "_created_at" DESC, "model_id" DESC LIMIT 20 OFFSET 0`,
		p.SelectSQL("*", `"model"`))
	assert.Equal(t, []any{"c1", "paid", "shipped"}, p.Args)
}

func TestNewPage(t *testing.T) {
	p := NewPage([]int{1, 2}, 5, 2, 2)
	assert.True(t, p.HasMore)
	p = NewPage([]int{5}, 5, 2, 4)
	assert.False(t, p.HasMore)
	empty := NewPage[int](nil, 0, 10, 0)
	assert.NotNil(t, empty.Items)
}
