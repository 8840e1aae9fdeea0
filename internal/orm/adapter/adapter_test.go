package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *SQLProvider {
	t.Helper()
	p, err := Open(Config{Type: SQLite, DSN: ":memory:", Options: Options{TablePrefix: "t_"}})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	_, err = p.Query(context.Background(), `CREATE TABLE "t_doc" (id INTEGER PRIMARY KEY, name TEXT, data TEXT NOT NULL DEFAULT '{}')`)
	require.NoError(t, err)
	return p
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{"pg": Postgres, "postgres": Postgres, "sqlite3": SQLite, "SQLite": SQLite} {
		got, err := ParseType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseType("mysql")
	assert.Error(t, err)
}

func TestDialect_Placeholders(t *testing.T) {
	assert.Equal(t, "$3", NewDialect(Postgres, "").Placeholder(3))
	assert.Equal(t, "?3", NewDialect(SQLite, "").Placeholder(3))
}

func TestDialect_TableQuotingWithPrefix(t *testing.T) {
	d := NewDialect(Postgres, "app_")
	assert.Equal(t, `"app_model"`, d.Table("model"))
	assert.Equal(t, "app_model", d.Name("model"))
	assert.Equal(t, `"we""ird"`, d.Quote(`we"ird`))
}

func TestDialect_JSONPaths(t *testing.T) {
	pg := NewDialect(Postgres, "")
	expr, err := pg.JSONText(`"data"`, []string{"custom", "sku"})
	require.NoError(t, err)
	assert.Equal(t, `("data" #>> '{custom,sku}')`, expr)

	lite := NewDialect(SQLite, "")
	expr, err = lite.JSONText(`"data"`, []string{"items", "0", "id"})
	require.NoError(t, err)
	assert.Equal(t, `json_extract("data", '$."items"[0]."id"')`, expr)

	_, err = lite.JSONText(`"data"`, []string{"a'b"})
	assert.Error(t, err)
}

func TestDialect_Locking(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", NewDialect(Postgres, "").ForUpdate())
	assert.Equal(t, "", NewDialect(SQLite, "").ForUpdate())
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, ":memory:?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", sqliteDSN(""))
	assert.Equal(t, "file:x.db?cache=shared&_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", sqliteDSN("file:x.db?cache=shared"))
	assert.Equal(t, "x.db?_txlock=deferred&_fk=1&_timeout=1", sqliteDSN("x.db?_txlock=deferred&_fk=1&_timeout=1"))
}

func TestSQLProvider_QueryAndEach(t *testing.T) {
	p := openSQLite(t)
	ctx := context.Background()

	res, err := p.Query(ctx, `INSERT INTO "t_doc" (name, data) VALUES (?1, ?2), (?3, ?4)`,
		"alpha", `{"sku":"X1","price":10,"tags":["a","b"],"on":true}`,
		"beta", `{"sku":"Y2","price":"n/a"}`)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.RowCount)

	res, err = p.Query(ctx, `SELECT id, name FROM "t_doc" ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "alpha", res.Rows[0]["name"])

	var names []string
	err = p.Each(ctx, `SELECT name FROM "t_doc" ORDER BY name DESC`, nil, func(row map[string]any) error {
		names = append(names, row["name"].(string))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "alpha"}, names)

	stop := errors.New("stop")
	err = p.Each(ctx, `SELECT name FROM "t_doc"`, nil, func(map[string]any) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestSQLProvider_DialectExpressionsRunOnSQLite(t *testing.T) {
	p := openSQLite(t)
	ctx := context.Background()
	d := p.Dialect()

	_, err := p.Query(ctx, `INSERT INTO "t_doc" (name, data) VALUES
		('alpha', '{"sku":"X1","price":10,"tags":["a","b"],"on":true}'),
		('beta', '{"sku":"Y2","price":"n/a","on":false}')`)
	require.NoError(t, err)

	num, err := d.JSONNumber(`data`, []string{"price"})
	require.NoError(t, err)
	res, err := p.Query(ctx, `SELECT name FROM "t_doc" WHERE `+num+` > ?1`, 5)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1, "non-numeric price is ignored rather than failing")
	assert.Equal(t, "alpha", res.Rows[0]["name"])

	tags, err := d.JSONValue(`data`, []string{"tags"})
	require.NoError(t, err)
	res, err = p.Query(ctx, `SELECT name FROM "t_doc" WHERE `+d.JSONArrayContains(tags, "?1"), "b")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	flag, err := d.JSONBool(`data`, []string{"on"})
	require.NoError(t, err)
	res, err = p.Query(ctx, `SELECT name FROM "t_doc" WHERE `+flag+` = ?1`, false)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "beta", res.Rows[0]["name"])

	res, err = p.Query(ctx, `SELECT name FROM "t_doc" WHERE `+d.Regexp("name", "?1"), "^al")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	res, err = p.Query(ctx, `SELECT name FROM "t_doc" WHERE `+d.ILike("name", "?1"), "%ETA%")
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "beta", res.Rows[0]["name"])
}

func TestOpen_UnknownType(t *testing.T) {
	_, err := Open(Config{Type: "oracle"})
	assert.Error(t, err)
}
