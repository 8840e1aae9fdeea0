// Package adapter is the storage provider boundary of the engine: a
// database handle tagged with its backend type, a dialect for the SQL that
// differs between backends, and the adapter options (table prefix, init
// hooks, project foreign key).
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the go-sqlite3 driver registered with a regexp function.
const SQLiteDriverName = "sqlite3_collections"

var regexpCache sync.Map // pattern -> *regexp.Regexp

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", sqliteRegexp, true)
		},
	})
}

func sqliteRegexp(pattern, s string) (bool, error) {
	if re, ok := regexpCache.Load(pattern); ok {
		return re.(*regexp.Regexp).MatchString(s), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	regexpCache.Store(pattern, re)
	return re.MatchString(s), nil
}

// ForeignKey binds collections to an external project table.
type ForeignKey struct {
	Table  string `mapstructure:"table"`
	Column string `mapstructure:"column"`
}

// Options configures the tables the engine manages.
type Options struct {
	// TablePrefix is prepended to every table, index and constraint name.
	TablePrefix string `mapstructure:"table_prefix"`
	// PreInitSQL runs before the tables are created.
	PreInitSQL string `mapstructure:"pre_init_sql"`
	// CustomPreInitSQL runs after PreInitSQL, for deployment specific setup.
	CustomPreInitSQL string `mapstructure:"custom_pre_init_sql"`
	// PostInitSQL runs after the tables are created.
	PostInitSQL string `mapstructure:"post_init_sql"`
	// ProjectIDFK adds a foreign key from collection.project_id.
	ProjectIDFK *ForeignKey `mapstructure:"project_id_fk"`
	// ResetAll drops every engine table before init. Tests only.
	ResetAll bool `mapstructure:"reset_all"`
}

// Result is the materialised outcome of Query.
type Result struct {
	Columns  []string
	Rows     []map[string]any
	RowCount int64
}

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Provider is the minimal query capability the engine needs from storage.
type Provider interface {
	Type() Type
	Dialect() Dialect
	Options() Options
	DB() *sql.DB
	// Query executes a statement. Statements that return rows fill Rows;
	// others report the affected row count.
	Query(ctx context.Context, query string, args ...any) (*Result, error)
	// Each streams rows one at a time without materialising the result.
	Each(ctx context.Context, query string, args []any, fn func(row map[string]any) error) error
	Close() error
}

// Config selects and opens a backend.
type Config struct {
	Type            Type          `mapstructure:"type"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Options         Options       `mapstructure:"options"`
}

// SQLProvider implements Provider over database/sql.
type SQLProvider struct {
	db      *sql.DB
	typ     Type
	dialect Dialect
	opts    Options
}

// Open connects to the configured backend.
func Open(cfg Config) (*SQLProvider, error) {
	var (
		driver string
		dsn    = cfg.DSN
	)
	switch cfg.Type {
	case Postgres:
		driver = "pgx"
	case SQLite:
		driver = SQLiteDriverName
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Type, err)
	}

	switch {
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	case cfg.Type == SQLite && isMemoryDSN(dsn):
		// each connection would get its own empty in-memory database
		db.SetMaxOpenConns(1)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return New(db, cfg.Type, cfg.Options), nil
}

// sqliteDSN turns on foreign keys and immediate write transactions so that
// concurrent writers serialise at BEGIN rather than failing at COMMIT.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = ":memory:"
	}
	var add []string
	if !strings.Contains(dsn, "_txlock=") {
		add = append(add, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "_foreign_keys=") && !strings.Contains(dsn, "_fk=") {
		add = append(add, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout=") && !strings.Contains(dsn, "_timeout=") {
		add = append(add, "_busy_timeout=5000")
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&")
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// New wraps an open handle.
func New(db *sql.DB, typ Type, opts Options) *SQLProvider {
	return &SQLProvider{db: db, typ: typ, dialect: NewDialect(typ, opts.TablePrefix), opts: opts}
}

// Type returns the backend tag.
func (p *SQLProvider) Type() Type { return p.typ }

// Dialect returns the SQL dialect.
func (p *SQLProvider) Dialect() Dialect { return p.dialect }

// Options returns the adapter options.
func (p *SQLProvider) Options() Options { return p.opts }

// DB returns the underlying handle.
func (p *SQLProvider) DB() *sql.DB { return p.db }

// Close closes the handle.
func (p *SQLProvider) Close() error { return p.db.Close() }

// Query implements Provider.
func (p *SQLProvider) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	if !returnsRows(query) {
		res, err := p.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			n = -1
		}
		return &Result{RowCount: n}, nil
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &Result{}
	if out.Columns, err = rows.Columns(); err != nil {
		return nil, err
	}
	err = EachRow(rows, func(row map[string]any) error {
		out.Rows = append(out.Rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.RowCount = int64(len(out.Rows))
	return out, nil
}

// Each implements Provider.
func (p *SQLProvider) Each(ctx context.Context, query string, args []any, fn func(row map[string]any) error) error {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	return EachRow(rows, fn)
}

// EachRow scans generic rows into column maps. Byte slices become strings.
func EachRow(rows *sql.Rows, fn func(row map[string]any) error) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}

func returnsRows(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range []string{"SELECT", "WITH", "VALUES", "PRAGMA", "SHOW", "EXPLAIN"} {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return strings.Contains(q, " RETURNING ")
}
