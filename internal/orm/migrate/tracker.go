// Package migrate bootstraps and versions the engine's tables.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
)

// Migration is one versioned schema step.
type Migration struct {
	Version   int64
	Name      string
	Up        string
	Down      string
	Applied   bool
	AppliedAt entity.Timestamp
}

// Tracker records applied migrations in <prefix>schema_migrations.
type Tracker struct {
	db      *sql.DB
	dialect adapter.Dialect
}

// NewTracker creates a tracker.
func NewTracker(db *sql.DB, d adapter.Dialect) *Tracker {
	return &Tracker{db: db, dialect: d}
}

func (t *Tracker) table() string { return t.dialect.Table("schema_migrations") }

// Initialize ensures the tracking table exists.
func (t *Tracker) Initialize(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	"version" BIGINT PRIMARY KEY,
	"name" TEXT NOT NULL,
	"applied_at" %s NOT NULL,
	"up_sql" TEXT,
	"down_sql" TEXT
)`, t.table(), t.dialect.TimestampType())
	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}
	return nil
}

// GetApplied returns the applied migrations sorted by version.
func (t *Tracker) GetApplied(ctx context.Context) ([]*Migration, error) {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT "version", "name", "applied_at", "up_sql", "down_sql" FROM %s ORDER BY "version" ASC`, t.table()))
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*Migration
	for rows.Next() {
		m := &Migration{Applied: true}
		var up, down sql.NullString
		if err := rows.Scan(&m.Version, &m.Name, &m.AppliedAt, &up, &down); err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		m.Up, m.Down = up.String, down.String
		migrations = append(migrations, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}
	return migrations, nil
}

// GetLast returns the most recently applied migration, or nil.
func (t *Tracker) GetLast(ctx context.Context) (*Migration, error) {
	applied, err := t.GetApplied(ctx)
	if err != nil || len(applied) == 0 {
		return nil, err
	}
	return applied[len(applied)-1], nil
}

// Record marks a migration as applied.
func (t *Tracker) Record(ctx context.Context, tx *sql.Tx, m *Migration) error {
	d := t.dialect
	stmt := fmt.Sprintf(`INSERT INTO %s ("version", "name", "applied_at", "up_sql", "down_sql") VALUES (%s, %s, %s, %s, %s)`,
		t.table(), d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5))
	if _, err := tx.ExecContext(ctx, stmt, m.Version, m.Name, entity.Now(), m.Up, m.Down); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return nil
}

// Remove deletes a migration record.
func (t *Tracker) Remove(ctx context.Context, tx *sql.Tx, version int64) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE "version" = %s`, t.table(), t.dialect.Placeholder(1))
	res, err := tx.ExecContext(ctx, stmt, version)
	if err != nil {
		return fmt.Errorf("failed to remove migration: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("migration version %d not found", version)
	}
	return nil
}

// GetPending filters all down to the migrations not applied yet.
func (t *Tracker) GetPending(ctx context.Context, all []*Migration) ([]*Migration, error) {
	applied, err := t.GetApplied(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int64]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}
	var pending []*Migration
	for _, m := range all {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Drop removes the tracking table.
func (t *Tracker) Drop(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+t.table())
	return err
}
