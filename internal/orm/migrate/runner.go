package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/adapter"
)

// Runner applies migrations one transaction each.
type Runner struct {
	db      *sql.DB
	tracker *Tracker
	logger  *zap.Logger
}

// NewRunner creates a runner.
func NewRunner(db *sql.DB, d adapter.Dialect, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{db: db, tracker: NewTracker(db, d), logger: logger}
}

// Tracker exposes the migration history.
func (r *Runner) Tracker() *Tracker { return r.tracker }

// MigrateUp applies all pending migrations in version order and returns
// how many ran.
func (r *Runner) MigrateUp(ctx context.Context, migrations []*Migration) (int, error) {
	if err := r.tracker.Initialize(ctx); err != nil {
		return 0, err
	}
	pending, err := r.tracker.GetPending(ctx, migrations)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending migrations: %w", err)
	}
	if len(pending) == 0 {
		r.logger.Debug("no pending migrations")
		return 0, nil
	}
	for _, m := range pending {
		start := time.Now()
		if err := r.apply(ctx, m.Up, func(tx *sql.Tx) error { return r.tracker.Record(ctx, tx, m) }); err != nil {
			return 0, fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
		r.logger.Info("applied migration",
			zap.Int64("version", m.Version),
			zap.String("name", m.Name),
			zap.Duration("took", time.Since(start)))
	}
	return len(pending), nil
}

// MigrateDown rolls back the last applied migration.
func (r *Runner) MigrateDown(ctx context.Context) error {
	last, err := r.tracker.GetLast(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last migration: %w", err)
	}
	if last == nil {
		return errors.New("no migrations to rollback")
	}
	if last.Down == "" {
		return fmt.Errorf("migration %s has no down migration", last.Name)
	}
	if err := r.apply(ctx, last.Down, func(tx *sql.Tx) error { return r.tracker.Remove(ctx, tx, last.Version) }); err != nil {
		return fmt.Errorf("rollback of %s failed: %w", last.Name, err)
	}
	r.logger.Info("rolled back migration", zap.Int64("version", last.Version), zap.String("name", last.Name))
	return nil
}

func (r *Runner) apply(ctx context.Context, stmt string, record func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.logger.Warn("failed to rollback transaction", zap.Error(err))
		}
	}()
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if err := record(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Status reports applied and pending migrations.
func (r *Runner) Status(ctx context.Context, all []*Migration) (*MigrationStatus, error) {
	if err := r.tracker.Initialize(ctx); err != nil {
		return nil, err
	}
	applied, err := r.tracker.GetApplied(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}
	pending, err := r.tracker.GetPending(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending migrations: %w", err)
	}
	st := &MigrationStatus{Total: len(all), Applied: applied, Pending: pending}
	if len(applied) > 0 {
		st.LastApplied = applied[len(applied)-1]
	}
	return st, nil
}

// MigrationStatus is the current state of migrations.
type MigrationStatus struct {
	Total       int
	Applied     []*Migration
	Pending     []*Migration
	LastApplied *Migration
}

// Summary returns a human-readable summary.
func (s *MigrationStatus) Summary() string {
	return fmt.Sprintf("Total: %d migrations (%d applied, %d pending)", s.Total, len(s.Applied), len(s.Pending))
}
