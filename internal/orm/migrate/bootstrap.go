package migrate

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/adapter"
)

// Migrator bootstraps the engine tables for a provider.
type Migrator struct {
	provider adapter.Provider
	runner   *Runner
	logger   *zap.Logger
}

// New returns a migrator.
func New(p adapter.Provider, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{
		provider: p,
		runner:   NewRunner(p.DB(), p.Dialect(), logger),
		logger:   logger,
	}
}

// Migrations returns the bootstrap migrations for the provider.
func (m *Migrator) Migrations() []*Migration {
	return Schema(m.provider.Dialect(), m.provider.Options())
}

// Bootstrap runs the init hooks and applies any pending migrations. With
// ResetAll set every engine table is dropped first.
func (m *Migrator) Bootstrap(ctx context.Context) (int, error) {
	opts := m.provider.Options()
	if opts.ResetAll {
		if err := m.Reset(ctx); err != nil {
			return 0, err
		}
	}
	if err := m.hook(ctx, "pre_init_sql", opts.PreInitSQL); err != nil {
		return 0, err
	}
	if err := m.hook(ctx, "custom_pre_init_sql", opts.CustomPreInitSQL); err != nil {
		return 0, err
	}
	n, err := m.runner.MigrateUp(ctx, m.Migrations())
	if err != nil {
		return n, err
	}
	if err := m.hook(ctx, "post_init_sql", opts.PostInitSQL); err != nil {
		return n, err
	}
	m.logger.Info("storage ready",
		zap.String("provider", string(m.provider.Type())),
		zap.String("prefix", opts.TablePrefix),
		zap.Int("applied", n))
	return n, nil
}

// Reset drops every engine table and the migration history.
func (m *Migrator) Reset(ctx context.Context) error {
	migrations := m.Migrations()
	db := m.provider.DB()
	for i := len(migrations) - 1; i >= 0; i-- {
		if _, err := db.ExecContext(ctx, migrations[i].Down); err != nil {
			return fmt.Errorf("failed to drop %s: %w", migrations[i].Name, err)
		}
	}
	if err := m.runner.Tracker().Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop migration history: %w", err)
	}
	m.logger.Warn("dropped all tables", zap.String("prefix", m.provider.Options().TablePrefix))
	return nil
}

// Status reports the migration state.
func (m *Migrator) Status(ctx context.Context) (*MigrationStatus, error) {
	return m.runner.Status(ctx, m.Migrations())
}

func (m *Migrator) hook(ctx context.Context, name, stmt string) error {
	if strings.TrimSpace(stmt) == "" {
		return nil
	}
	if _, err := m.provider.DB().ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	m.logger.Debug("ran init hook", zap.String("hook", name))
	return nil
}
