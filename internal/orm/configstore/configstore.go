// Package configstore keeps the versioned JSON configuration documents of a
// project, such as the linked rules. Documents are opaque to the store; the
// packages that consume one decode it into their own type.
package configstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/cache"
	"github.com/conduit-lang/collections/internal/orm/adapter"
	"github.com/conduit-lang/collections/internal/orm/entity"
	"github.com/conduit-lang/collections/internal/orm/errs"
	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/orm/transaction"
)

// Well-known document names.
const (
	AppConfig     = "__joy_config__"
	Linked        = "__joy_linked__"
	LinkedAssets  = "__joy_linked_assets__"
	FormRoutes    = "__joy_form_routes__"
	CustomPages   = "__joy_custom_pages__"
	CustomerPages = "__joy_customer_pages__"
)

// Record is one stored document.
type Record struct {
	ProjectID entity.UUID      `json:"project_id"`
	Name      string           `json:"name"`
	Version   int              `json:"version"`
	Data      json.RawMessage  `json:"data"`
	CreatedAt entity.Timestamp `json:"_created_at"`
	UpdatedAt entity.Timestamp `json:"_updated_at"`
}

// Store reads and writes configuration records.
type Store struct {
	db      *sql.DB
	dialect adapter.Dialect
	txm     *transaction.Manager
	cache   cache.Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// New creates a config store. c may be nil.
func New(p adapter.Provider, txm *transaction.Manager, c cache.Cache, ttl time.Duration, logger *zap.Logger) *Store {
	if c == nil {
		c = cache.Noop{}
	}
	if ttl == 0 {
		ttl = cache.DefaultConfig().DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if txm == nil {
		txm = transaction.NewManager(p.DB(), transaction.WithLogger(logger))
	}
	return &Store{db: p.DB(), dialect: p.Dialect(), txm: txm, cache: c, ttl: ttl, logger: logger}
}

// Get returns a document, or NotFound.
func (s *Store) Get(ctx context.Context, projectID entity.UUID, name string) (*Record, error) {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		return s.selectRecord(ctx, tx, projectID, name, false)
	}

	key := cache.ConfigKey(string(projectID), name)
	var rec Record
	if found, err := cache.GetJSON(ctx, s.cache, key, &rec); err == nil && found {
		return &rec, nil
	}

	r, err := s.selectRecord(ctx, s.db, projectID, name, false)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, r, s.ttl); err != nil {
		s.logger.Warn("failed to cache config", zap.String("name", name), zap.Error(err))
	}
	return r, nil
}

// Decode loads a document into dst. found is false when there is none.
func (s *Store) Decode(ctx context.Context, projectID entity.UUID, name string, dst any) (found bool, err error) {
	r, err := s.Get(ctx, projectID, name)
	if errs.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(r.Data, dst); err != nil {
		return true, errs.Invalid("config %s: %v", name, err)
	}
	return true, nil
}

// Put writes a document and bumps its version. When expectedVersion is
// set, the write fails with ErrOptimisticLockFailed unless the stored
// version matches (0 meaning the document must not exist yet).
func (s *Store) Put(ctx context.Context, projectID entity.UUID, name string, data json.RawMessage, expectedVersion *int) (*Record, error) {
	if name == "" {
		return nil, errs.Invalid("config name is required")
	}
	if !json.Valid(data) {
		return nil, errs.Invalid("config %s is not valid JSON", name)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, errs.Invalid("config %s: %v", name, err)
	}

	var out *Record
	err := s.txm.InTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		current, err := s.selectRecord(ctx, tx, projectID, name, true)
		if err != nil && !errs.IsNotFound(err) {
			return err
		}
		version := 0
		if current != nil {
			version = current.Version
		}
		if expectedVersion != nil && *expectedVersion != version {
			return fmt.Errorf("%w: config %s is at version %d", errs.ErrOptimisticLockFailed, name, version)
		}

		now := entity.Now()
		out = &Record{ProjectID: projectID, Name: name, Version: version + 1, Data: compact.Bytes(), CreatedAt: now, UpdatedAt: now}
		d := s.dialect
		var stmt string
		if current == nil {
			stmt = fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES (%s, %s, %s, %s, %s, %s)",
				s.table(), d.Quote("version"), d.Quote("data"), d.Quote("_created_at"), d.Quote("_updated_at"),
				d.Quote("project_id"), d.Quote("name"),
				d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5), d.Placeholder(6))
			_, err = tx.ExecContext(ctx, stmt, out.Version, string(out.Data), now, now, projectID, name)
		} else {
			out.CreatedAt = current.CreatedAt
			stmt = fmt.Sprintf("UPDATE %s SET %s = %s, %s = %s, %s = %s WHERE %s = %s AND %s = %s",
				s.table(), d.Quote("version"), d.Placeholder(1), d.Quote("data"), d.Placeholder(2),
				d.Quote("_updated_at"), d.Placeholder(3),
				d.Quote("project_id"), d.Placeholder(4), d.Quote("name"), d.Placeholder(5))
			_, err = tx.ExecContext(ctx, stmt, out.Version, string(out.Data), now, projectID, name)
		}
		if err != nil {
			return fmt.Errorf("failed to write config %s: %w", name, errs.ConvertDBError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, projectID, name)
	s.logger.Info("config saved", zap.String("name", name), zap.Int("version", out.Version))
	return out, nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *Store) Delete(ctx context.Context, projectID entity.UUID, name string) error {
	d := s.dialect
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s = %s",
		s.table(), d.Quote("project_id"), d.Placeholder(1), d.Quote("name"), d.Placeholder(2))
	if _, err := s.conn(ctx).ExecContext(ctx, stmt, projectID, name); err != nil {
		return fmt.Errorf("failed to delete config %s: %w", name, errs.ConvertDBError(err))
	}
	s.invalidate(ctx, projectID, name)
	return nil
}

// List returns every document of a project ordered by name.
func (s *Store) List(ctx context.Context, projectID entity.UUID) ([]*Record, error) {
	d := s.dialect
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s ORDER BY %s",
		columns(d), s.table(), d.Quote("project_id"), d.Placeholder(1), d.Quote("name"))
	rows, err := s.conn(ctx).QueryContext(ctx, stmt, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer rows.Close()
	out := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) table() string {
	return s.dialect.Table(migrate.ConfigTable)
}

func (s *Store) conn(ctx context.Context) adapter.DBTX {
	if tx, ok := transaction.TxFromContext(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) invalidate(ctx context.Context, projectID entity.UUID, name string) {
	if err := s.cache.Delete(ctx, cache.ConfigKey(string(projectID), name)); err != nil {
		s.logger.Warn("failed to invalidate config cache", zap.String("name", name), zap.Error(err))
	}
}

func (s *Store) selectRecord(ctx context.Context, q adapter.DBTX, projectID entity.UUID, name string, lock bool) (*Record, error) {
	d := s.dialect
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s AND %s = %s",
		columns(d), s.table(), d.Quote("project_id"), d.Placeholder(1), d.Quote("name"), d.Placeholder(2))
	if lock {
		stmt += d.ForUpdate()
	}
	r, err := scanRecord(q.QueryRowContext(ctx, stmt, projectID, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.NotFound("config", name)
		}
		return nil, fmt.Errorf("failed to get config %s: %w", name, err)
	}
	return r, nil
}

func columns(d adapter.Dialect) string {
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s", d.Quote("project_id"), d.Quote("name"), d.Quote("version"),
		d.Quote("data"), d.Quote("_created_at"), d.Quote("_updated_at"))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var data []byte
	if err := row.Scan(&r.ProjectID, &r.Name, &r.Version, &data, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Data = json.RawMessage(data)
	return &r, nil
}
