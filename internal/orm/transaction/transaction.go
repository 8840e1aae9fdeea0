// Package transaction runs engine writes and snapshot reads as single
// database transactions, with savepoints, retry of transient lock failures
// and per-call timeouts.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrRetriesExhausted is returned when a retryable failure persisted across every attempt
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
	// ErrTransactionTimeout is returned when a transaction times out
	ErrTransactionTimeout = errors.New("transaction timeout")
	// ErrTransactionClosed is returned when a finished transaction is used again
	ErrTransactionClosed = errors.New("transaction already closed")
)

// savepointCounter provides unique savepoint names across all transactions
var savepointCounter atomic.Uint64

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// ReadCommitted is the default for writes
	ReadCommitted IsolationLevel = iota
	// RepeatableRead gives reads one consistent snapshot
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the SQL name of the level
func (l IsolationLevel) String() string {
	switch l {
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "READ COMMITTED"
	}
}

func (l IsolationLevel) txOptions(readOnly bool) *sql.TxOptions {
	level := sql.LevelReadCommitted
	switch l {
	case RepeatableRead:
		level = sql.LevelRepeatableRead
	case Serializable:
		level = sql.LevelSerializable
	}
	return &sql.TxOptions{Isolation: level, ReadOnly: readOnly}
}

// Manager opens transactions on a database handle.
type Manager struct {
	db      *sql.DB
	logger  *zap.Logger
	retry   RetryConfig
	timeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for retries and rollbacks.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg RetryConfig) Option {
	return func(m *Manager) { m.retry = cfg }
}

// WithTimeout bounds every transaction run by the manager. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB, opts ...Option) *Manager {
	m := &Manager{db: db, logger: zap.NewNop(), retry: DefaultRetryConfig()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DB returns the underlying database handle
func (m *Manager) DB() *sql.DB {
	return m.db
}

// WithTransaction runs fn in a read-write transaction. It commits when fn
// returns nil and rolls back otherwise, including on panic and on
// cancellation of ctx. Deadlocks, serialization failures and busy
// databases are retried with backoff; fn must therefore only touch the
// database through tx.
func (m *Manager) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return m.run(ctx, ReadCommitted, false, fn)
}

// WithSnapshot runs fn in a read-only repeatable-read transaction so that
// several queries observe the same committed state.
func (m *Manager) WithSnapshot(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return m.run(ctx, RepeatableRead, true, fn)
}

// WithIsolation runs fn in a read-write transaction at level.
func (m *Manager) WithIsolation(ctx context.Context, level IsolationLevel, fn func(tx *sql.Tx) error) error {
	return m.run(ctx, level, false, fn)
}

func (m *Manager) run(ctx context.Context, level IsolationLevel, readOnly bool, fn func(tx *sql.Tx) error) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := m.withRetry(ctx, func() error {
		return m.once(ctx, level, readOnly, fn)
	})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && m.timeout > 0 {
		return fmt.Errorf("%w: exceeded %v: %v", ErrTransactionTimeout, m.timeout, err)
	}
	return err
}

func (m *Manager) once(ctx context.Context, level IsolationLevel, readOnly bool, fn func(tx *sql.Tx) error) (err error) {
	tx, err := m.Begin(ctx, level, readOnly)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Tx()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.Warn("rollback failed", zap.Error(rbErr))
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transaction is an open transaction or a savepoint nested inside one.
type Transaction struct {
	tx            *sql.Tx
	ctx           context.Context
	level         int // 0 = top-level, 1+ = savepoint depth
	savepointName string
	done          atomic.Bool
	isolation     IsolationLevel
}

// Begin starts a top-level transaction.
func (m *Manager) Begin(ctx context.Context, level IsolationLevel, readOnly bool) (*Transaction, error) {
	tx, err := m.db.BeginTx(ctx, level.txOptions(readOnly))
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx, ctx: ctx, isolation: level}, nil
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// Level returns the savepoint depth
func (t *Transaction) Level() int {
	return t.level
}

// IsolationLevel returns the isolation level of the transaction
func (t *Transaction) IsolationLevel() IsolationLevel {
	return t.isolation
}

// Done reports whether the transaction was committed or rolled back
func (t *Transaction) Done() bool {
	return t.done.Load()
}

// Commit commits the transaction or releases the savepoint
func (t *Transaction) Commit() error {
	if !t.done.CompareAndSwap(false, true) {
		return ErrTransactionClosed
	}
	if t.level > 0 {
		if _, err := t.tx.ExecContext(t.ctx, "RELEASE SAVEPOINT "+t.savepointName); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		return nil
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction or to the savepoint. Rolling back a
// finished transaction is a no-op.
func (t *Transaction) Rollback() error {
	if !t.done.CompareAndSwap(false, true) {
		return nil
	}
	if t.level > 0 {
		// the savepoint context may already be cancelled; the outer tx still needs the rollback
		if _, err := t.tx.ExecContext(context.WithoutCancel(t.ctx), "ROLLBACK TO SAVEPOINT "+t.savepointName); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
		return nil
	}
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// Savepoint opens a nested transaction.
func (t *Transaction) Savepoint(ctx context.Context) (*Transaction, error) {
	if t.done.Load() {
		return nil, ErrTransactionClosed
	}
	name := fmt.Sprintf("sp_%d_%d", savepointCounter.Add(1), t.level+1)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("failed to create savepoint: %w", err)
	}
	return &Transaction{
		tx:            t.tx,
		ctx:           ctx,
		level:         t.level + 1,
		savepointName: name,
		isolation:     t.isolation,
	}, nil
}

// WithSavepoint runs fn inside a savepoint of tx. A failure rolls back only
// the work done by fn; tx stays usable.
func WithSavepoint(ctx context.Context, tx *sql.Tx, fn func() error) error {
	outer := &Transaction{tx: tx, ctx: ctx}
	sp, err := outer.Savepoint(ctx)
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		if rbErr := sp.Rollback(); rbErr != nil {
			return fmt.Errorf("%w, savepoint rollback failed: %v", err, rbErr)
		}
		return err
	}
	return sp.Commit()
}
