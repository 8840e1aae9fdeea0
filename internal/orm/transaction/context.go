package transaction

import (
	"context"
	"database/sql"
)

type contextKey struct{}

// ContextWithTx stores an open transaction in ctx so nested engine calls
// join it instead of opening their own.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, contextKey{}, tx)
}

// TxFromContext returns the transaction stored by ContextWithTx.
func TxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(contextKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

// InTransaction runs fn in the transaction carried by ctx, or in a new one
// opened by m. fn receives a ctx that carries the transaction.
func (m *Manager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	return m.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(ContextWithTx(ctx, tx), tx)
	})
}
