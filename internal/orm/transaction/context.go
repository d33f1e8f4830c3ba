package transaction

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// contextKey is a type for context keys to avoid collisions
type contextKey string

const contextKeyTransaction contextKey = "crudkit:transaction"

// FromContext retrieves a transaction from the context
func FromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(contextKeyTransaction).(*sqlx.Tx)
	return tx, ok && tx != nil
}

// WithContext returns a new context carrying tx
func WithContext(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, contextKeyTransaction, tx)
}
