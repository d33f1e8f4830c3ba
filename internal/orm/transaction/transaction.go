// Package transaction runs units of work inside database transactions.
package transaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// Default leaves the driver's default isolation in place
	Default IsolationLevel = iota
	// ReadCommitted prevents dirty reads (PostgreSQL default)
	ReadCommitted
	// RepeatableRead prevents non-repeatable reads
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the string representation of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// ToSQLOptions converts IsolationLevel to sql.TxOptions
func (l IsolationLevel) ToSQLOptions() *sql.TxOptions {
	switch l {
	case ReadCommitted:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	case RepeatableRead:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead}
	case Serializable:
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	default:
		return nil
	}
}

// Manager manages database transactions
type Manager struct {
	db    *sqlx.DB
	level IsolationLevel
}

// NewManager creates a new transaction manager
func NewManager(db *sqlx.DB, level IsolationLevel) *Manager {
	return &Manager{db: db, level: level}
}

// WithTransaction executes fn within a transaction. It commits when fn
// returns nil and rolls back otherwise. A transaction already carried by
// ctx is reused and left for its owner to finish.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx) error) (err error) {
	if tx, ok := FromContext(ctx); ok {
		return fn(ctx, tx)
	}

	tx, err := m.db.BeginTxx(ctx, m.level.ToSQLOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(WithContext(ctx, tx), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
