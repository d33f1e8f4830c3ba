// Package sqlstore is the SQL-backed store. Queries are compiled with
// go-sqlbuilder for the SQLite or PostgreSQL flavor and executed through
// sqlx; each Session is a unit of work with an identity map and snapshot
// change tracking, committed in one transaction.
package sqlstore

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // registers the "postgres" driver
	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/orm/relationships"
	"github.com/conduit-lang/crudkit/internal/orm/schema"
	"github.com/conduit-lang/crudkit/internal/orm/store"
	"github.com/conduit-lang/crudkit/internal/orm/transaction"
)

// DB is a connection pool plus the metadata needed to map rows
type DB struct {
	db        *sqlx.DB
	registry  *schema.Registry
	flavor    sqlbuilder.Flavor
	tx        *transaction.Manager
	logger    *zap.Logger
	batchSize int
	isolation transaction.IsolationLevel
}

// Option configures a DB
type Option func(*DB)

// WithLogger logs every statement at debug level
func WithLogger(logger *zap.Logger) Option {
	return func(d *DB) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithBatchSize bounds the keys per eager-loading query
func WithBatchSize(n int) Option {
	return func(d *DB) {
		d.batchSize = n
	}
}

// WithIsolation sets the isolation level of SaveChanges transactions
func WithIsolation(level transaction.IsolationLevel) Option {
	return func(d *DB) {
		d.isolation = level
	}
}

// FlavorFor returns the SQL flavor spoken by a registered driver
func FlavorFor(driver string) (sqlbuilder.Flavor, error) {
	switch driver {
	case "sqlite3", "sqlite":
		return sqlbuilder.SQLite, nil
	case "pgx", "postgres", "postgresql":
		return sqlbuilder.PostgreSQL, nil
	}
	return sqlbuilder.DefaultFlavor, fmt.Errorf("%w: driver %q", store.ErrUnsupported, driver)
}

// Open connects with one of the sqlite3, pgx or postgres drivers
func Open(driver, dsn string, reg *schema.Registry, opts ...Option) (*DB, error) {
	flavor, err := FlavorFor(driver)
	if err != nil {
		return nil, err
	}
	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(conn, reg, flavor, opts...), nil
}

// New wraps an existing pool
func New(conn *sqlx.DB, reg *schema.Registry, flavor sqlbuilder.Flavor, opts ...Option) *DB {
	d := &DB{
		db:        conn,
		registry:  reg,
		flavor:    flavor,
		logger:    zap.NewNop(),
		batchSize: relationships.DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.tx = transaction.NewManager(conn, d.isolation)
	return d
}

// Registry returns the class registry
func (d *DB) Registry() *schema.Registry {
	return d.registry
}

// Flavor returns the SQL flavor
func (d *DB) Flavor() sqlbuilder.Flavor {
	return d.flavor
}

// Conn returns the underlying pool
func (d *DB) Conn() *sqlx.DB {
	return d.db
}

// Ping verifies the connection
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the pool
func (d *DB) Close() error {
	return d.db.Close()
}

// Session opens a new unit of work
func (d *DB) Session() *Session {
	s := &Session{
		db:      d,
		tracked: make(map[*schema.Class]map[string]*trackedEntity),
	}
	s.loader = relationships.NewLoader(s, relationships.WithBatchSize(d.batchSize))
	return s
}

// Factory adapts the database to a store.SessionFactory
func (d *DB) Factory() store.SessionFactory {
	return func(ctx context.Context) (store.Store, error) {
		return d.Session(), nil
	}
}

// conn returns the transaction carried by ctx, or the pool
func (d *DB) conn(ctx context.Context) sqlx.ExtContext {
	if tx, ok := transaction.FromContext(ctx); ok {
		return tx
	}
	return d.db
}

func (d *DB) logStatement(sql string, args []any) {
	d.logger.Debug("sql", zap.String("statement", sql), zap.Int("args", len(args)))
}
