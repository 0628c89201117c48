package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"
	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/jackc/pgx/v5/stdlib"

	"go.hackfix.me/roster/db/queries"
	"go.hackfix.me/roster/db/types"
)

// DB wraps sql.DB with the dialect of the relational engine and a time source.
// Queries written with '?' placeholders are rebound for the dialect.
type DB struct {
	*sql.DB
	ctx     context.Context
	timeNow func() time.Time
	dsn     string
	dialect types.Dialect
}

var _ types.Querier = (*DB)(nil)

// Open creates and configures a new relational database connection pool.
func Open(ctx context.Context, dialect types.Dialect, dsn string, timeNow func() time.Time) (*DB, error) {
	var (
		driverName string
		d          *DB
	)
	switch dialect {
	case types.DialectSQLite:
		driverName = "sqlite"
		if strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:") {
			defer func() {
				if d != nil {
					// The in-memory database disappears with its last connection.
					// See https://github.com/mattn/go-sqlite3#faq
					d.SetMaxIdleConns(10)
					d.SetConnMaxLifetime(time.Duration(math.Inf(1)))
				}
			}()
		}
		dsn = withSQLitePragmas(dsn)
	case types.DialectPostgres:
		driverName = "pgx"
	default:
		return nil, fmt.Errorf("unsupported relational driver '%s'", dialect)
	}

	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening %s database: %w", dialect, err)
	}

	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed connecting to %s database: %w", dialect, err)
	}

	d = &DB{DB: sqlDB, ctx: ctx, dsn: dsn, dialect: dialect, timeNow: timeNow}

	return d, nil
}

// withSQLitePragmas enables foreign key enforcement and a busy timeout on every
// connection of the pool, not only the first one.
func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma=foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}

	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// NewContext returns a new child context of the main database context.
func (d *DB) NewContext() context.Context {
	return d.ctx
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}

// Dialect returns the SQL dialect of the database.
func (d *DB) Dialect() types.Dialect {
	return d.dialect
}

// ExecContext executes a query without returning any rows.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	//nolint:wrapcheck // Callers wrap with model context.
	return d.DB.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryContext executes a query that returns rows.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	//nolint:wrapcheck // Callers wrap with model context.
	return d.DB.QueryContext(ctx, d.dialect.Rebind(query), args...)
}

// QueryRowContext executes a query that is expected to return at most one row.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

// WrapTx binds a transaction to the database's dialect and time source.
func (d *DB) WrapTx(ctx context.Context, tx *sql.Tx) *Tx {
	return &Tx{Tx: tx, ctx: ctx, timeNow: d.timeNow, dialect: d.dialect}
}

// DropAll removes every user table from the database, leaving an empty schema.
// Tables prefixed with an underscore are internal (e.g. the migration lock) and
// survive.
func (d *DB) DropAll(ctx context.Context, logger *slog.Logger) error {
	if d.dialect == types.DialectPostgres {
		for _, stmt := range []string{
			`DROP SCHEMA IF EXISTS public CASCADE`,
			`CREATE SCHEMA public`,
		} {
			if _, err := d.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed recreating public schema: %w", err)
			}
		}
		logger.Debug("recreated public schema")
		return nil
	}

	tables, err := queries.Tables(ctx, d)
	if err != nil {
		return fmt.Errorf("failed listing tables: %w", err)
	}

	// PRAGMA foreign_keys is per connection, so the drops must share one.
	conn, err := d.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, `PRAGMA foreign_keys = OFF`); err != nil {
		return fmt.Errorf("failed disabling foreign key enforcement: %w", err)
	}
	for _, table := range tables {
		if _, err = conn.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, table)); err != nil {
			return fmt.Errorf("failed dropping table %s: %w", table, err)
		}
		logger.Debug("dropped table", "table", table)
	}
	if _, err = conn.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("failed enabling foreign key enforcement: %w", err)
	}

	return nil
}

// Tx is a single unit transaction that satisfies types.Querier.
type Tx struct {
	*sql.Tx
	ctx     context.Context
	timeNow func() time.Time
	dialect types.Dialect
}

var _ types.Querier = (*Tx)(nil)

// NewContext returns the context the transaction was started with.
func (t *Tx) NewContext() context.Context {
	return t.ctx
}

// TimeNow returns the current system time.
func (t *Tx) TimeNow() time.Time {
	return t.timeNow()
}

// Dialect returns the SQL dialect of the transaction.
func (t *Tx) Dialect() types.Dialect {
	return t.dialect
}

// ExecContext executes a query without returning any rows.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	//nolint:wrapcheck // Callers wrap with model context.
	return t.Tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryContext executes a query that returns rows.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	//nolint:wrapcheck // Callers wrap with model context.
	return t.Tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

// QueryRowContext executes a query that is expected to return at most one row.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.Tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}
