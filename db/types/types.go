package types

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"
)

// Querier exposes only methods for running SQL queries, and some helper
// functions. Both the pooled database and a single unit transaction implement
// it, so models and seeders don't care which one they run against.
type Querier interface {
	NewContext() context.Context
	TimeNow() time.Time
	Dialect() Dialect
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect is the SQL flavor spoken by the relational engine.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFromString returns the Dialect matching s.
func DialectFromString(s string) (Dialect, error) {
	switch d := Dialect(s); d {
	case DialectSQLite, DialectPostgres:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported relational driver '%s'", s)
	}
}

// Rebind rewrites '?' placeholders into the form expected by the dialect.
// Question marks inside single-quoted string literals are left untouched.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	out := make([]byte, 0, len(query)+8)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			out = append(out, c)
		case c == '?' && !inQuote:
			n++
			out = append(out, '$')
			out = fmt.Appendf(out, "%d", n)
		default:
			out = append(out, c)
		}
	}

	return string(out)
}

// Filter is used to dynamically modify queries.
type Filter struct {
	Where string
	Args  []any
	Limit int
}

// NewFilter creates a new query filter.
func NewFilter(where string, args []any) *Filter {
	return &Filter{Where: where, Args: args}
}

// And joins f2 with f1 using an AND condition.
func (f1 *Filter) And(f2 *Filter) *Filter {
	return &Filter{
		Where: fmt.Sprintf("%s AND %s", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
	}
}
