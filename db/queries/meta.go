package queries

import (
	"context"
	"fmt"
	"strings"

	"go.hackfix.me/roster/db/types"
)

// Tables returns the names of all tables in the database that contain user
// data, sorted by name. Internal tables, prefixed with an underscore, are
// excluded.
func Tables(ctx context.Context, d types.Querier) (tables []string, rerr error) {
	query := `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`
	if d.Dialect() == types.DialectPostgres {
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	}

	rows, err := d.QueryContext(ctx, query)
	if err != nil {
		return nil, types.LoadError{ModelName: "tables", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing tables rows: %w", err)
		}
	}()

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, types.ScanError{ModelName: "table", Err: err}
		}
		if !strings.HasPrefix(name, "_") {
			tables = append(tables, name)
		}
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over tables rows: %w", err)
	}

	return tables, nil
}

// Count returns the number of rows in table.
func Count(ctx context.Context, d types.Querier, table string) (int, error) {
	var count int
	err := d.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed scanning %s count query: %w", table, err)
	}

	return count, nil
}
