package migrator

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"time"

	"github.com/nrednav/cuid2"

	"go.hackfix.me/roster/db/types"
	"go.hackfix.me/roster/docdb"
)

// Record is a single ledger entry. Its presence means the named unit is
// currently applied.
type Record struct {
	ID         string
	Name       string
	ExecutedAt time.Time
}

func recordNames(records []Record) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

// sqlLedger is the ledger table of the relational engine. All methods take the
// Querier to run against, so that writes share the unit's transaction.
type sqlLedger struct {
	table string
}

func newSQLLedger(table string) (sqlLedger, error) {
	if err := docdb.ValidIdent(table); err != nil {
		return sqlLedger{}, fmt.Errorf("invalid ledger table name: %w", err)
	}
	return sqlLedger{table: table}, nil
}

func (l sqlLedger) ensure(ctx context.Context, q types.Querier) error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	tsType := "TIMESTAMP"
	if q.Dialect() == types.DialectPostgres {
		idCol = "id BIGSERIAL PRIMARY KEY"
		tsType = "TIMESTAMPTZ"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (
			%s,
			name TEXT NOT NULL,
			executed_at %s NOT NULL
		)`, l.table, idCol, tsType),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS "%s_name_uq" ON "%s" (name)`, l.table, l.table),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed creating ledger table %s: %w", l.table, err)
		}
	}

	return nil
}

func (l sqlLedger) exists(ctx context.Context, q types.Querier) (bool, error) {
	query := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
	if q.Dialect() == types.DialectPostgres {
		query = `SELECT COUNT(*) FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = ?`
	}

	var n int
	if err := q.QueryRowContext(ctx, query, l.table).Scan(&n); err != nil {
		return false, fmt.Errorf("failed looking up ledger table %s: %w", l.table, err)
	}

	return n > 0, nil
}

func (l sqlLedger) records(ctx context.Context, q types.Querier) (records []Record, rerr error) {
	query := fmt.Sprintf(`SELECT id, name, executed_at FROM "%s"
		ORDER BY executed_at ASC, id ASC`, l.table)
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, types.LoadError{ModelName: l.table, Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing %s rows: %w", l.table, err)
		}
	}()

	records = []Record{}
	for rows.Next() {
		var (
			id  int64
			rec Record
		)
		if err = rows.Scan(&id, &rec.Name, &rec.ExecutedAt); err != nil {
			return nil, types.ScanError{ModelName: l.table, Err: err}
		}
		rec.ID = strconv.FormatInt(id, 10)
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over %s rows: %w", l.table, err)
	}

	return records, nil
}

func (l sqlLedger) insert(ctx context.Context, q types.Querier, name string) error {
	stmt := fmt.Sprintf(`INSERT INTO "%s" (name, executed_at) VALUES (?, ?)`, l.table)
	if _, err := q.ExecContext(ctx, stmt, name, q.TimeNow().UTC()); err != nil {
		return types.Err(l.table, fmt.Sprintf("name '%s'", name), err)
	}
	return nil
}

func (l sqlLedger) remove(ctx context.Context, q types.Querier, name string) error {
	stmt := fmt.Sprintf(`DELETE FROM "%s" WHERE name = ?`, l.table)
	res, err := q.ExecContext(ctx, stmt, name)
	if err != nil {
		return fmt.Errorf("failed deleting %s from %s: %w", name, l.table, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		return types.NoResultError{ModelName: l.table, ID: fmt.Sprintf("name '%s'", name)}
	}

	return nil
}

// docLedger is the ledger collection of the document engine. Entries carry a
// monotonic sequence number, which orders entries written within the same
// clock tick.
type docLedger struct {
	store      docdb.Store
	collection string
	timeNow    func() time.Time
	newID      func() string
}

func newDocLedger(store docdb.Store, collection string, timeNow func() time.Time) (docLedger, error) {
	if err := docdb.ValidIdent(collection); err != nil {
		return docLedger{}, fmt.Errorf("invalid ledger collection name: %w", err)
	}
	return docLedger{
		store:      store,
		collection: collection,
		timeNow:    timeNow,
		newID:      cuid2.Generate,
	}, nil
}

func (l docLedger) ensure(ctx context.Context) error {
	err := l.store.DefineCollection(ctx, docdb.Collection{
		Name:   l.collection,
		Strict: true,
		Fields: []docdb.Field{
			{Name: "name", Type: "string"},
			{Name: "executedAt", Type: "datetime"},
			{Name: "seq", Type: "int"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed creating ledger collection %s: %w", l.collection, err)
	}

	err = l.store.DefineIndex(ctx, docdb.Index{
		Name:       l.collection + "_name_uq",
		Collection: l.collection,
		Fields:     []string{"name"},
		Unique:     true,
	})
	if err != nil {
		return fmt.Errorf("failed creating unique index on ledger collection %s: %w", l.collection, err)
	}

	return nil
}

func (l docLedger) exists(ctx context.Context) (bool, error) {
	colls, err := l.store.Collections(ctx)
	if err != nil {
		return false, fmt.Errorf("failed listing collections: %w", err)
	}
	return slices.Contains(colls, l.collection), nil
}

type docRecord struct {
	Record
	seq int64
}

func (l docLedger) entries(ctx context.Context) ([]docRecord, error) {
	docs, err := l.store.Find(ctx, l.collection, nil)
	if err != nil {
		return nil, fmt.Errorf("failed loading ledger collection %s: %w", l.collection, err)
	}

	entries := make([]docRecord, 0, len(docs))
	for _, doc := range docs {
		name, _ := doc["name"].(string)
		entries = append(entries, docRecord{
			Record: Record{ID: doc.ID(), Name: name, ExecutedAt: asTime(doc["executedAt"])},
			seq:    asInt64(doc["seq"]),
		})
	}
	slices.SortFunc(entries, func(a, b docRecord) int {
		if c := a.ExecutedAt.Compare(b.ExecutedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})

	return entries, nil
}

func (l docLedger) records(ctx context.Context) ([]Record, error) {
	entries, err := l.entries(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		records[i] = e.Record
	}
	return records, nil
}

func (l docLedger) insert(ctx context.Context, name string) error {
	entries, err := l.entries(ctx)
	if err != nil {
		return err
	}
	var seq int64
	for _, e := range entries {
		seq = max(seq, e.seq)
	}

	return l.store.Upsert(ctx, l.collection, l.newID(), docdb.Document{
		"name":       name,
		"executedAt": l.timeNow().UTC(),
		"seq":        seq + 1,
	})
}

func (l docLedger) remove(ctx context.Context, name string) error {
	docs, err := l.store.Find(ctx, l.collection, map[string]any{"name": name})
	if err != nil {
		return fmt.Errorf("failed looking up %s in %s: %w", name, l.collection, err)
	}
	if len(docs) == 0 {
		return types.NoResultError{ModelName: l.collection, ID: fmt.Sprintf("name '%s'", name)}
	}

	for _, doc := range docs {
		if err = l.store.Delete(ctx, l.collection, doc.ID()); err != nil {
			return fmt.Errorf("failed deleting %s from %s: %w", name, l.collection, err)
		}
	}

	return nil
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, _ := time.Parse(time.RFC3339Nano, t)
		return parsed
	default:
		return time.Time{}
	}
}

func asInt64(v any) int64 {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return rv.Int()
	case rv.CanUint():
		return int64(rv.Uint()) //nolint:gosec // Sequence numbers are small.
	case rv.CanFloat():
		return int64(rv.Float())
	default:
		return 0
	}
}
