package migrator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.hackfix.me/roster/db"
	"go.hackfix.me/roster/db/queries"
	"go.hackfix.me/roster/db/types"
	"go.hackfix.me/roster/docdb"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

var discardLogger = slog.New(slog.DiscardHandler)

func newTestDB(t *testing.T, timeNow func() time.Time) *db.DB {
	t.Helper()

	// A unique name per test, to avoid clashing of in-memory SQLite DBs.
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := db.Open(t.Context(), types.DialectSQLite,
		fmt.Sprintf("file:roster-%x?mode=memory&cache=shared", rndName), timeNow)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

// tableUnit returns a relational unit that creates the table t_<name>.
func tableUnit(name string, trace *[]string) Unit[types.Querier] {
	table := "t_" + name
	return Unit[types.Querier]{
		Name: name,
		Apply: func(ctx context.Context, q types.Querier) error {
			if trace != nil {
				*trace = append(*trace, "up:"+name)
			}
			_, err := q.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (id INTEGER)`, table))
			return err
		},
		Rollback: func(ctx context.Context, q types.Querier) error {
			if trace != nil {
				*trace = append(*trace, "down:"+name)
			}
			_, err := q.ExecContext(ctx, fmt.Sprintf(`DROP TABLE %s`, table))
			return err
		},
	}
}

func tableUnits(trace *[]string, names ...string) []Unit[types.Querier] {
	units := make([]Unit[types.Querier], len(names))
	for i, n := range names {
		units[i] = tableUnit(n, trace)
	}
	return units
}

// userTables returns the tables created by tableUnit.
func userTables(t *testing.T, d *db.DB) []string {
	t.Helper()

	tables, err := queries.Tables(t.Context(), d)
	require.NoError(t, err)

	out := []string{}
	for _, tbl := range tables {
		if strings.HasPrefix(tbl, "t_") {
			out = append(out, tbl)
		}
	}
	return out
}

// docUnit returns a document unit that upserts a document with its own name
// as ID into the items collection.
func docUnit(name string, trace *[]string) Unit[docdb.Store] {
	return Unit[docdb.Store]{
		Name: name,
		Apply: func(ctx context.Context, s docdb.Store) error {
			if trace != nil {
				*trace = append(*trace, "up:"+name)
			}
			return s.Upsert(ctx, "items", name, docdb.Document{"name": name})
		},
		Rollback: func(ctx context.Context, s docdb.Store) error {
			if trace != nil {
				*trace = append(*trace, "down:"+name)
			}
			return s.Delete(ctx, "items", name)
		},
	}
}

func docUnits(trace *[]string, names ...string) []Unit[docdb.Store] {
	units := make([]Unit[docdb.Store], len(names))
	for i, n := range names {
		units[i] = docUnit(n, trace)
	}
	return units
}

func itemIDs(t *testing.T, s docdb.Store) []string {
	t.Helper()

	docs, err := s.Find(t.Context(), "items", nil)
	require.NoError(t, err)

	ids := []string{}
	for _, doc := range docs {
		ids = append(ids, doc.ID())
	}
	return ids
}

// failingStore fails every write to a single collection.
type failingStore struct {
	docdb.Store
	collection string
	fail       bool
}

var errInjected = errors.New("injected failure")

func (s *failingStore) Upsert(ctx context.Context, collection, id string, doc docdb.Document) error {
	if s.fail && collection == s.collection {
		return errInjected
	}
	return s.Store.Upsert(ctx, collection, id, doc)
}

func (s *failingStore) Delete(ctx context.Context, collection, id string) error {
	if s.fail && collection == s.collection {
		return errInjected
	}
	return s.Store.Delete(ctx, collection, id)
}
