package migrator

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"

	"go.hackfix.me/roster/db/types"
)

var sqlFileRx = regexp.MustCompile(`^(\d+)-([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// IrreversibleError is returned when rolling back a migration that has no
// rollback body.
type IrreversibleError struct {
	Name string
}

func (e IrreversibleError) Error() string {
	return fmt.Sprintf("migration %s can't be rolled back", e.Name)
}

// LoadSQLMigrations reads relational migrations from the SQL files in the root
// of fsys, sorted by ID. Files must be named `{id}-{name}.{up|down}.sql`; other
// files are ignored. The unit name is `{id}-{name}`. Every migration needs an
// up file, while a missing down file makes the migration irreversible.
func LoadSQLMigrations(fsys fs.FS) ([]Migration[types.Querier], error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory: %w", err)
	}

	type files struct {
		id       int
		up, down string
	}
	byName := map[string]*files{}
	ids := map[int]string{}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := sqlFileRx.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("invalid migration ID in %s: %w", e.Name(), err)
		}
		name := m[1] + "-" + m[2]
		if other, ok := ids[id]; ok && other != name {
			return nil, fmt.Errorf("migrations %s and %s share ID %d", other, name, id)
		}
		ids[id] = name

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed reading %s: %w", e.Name(), err)
		}

		f, ok := byName[name]
		if !ok {
			f = &files{id: id}
			byName[name] = f
		}
		if m[3] == "up" {
			f.up = string(body)
		} else {
			f.down = string(body)
		}
	}

	migrations := make([]Migration[types.Querier], 0, len(byName))
	for name, f := range byName {
		if f.up == "" {
			return nil, fmt.Errorf("migration %s has no up file", name)
		}
		m := Migration[types.Querier]{ID: f.id, Name: name, Apply: execSQL(f.up)}
		if f.down != "" {
			m.Rollback = execSQL(f.down)
		} else {
			m.Rollback = func(context.Context, types.Querier) error {
				return IrreversibleError{Name: name}
			}
		}
		migrations = append(migrations, m)
	}

	slices.SortFunc(migrations, func(a, b Migration[types.Querier]) int {
		return cmp.Compare(a.ID, b.ID)
	})

	return migrations, nil
}

func execSQL(stmt string) Func[types.Querier] {
	return func(ctx context.Context, q types.Querier) error {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed executing SQL: %w", err)
		}
		return nil
	}
}
