package migrator

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSQLMigrations(t *testing.T) {
	t.Parallel()

	t.Run("ok/apply_and_rollback", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{
			"0002-create_b.up.sql":   {Data: []byte(`CREATE TABLE t_b (id INTEGER);`)},
			"0002-create_b.down.sql": {Data: []byte(`DROP TABLE t_b;`)},
			"0001-create_a.up.sql": {Data: []byte(`CREATE TABLE t_a (id INTEGER);
				CREATE TABLE t_a2 (id INTEGER);`)},
			"0001-create_a.down.sql":   {Data: []byte(`DROP TABLE t_a2; DROP TABLE t_a;`)},
			"0003-irreversible.up.sql": {Data: []byte(`CREATE TABLE t_c (id INTEGER);`)},
			"README.md":                {Data: []byte(`ignored`)},
		}

		migrations, err := LoadSQLMigrations(fsys)
		require.NoError(t, err)
		require.Len(t, migrations, 3)
		assert.Equal(t, 1, migrations[0].ID)
		assert.Equal(t, "0001-create_a", migrations[0].Name)
		assert.Equal(t, "0002-create_b", migrations[1].Name)
		assert.Equal(t, "0003-irreversible", migrations[2].Name)

		r, tables := newTestSQLRunner(t, "migrations")
		declared := MigrationUnits(migrations)
		_, err = r.RunPending(t.Context(), declared)
		require.NoError(t, err)
		assert.Equal(t, []string{"t_a", "t_a2", "t_b", "t_c"}, tables())

		_, err = r.Rollback(t.Context(), declared, 1)
		var irrErr IrreversibleError
		require.ErrorAs(t, err, &irrErr)
		assert.Equal(t, "0003-irreversible", irrErr.Name)

		// Skip the irreversible migration by dropping it from the declared list.
		rolled, err := r.Rollback(t.Context(), declared[:2], RollbackAll)
		require.NoError(t, err)
		assert.Equal(t, []string{"0002-create_b", "0001-create_a"}, rolled)
		assert.Equal(t, []string{"t_c"}, tables())
	})

	tests := []struct {
		name   string
		fsys   fstest.MapFS
		expErr string
	}{
		{
			name:   "err/missing_up",
			fsys:   fstest.MapFS{"0001-a.down.sql": {Data: []byte(`SELECT 1;`)}},
			expErr: "migration 0001-a has no up file",
		},
		{
			name: "err/shared_id",
			fsys: fstest.MapFS{
				"0001-a.up.sql": {Data: []byte(`SELECT 1;`)},
				"1-b.up.sql":    {Data: []byte(`SELECT 1;`)},
			},
			expErr: "share ID 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadSQLMigrations(tt.fsys)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expErr)
		})
	}
}
