package migrator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/roster/db/types"
)

func newTestSQLRunner(t *testing.T, table string) (*SQLRunner, func() []string) {
	t.Helper()

	d := newTestDB(t, timeNowFn)
	r, err := NewSQLRunner(d, table, WithLogger(discardLogger))
	require.NoError(t, err)
	require.NoError(t, r.Initialize(t.Context()))
	// Initialization is idempotent.
	require.NoError(t, r.Initialize(t.Context()))

	return r, func() []string { return userTables(t, d) }
}

func TestSQLRunnerLedgerExists(t *testing.T) {
	t.Parallel()

	d := newTestDB(t, timeNowFn)
	r, err := NewSQLRunner(d, "migrations", WithLogger(discardLogger))
	require.NoError(t, err)

	exists, err := r.LedgerExists(t.Context())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, r.Initialize(t.Context()))
	exists, err = r.LedgerExists(t.Context())
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLRunnerRunPending(t *testing.T) {
	t.Parallel()

	t.Run("ok/order_and_idempotence", func(t *testing.T) {
		t.Parallel()

		r, tables := newTestSQLRunner(t, "migrations")
		var trace []string
		declared := tableUnits(&trace, "c", "a", "b")

		applied, err := r.RunPending(t.Context(), declared)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, applied)
		assert.Equal(t, []string{"up:c", "up:a", "up:b"}, trace)

		executed, err := r.ExecutedNames(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "a", "b"}, executed)
		assert.Equal(t, []string{"t_a", "t_b", "t_c"}, tables())

		records, err := r.Records(t.Context())
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.True(t, records[0].ExecutedAt.Equal(timeNow))

		applied, err = r.RunPending(t.Context(), declared)
		require.NoError(t, err)
		assert.Empty(t, applied)
		assert.Len(t, trace, 3)
	})

	t.Run("ok/new_units_appended", func(t *testing.T) {
		t.Parallel()

		r, tables := newTestSQLRunner(t, "migrations")
		_, err := r.RunPending(t.Context(), tableUnits(nil, "a"))
		require.NoError(t, err)

		applied, err := r.RunPending(t.Context(), tableUnits(nil, "a", "b"))
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, applied)
		assert.Equal(t, []string{"t_a", "t_b"}, tables())
	})

	t.Run("err/apply_failure_is_atomic", func(t *testing.T) {
		t.Parallel()

		r, tables := newTestSQLRunner(t, "migrations")
		failing := Unit[types.Querier]{
			Name: "b",
			Apply: func(ctx context.Context, q types.Querier) error {
				if _, err := q.ExecContext(ctx, `CREATE TABLE t_b (id INTEGER)`); err != nil {
					return err
				}
				return errors.New("boom")
			},
		}
		declared := []Unit[types.Querier]{tableUnit("a", nil), failing, tableUnit("c", nil)}

		applied, err := r.RunPending(t.Context(), declared)
		require.Error(t, err)
		assert.Equal(t, []string{"a"}, applied)

		var applyErr ApplyError
		require.ErrorAs(t, err, &applyErr)
		assert.Equal(t, "b", applyErr.Unit)
		assert.Equal(t, EngineRelational, applyErr.Engine)
		assert.Equal(t, DirectionUp, applyErr.Direction)
		assert.EqualError(t, err, "failed applying relational migration b: boom")

		// Neither t_b nor its ledger entry survive, and c never ran.
		assert.Equal(t, []string{"t_a"}, tables())
		executed, err := r.ExecutedNames(t.Context())
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, executed)
	})

	t.Run("err/ledger_failure_is_atomic", func(t *testing.T) {
		t.Parallel()

		r, tables := newTestSQLRunner(t, "migrations")
		// Recording its own name makes the ledger insert fail.
		clashing := Unit[types.Querier]{
			Name: "a",
			Apply: func(ctx context.Context, q types.Querier) error {
				if _, err := q.ExecContext(ctx, `CREATE TABLE t_a (id INTEGER)`); err != nil {
					return err
				}
				_, err := q.ExecContext(ctx,
					`INSERT INTO migrations (name, executed_at) VALUES (?, ?)`, "a", q.TimeNow())
				return err
			},
		}

		_, err := r.RunPending(t.Context(), []Unit[types.Querier]{clashing})
		require.Error(t, err)
		var dupErr *types.DuplicateError
		assert.ErrorAs(t, err, &dupErr)

		assert.Empty(t, tables())
		executed, err := r.ExecutedNames(t.Context())
		require.NoError(t, err)
		assert.Empty(t, executed)
	})

	t.Run("err/duplicate_name", func(t *testing.T) {
		t.Parallel()

		r, tables := newTestSQLRunner(t, "migrations")
		_, err := r.RunPending(t.Context(), tableUnits(nil, "a", "b", "a"))
		var dupErr DuplicateNameError
		require.ErrorAs(t, err, &dupErr)
		assert.Equal(t, "a", dupErr.Name)
		assert.Empty(t, tables())
	})
}

func TestSQLRunnerRollback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		steps     int
		expRolled []string
		expTables []string
	}{
		{name: "ok/one", steps: 1, expRolled: []string{"c"}, expTables: []string{"t_a", "t_b"}},
		{name: "ok/two", steps: 2, expRolled: []string{"c", "b"}, expTables: []string{"t_a"}},
		{name: "ok/all", steps: RollbackAll, expRolled: []string{"c", "b", "a"}, expTables: []string{}},
		{name: "ok/zero", steps: 0, expRolled: []string{}, expTables: []string{"t_a", "t_b", "t_c"}},
		{name: "ok/negative", steps: -2, expRolled: []string{}, expTables: []string{"t_a", "t_b", "t_c"}},
		{name: "ok/more_than_executed", steps: 10, expRolled: []string{"c", "b", "a"}, expTables: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r, tables := newTestSQLRunner(t, "migrations")
			declared := tableUnits(nil, "a", "b", "c")
			_, err := r.RunPending(t.Context(), declared)
			require.NoError(t, err)

			rolled, err := r.Rollback(t.Context(), declared, tt.steps)
			require.NoError(t, err)
			assert.Equal(t, tt.expRolled, rolled)
			assert.Equal(t, tt.expTables, tables())

			executed, err := r.ExecutedNames(t.Context())
			require.NoError(t, err)
			assert.Len(t, executed, 3-len(tt.expRolled))

			// Rolled back units are pending again.
			applied, err := r.RunPending(t.Context(), declared)
			require.NoError(t, err)
			assert.Len(t, applied, len(tt.expRolled))
		})
	}
}

func TestSQLRunnerRollbackFailure(t *testing.T) {
	t.Parallel()

	r, tables := newTestSQLRunner(t, "seeders")
	broken := tableUnit("b", nil)
	broken.Rollback = func(ctx context.Context, q types.Querier) error {
		if _, err := q.ExecContext(ctx, `DROP TABLE t_b`); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	}
	declared := []Unit[types.Querier]{tableUnit("a", nil), broken, tableUnit("c", nil)}
	_, err := r.RunPending(t.Context(), declared)
	require.NoError(t, err)

	rolled, err := r.Rollback(t.Context(), declared, RollbackAll)
	require.Error(t, err)
	assert.Equal(t, []string{"c"}, rolled)

	var applyErr ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, DirectionDown, applyErr.Direction)

	// The failed rollback is undone; a stays untouched.
	assert.Equal(t, []string{"t_a", "t_b"}, tables())
	executed, err := r.ExecutedNames(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, executed)
}

func TestSQLRunnerRollbackWithoutBody(t *testing.T) {
	t.Parallel()

	r, _ := newTestSQLRunner(t, "seeders")
	declared := []Unit[types.Querier]{{
		Name:  "roles",
		Apply: func(context.Context, types.Querier) error { return nil },
	}}
	_, err := r.RunPending(t.Context(), declared)
	require.NoError(t, err)

	rolled, err := r.Rollback(t.Context(), declared, RollbackAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"roles"}, rolled)

	executed, err := r.ExecutedNames(t.Context())
	require.NoError(t, err)
	assert.Empty(t, executed)
}

func TestNewSQLRunnerInvalidTable(t *testing.T) {
	t.Parallel()

	d := newTestDB(t, timeNowFn)
	_, err := NewSQLRunner(d, `bad"name`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid ledger table name")
}
