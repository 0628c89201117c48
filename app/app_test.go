package app

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/db/queries"
	"go.hackfix.me/roster/schema"
)

func TestAppFresh(t *testing.T) {
	t.Parallel()

	tapp := newTestApp(t)

	err := tapp.Run("db:fresh")
	require.NoError(t, err)

	out := tapp.stdout.String()
	for _, line := range []string{
		"Applied relational migration 0001-create_roles",
		"Applied relational migration 0003-create_user_roles",
		"Applied document migration 0001-create_profiles",
		"Applied document migration 0002-create_settings",
		"Applied relational seeder roles",
		"Applied relational seeder users",
		"Applied document seeder profiles",
		"Applied document seeder settings",
	} {
		assert.Contains(t, out, line+"\n")
	}
	assert.Less(t,
		strings.Index(out, "seeder roles"), strings.Index(out, "seeder users"),
		"roles must be seeded before users")

	profiles, err := tapp.store.Find(t.Context(), schema.ProfilesCollection, nil)
	require.NoError(t, err)
	userCount, err := queries.Count(t.Context(), tapp.db, "users")
	require.NoError(t, err)
	assert.Len(t, profiles, userCount)

	err = tapp.Run("db:status")
	require.NoError(t, err)
	out = tapp.stdout.String()
	assert.Regexp(t, `relational\s*migration\s*3\s*3\s*0\s*0`, out)
	assert.Regexp(t, `document\s*migration\s*2\s*2\s*0\s*0`, out)
	assert.Regexp(t, `relational\s*seeder\s*2\s*2\s*0\s*0`, out)
	assert.Regexp(t, `document\s*seeder\s*2\s*2\s*0\s*0`, out)

	err = tapp.Run("db:fresh")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to do.\n", tapp.stdout.String())
}

func TestAppMigrateRollback(t *testing.T) {
	t.Parallel()

	tapp := newTestApp(t)

	err := tapp.Run("migrate")
	require.NoError(t, err)
	assert.Contains(t, tapp.stdout.String(), "Applied relational migration 0003-create_user_roles\n")
	assert.NotContains(t, tapp.stdout.String(), "seeder")

	err = tapp.Run("migrate:rollback")
	require.NoError(t, err)
	assert.Equal(t,
		"Rolled back document migration 0002-create_settings\n"+
			"Rolled back relational migration 0003-create_user_roles\n",
		tapp.stdout.String())

	err = tapp.Run("db:status", "--verbose")
	require.NoError(t, err)
	out := tapp.stdout.String()
	assert.Regexp(t, `relational\s*migration\s*3\s*2\s*1\s*0`, out)
	assert.Regexp(t, `relational\s*migration\s*0002-create_users\s*applied`, out)
	assert.Regexp(t, `relational\s*migration\s*0003-create_user_roles\s*pending`, out)
	assert.Regexp(t, `document\s*migration\s*0002-create_settings\s*pending`, out)

	err = tapp.Run("migrate:rollback", "0")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to roll back.\n", tapp.stdout.String())
	n, err := queries.Count(t.Context(), tapp.db, "users")
	require.NoError(t, err)
	assert.Zero(t, n)

	err = tapp.Run("migrate:rollback", "5")
	require.NoError(t, err)
	assert.Equal(t,
		"Rolled back document migration 0001-create_profiles\n"+
			"Rolled back relational migration 0002-create_users\n"+
			"Rolled back relational migration 0001-create_roles\n",
		tapp.stdout.String())

	err = tapp.Run("migrate:rollback")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to roll back.\n", tapp.stdout.String())
}

func TestAppSeedRollback(t *testing.T) {
	t.Parallel()

	tapp := newTestApp(t)

	err := tapp.Run("db:fresh")
	require.NoError(t, err)

	err = tapp.Run("seed:rollback", "1")
	require.NoError(t, err)
	assert.Equal(t,
		"Rolled back document seeder settings\n"+
			"Rolled back relational seeder users\n",
		tapp.stdout.String())

	err = tapp.Run("seed:rollback")
	require.NoError(t, err)
	assert.Equal(t,
		"Rolled back document seeder profiles\n"+
			"Rolled back relational seeder roles\n",
		tapp.stdout.String())

	userCount, err := queries.Count(t.Context(), tapp.db, "users")
	require.NoError(t, err)
	assert.Zero(t, userCount)

	err = tapp.Run("seed")
	require.NoError(t, err)
	assert.Contains(t, tapp.stdout.String(), "Applied document seeder settings\n")
}

func TestAppReset(t *testing.T) {
	t.Parallel()

	t.Run("err/no_force", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		err := tapp.Run("db:reset")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "refusing to reset databases")
	})

	t.Run("ok", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		require.NoError(t, tapp.Run("db:fresh"))

		_, err := tapp.db.ExecContext(t.Context(), `DELETE FROM user_roles`)
		require.NoError(t, err)

		err = tapp.Run("db:reset", "--force")
		require.NoError(t, err)
		assert.Contains(t, tapp.stdout.String(), "Applied relational migration 0001-create_roles\n")
		assert.Contains(t, tapp.stdout.String(), "Applied document seeder settings\n")

		n, err := queries.Count(t.Context(), tapp.db, "user_roles")
		require.NoError(t, err)
		assert.Positive(t, n)
	})
}

func TestAppUnlock(t *testing.T) {
	t.Parallel()

	tapp := newTestApp(t)

	lock := migrator.NewSQLiteLock(tapp.db, 0, slog.New(slog.DiscardHandler))
	_, err := lock.Acquire(context.Background(), migrator.DefaultLockKey)
	require.NoError(t, err)

	err = tapp.Run("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed migrating")
	var lockErr migrator.LockedError
	require.ErrorAs(t, err, &lockErr)
	assert.Equal(t, migrator.DefaultLockKey, lockErr.Key)

	err = tapp.Run("db:unlock")
	require.NoError(t, err)
	assert.Equal(t, "Released lock 'roster:migrator'.\n", tapp.stdout.String())

	err = tapp.Run("migrate")
	require.NoError(t, err)

	err = tapp.Run("db:unlock")
	require.NoError(t, err)
	assert.Equal(t, "Lock 'roster:migrator' isn't held.\n", tapp.stdout.String())
}

func TestAppConfig(t *testing.T) {
	t.Parallel()

	t.Run("err/driver_flag", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		err := tapp.Run("--relational-driver=mysql", "migrate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid CLI option")
	})

	t.Run("err/invalid_file", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		require.NoError(t, vfs.WriteFile(tapp.fs, "/config.json", []byte(`{"lock":`), 0o644))
		err := tapp.Run("migrate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed loading configuration")
	})

	t.Run("err/postgres_without_dsn", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		err := tapp.Run("--relational-driver=postgres", "migrate")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("ok/defaults", func(t *testing.T) {
		t.Parallel()

		tapp := newTestApp(t)
		require.NoError(t, tapp.Run("--data-dir=/srv/roster", "--document-url=ws://docs:8000/rpc", "migrate"))

		cfg := tapp.ctx.Config
		assert.Equal(t, "/srv/roster/roster.db", cfg.Relational.DSN.V)
		assert.Equal(t, "ws://docs:8000/rpc", cfg.Document.URL.V)
		assert.Equal(t, "hunter2", cfg.Seed.AdminPassword.V)
		assert.Equal(t, "5m0s", cfg.Lock.StaleAfter.V.String())

		_, err := tapp.fs.Stat("/srv/roster")
		assert.True(t, vfs.IsErrNotExist(err),
			"data directory is only created for a database the app opens")
	})
}
