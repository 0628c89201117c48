package schema

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go.hackfix.me/roster/db"
	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/db/models"
	"go.hackfix.me/roster/db/queries"
	"go.hackfix.me/roster/db/types"
	"go.hackfix.me/roster/docdb"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

var discardLogger = slog.New(slog.DiscardHandler)

type testEnv struct {
	db     *db.DB
	store  *docdb.Memory
	cat    *Catalog
	driver *migrator.Driver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := db.Open(t.Context(), types.DialectSQLite,
		fmt.Sprintf("file:roster-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	cat, err := NewCatalog(types.DialectSQLite,
		WithAdminPassword("hunter2"), WithBcryptCost(bcrypt.MinCost),
		WithTimeNow(timeNowFn), WithLogger(discardLogger))
	require.NoError(t, err)

	store := docdb.NewMemory()
	driver, err := NewDriver(cat, d, store, time.Minute, discardLogger, timeNowFn)
	require.NoError(t, err)

	return &testEnv{db: d, store: store, cat: cat, driver: driver}
}

func (env *testEnv) profiles(t *testing.T) []docdb.Document {
	t.Helper()
	docs, err := env.store.Find(t.Context(), ProfilesCollection, nil)
	require.NoError(t, err)
	return docs
}

// assertNoOrphans checks that every user has exactly one profile, and every
// profile belongs to an existing user.
func assertNoOrphans(t *testing.T, env *testEnv) {
	t.Helper()

	users, err := models.Users(t.Context(), env.db, nil)
	require.NoError(t, err)
	profiles := env.profiles(t)
	require.Len(t, profiles, len(users))

	byID := map[string]docdb.Document{}
	for _, p := range profiles {
		byID[p.ID()] = p
	}
	for _, u := range users {
		p, ok := byID[ProfileID(u.ID)]
		require.True(t, ok, "missing profile of user %s", u.Name)
		assert.Equal(t, u.ID, p["userId"])
		assert.Equal(t, u.PublicID, p["publicId"])
	}
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	for _, dialect := range []types.Dialect{types.DialectSQLite, types.DialectPostgres} {
		migrations, err := RelationalMigrations(dialect)
		require.NoError(t, err)
		names := make([]string, len(migrations))
		for i, m := range migrations {
			names[i] = m.Name
			assert.NotNil(t, m.Rollback)
		}
		assert.Equal(t, []string{
			"0001-create_roles", "0002-create_users", "0003-create_user_roles",
		}, names, dialect)
	}

	cat, err := NewCatalog(types.DialectSQLite, WithLogger(discardLogger))
	require.NoError(t, err)
	// Declared out of order; roles must still run first.
	assert.Equal(t, "users", cat.RelationalSeeders[0].Name)
	units := migrator.SeederUnits(cat.RelationalSeeders)
	assert.Equal(t, "roles", units[0].Name)
	assert.Empty(t, migrator.DuplicateOrders(cat.RelationalSeeders))
	assert.Empty(t, migrator.DuplicateOrders(cat.DocumentSeeders))
}

func TestFresh(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	report, err := env.driver.Fresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3+2+2+2, report.Count())

	fixtures, err := UserFixtures()
	require.NoError(t, err)
	users, err := models.Users(t.Context(), env.db, nil)
	require.NoError(t, err)
	require.Len(t, users, len(fixtures))
	assertNoOrphans(t, env)

	roleCount, err := queries.Count(t.Context(), env.db, "roles")
	require.NoError(t, err)
	assert.Equal(t, len(DefaultRoles), roleCount)

	admin := &models.User{Name: "admin"}
	require.NoError(t, admin.Load(t.Context(), env.db))
	assert.Equal(t, []string{"admin"}, admin.Roles)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("hunter2")))
	assert.True(t, timeNow.Equal(admin.CreatedAt))

	caps := map[string][]string{}
	for _, p := range env.profiles(t) {
		caps[p["name"].(string)] = p["capabilities"].([]string)
	}
	assert.Equal(t, map[string][]string{
		"admin": {"read:profile", "write:profile", "read:settings", "write:settings", "manage:users"},
		"alice": {"read:profile", "write:profile", "read:settings"},
		"bob":   {"read:profile", "write:profile", "read:settings"},
		"carol": {"read:profile", "read:settings"},
	}, caps)

	settings, err := env.store.Find(t.Context(), SettingsCollection, nil)
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, GlobalSettingsID, settings[0].ID())
	assert.Equal(t, "viewer", settings[0]["defaultRole"])

	statuses, err := env.driver.Status(t.Context())
	require.NoError(t, err)
	for _, st := range statuses {
		assert.Zero(t, st.Pending, "%s %s", st.Engine, st.Kind)
		assert.Equal(t, st.Declared, st.Executed)
	}

	// Running again changes nothing.
	report, err = env.driver.Fresh(t.Context())
	require.NoError(t, err)
	assert.Zero(t, report.Count())
	assertNoOrphans(t, env)
}

func TestProfilesReconcile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.driver.Fresh(t.Context())
	require.NoError(t, err)

	carol := &models.User{Name: "carol"}
	require.NoError(t, carol.Delete(t.Context(), env.db))

	docEnv := DocEnv{Store: env.store, SQL: env.db}
	var profiles migrator.Seeder[DocEnv]
	for _, s := range env.cat.DocumentSeeders {
		if s.Name == "profiles" {
			profiles = s
		}
	}
	require.NoError(t, profiles.Run(t.Context(), docEnv))
	assertNoOrphans(t, env)
	assert.Len(t, env.profiles(t), 3)
}

func TestRollbackSeeders(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.driver.Fresh(t.Context())
	require.NoError(t, err)

	report, err := env.driver.RollbackSeeders(t.Context(), migrator.RollbackAll)
	require.NoError(t, err)
	require.Len(t, report, 2)
	assert.Equal(t, migrator.EngineDocument, report[0].Engine)
	assert.Equal(t, []string{"settings", "profiles"}, report[0].Units)
	assert.Equal(t, []string{"users", "roles"}, report[1].Units)

	users, err := models.Users(t.Context(), env.db, nil)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Empty(t, env.profiles(t))

	// Seeding again recreates the same data set.
	_, err = env.driver.Seed(t.Context())
	require.NoError(t, err)
	assertNoOrphans(t, env)
	assert.Len(t, env.profiles(t), 4)
}

func TestRollbackMigrations(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.driver.Migrate(t.Context())
	require.NoError(t, err)

	report, err := env.driver.RollbackMigrations(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002-create_settings"}, report[0].Units)
	assert.Equal(t, []string{"0003-create_user_roles"}, report[1].Units)

	tables, err := queries.Tables(t.Context(), env.db)
	require.NoError(t, err)
	assert.NotContains(t, tables, "user_roles")
	assert.Contains(t, tables, "users")
	colls, err := env.store.Collections(t.Context())
	require.NoError(t, err)
	assert.NotContains(t, colls, SettingsCollection)
	assert.Contains(t, colls, ProfilesCollection)

	report, err = env.driver.RollbackMigrations(t.Context(), migrator.RollbackAll)
	require.NoError(t, err)
	assert.Equal(t, 1+2, report.Count())
	tables, err = queries.Tables(t.Context(), env.db)
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations"}, tables)
}

func TestReset(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.driver.Fresh(t.Context())
	require.NoError(t, err)

	carol := &models.User{Name: "carol"}
	require.NoError(t, carol.Delete(t.Context(), env.db))

	report, err := env.driver.Reset(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 9, report.Count())

	users, err := models.Users(t.Context(), env.db, nil)
	require.NoError(t, err)
	assert.Len(t, users, 4)
	assertNoOrphans(t, env)
}
