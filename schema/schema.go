// Package schema declares the migrations and seeders of the platform, for both
// the relational and the document engine.
package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/db/types"
	"go.hackfix.me/roster/docdb"
)

// Ledger names, shared by both engines.
const (
	MigrationsLedger = "migrations"
	SeedersLedger    = "seeders"
)

//go:embed sql
var sqlFS embed.FS

// DocEnv is the handle passed to document seeders.
type DocEnv struct {
	Store docdb.Store
	// SQL reads data committed by the relational seeders.
	SQL types.Querier
}

// Catalog holds every declared unit of the platform.
type Catalog struct {
	RelationalMigrations []migrator.Migration[types.Querier]
	DocumentMigrations   []migrator.Migration[docdb.Store]
	RelationalSeeders    []migrator.Seeder[types.Querier]
	DocumentSeeders      []migrator.Seeder[DocEnv]
}

type options struct {
	adminPassword string
	bcryptCost    int
	timeNow       func() time.Time
	logger        *slog.Logger
}

// Option configures the declared units.
type Option func(*options)

// WithAdminPassword sets the password of the seeded admin user. If empty, a
// random password is generated and logged.
func WithAdminPassword(password string) Option {
	return func(o *options) {
		o.adminPassword = password
	}
}

// WithBcryptCost sets the cost used to hash seeded passwords.
func WithBcryptCost(cost int) Option {
	return func(o *options) {
		o.bcryptCost = cost
	}
}

// WithTimeNow sets the function used to timestamp seeded documents.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(o *options) {
		o.timeNow = timeNow
	}
}

// WithLogger sets the logger used by the seeders.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// NewCatalog returns the units of the platform. Relational migrations are read
// from the SQL files for dialect.
func NewCatalog(dialect types.Dialect, opts ...Option) (*Catalog, error) {
	o := &options{
		bcryptCost: bcrypt.DefaultCost,
		timeNow:    time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "seeder")

	relMigrations, err := RelationalMigrations(dialect)
	if err != nil {
		return nil, err
	}

	relSeeders, err := relationalSeeders(o)
	if err != nil {
		return nil, err
	}

	return &Catalog{
		RelationalMigrations: relMigrations,
		DocumentMigrations:   documentMigrations(),
		RelationalSeeders:    relSeeders,
		DocumentSeeders:      documentSeeders(o),
	}, nil
}

// RelationalMigrations returns the migrations read from the embedded SQL files
// for dialect.
func RelationalMigrations(dialect types.Dialect) ([]migrator.Migration[types.Querier], error) {
	dir, err := fs.Sub(sqlFS, "sql/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("no migrations for dialect %s: %w", dialect, err)
	}

	migrations, err := migrator.LoadSQLMigrations(dir)
	if err != nil {
		return nil, err
	}
	if len(migrations) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %s", dialect)
	}

	return migrations, nil
}
