package schema

import (
	"context"
	"log/slog"
	"time"

	"go.hackfix.me/roster/db"
	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/db/types"
	"go.hackfix.me/roster/docdb"
)

// NewPipeline binds the catalog units to runners over d and store, in the
// fixed phase order: relational migrations, document migrations, relational
// seeders, document seeders.
func NewPipeline(
	cat *Catalog, d *db.DB, store docdb.Store, logger *slog.Logger, timeNow func() time.Time,
) (migrator.Pipeline, error) {
	for _, order := range migrator.DuplicateOrders(cat.RelationalSeeders) {
		logger.Warn("relational seeders share an order; keeping declaration order", "order", order)
	}
	for _, order := range migrator.DuplicateOrders(cat.DocumentSeeders) {
		logger.Warn("document seeders share an order; keeping declaration order", "order", order)
	}

	relMigrations, err := migrator.NewSQLRunner(d, MigrationsLedger,
		migrator.WithKind(migrator.KindMigration), migrator.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	relSeeders, err := migrator.NewSQLRunner(d, SeedersLedger,
		migrator.WithKind(migrator.KindSeeder), migrator.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	docMigrations, err := migrator.NewDocRunner(store, MigrationsLedger, store,
		migrator.WithKind(migrator.KindMigration), migrator.WithLogger(logger),
		migrator.WithTimeNow(timeNow))
	if err != nil {
		return nil, err
	}
	docSeeders, err := migrator.NewDocRunner(store, SeedersLedger, DocEnv{Store: store, SQL: d},
		migrator.WithKind(migrator.KindSeeder), migrator.WithLogger(logger),
		migrator.WithTimeNow(timeNow))
	if err != nil {
		return nil, err
	}

	return migrator.NewPipeline(
		migrator.NewPhase(migrator.KindMigration, migrator.Runner[types.Querier](relMigrations),
			migrator.MigrationUnits(cat.RelationalMigrations)),
		migrator.NewPhase(migrator.KindMigration, migrator.Runner[docdb.Store](docMigrations),
			migrator.MigrationUnits(cat.DocumentMigrations)),
		migrator.NewPhase(migrator.KindSeeder, migrator.Runner[types.Querier](relSeeders),
			migrator.SeederUnits(cat.RelationalSeeders)),
		migrator.NewPhase(migrator.KindSeeder, migrator.Runner[DocEnv](docSeeders),
			migrator.SeederUnits(cat.DocumentSeeders)),
	)
}

// NewDriver returns a driver running the pipeline of cat, guarded by the
// advisory lock of d and able to reset both engines.
func NewDriver(
	cat *Catalog, d *db.DB, store docdb.Store, lockStaleAfter time.Duration,
	logger *slog.Logger, timeNow func() time.Time,
) (*migrator.Driver, error) {
	pipeline, err := NewPipeline(cat, d, store, logger, timeNow)
	if err != nil {
		return nil, err
	}

	return migrator.NewDriver(pipeline,
		migrator.WithLocker(migrator.NewLocker(d, lockStaleAfter, logger)),
		migrator.WithDriverLogger(logger),
		migrator.WithDropper(migrator.EngineRelational, func(ctx context.Context) error {
			return d.DropAll(ctx, logger)
		}),
		migrator.WithDropper(migrator.EngineDocument, func(ctx context.Context) error {
			return DropCollections(ctx, store)
		}),
	), nil
}

// DropCollections removes every collection of store.
func DropCollections(ctx context.Context, store docdb.Store) error {
	colls, err := store.Collections(ctx)
	if err != nil {
		return err
	}
	for _, c := range colls {
		if err = store.RemoveCollection(ctx, c); err != nil {
			return err
		}
	}
	return nil
}
