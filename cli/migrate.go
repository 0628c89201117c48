package cli

import (
	actx "go.hackfix.me/roster/app/context"
)

// The Migrate command applies pending migrations.
type Migrate struct{}

// Run the migrate command.
func (c *Migrate) Run(appCtx *actx.Context) error {
	drv, err := newDriver(appCtx)
	if err != nil {
		return err
	}

	report, err := drv.Migrate(appCtx.Ctx)
	printReport(appCtx.Stdout, report, "Nothing to migrate.")
	if err != nil {
		return runError("failed migrating", err)
	}

	return nil
}

// The MigrateRollback command rolls back executed migrations.
type MigrateRollback struct {
	Steps int `arg:"" optional:"" default:"1" help:"Number of migrations to roll back per engine."`
}

// Run the migrate:rollback command.
func (c *MigrateRollback) Run(appCtx *actx.Context) error {
	drv, err := newDriver(appCtx)
	if err != nil {
		return err
	}

	report, err := drv.RollbackMigrations(appCtx.Ctx, c.Steps)
	printReport(appCtx.Stdout, report, "Nothing to roll back.")
	if err != nil {
		return runError("failed rolling back migrations", err)
	}

	return nil
}
