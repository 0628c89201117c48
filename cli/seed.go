package cli

import (
	actx "go.hackfix.me/roster/app/context"
	"go.hackfix.me/roster/db/migrator"
)

// The Seed command runs pending seeders.
type Seed struct{}

// Run the seed command.
func (c *Seed) Run(appCtx *actx.Context) error {
	drv, err := newDriver(appCtx)
	if err != nil {
		return err
	}

	report, err := drv.Seed(appCtx.Ctx)
	printReport(appCtx.Stdout, report, "Nothing to seed.")
	if err != nil {
		return runError("failed seeding", err)
	}

	return nil
}

// The SeedRollback command rolls back executed seeders.
type SeedRollback struct {
	Steps *int `arg:"" optional:"" help:"Number of seeders to roll back per engine. Omit to roll back all of them."`
}

// Run the seed:rollback command.
func (c *SeedRollback) Run(appCtx *actx.Context) error {
	drv, err := newDriver(appCtx)
	if err != nil {
		return err
	}

	steps := migrator.RollbackAll
	if c.Steps != nil {
		steps = *c.Steps
	}

	report, err := drv.RollbackSeeders(appCtx.Ctx, steps)
	printReport(appCtx.Stdout, report, "Nothing to roll back.")
	if err != nil {
		return runError("failed rolling back seeders", err)
	}

	return nil
}
