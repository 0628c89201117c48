package cli

import (
	"errors"
	"fmt"
	"strconv"

	actx "go.hackfix.me/roster/app/context"
	aerrors "go.hackfix.me/roster/app/errors"
	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/db/types"
)

// The Fresh command applies pending migrations, then runs pending seeders.
type Fresh struct{}

// Run the db:fresh command.
func (c *Fresh) Run(appCtx *actx.Context) error {
	drv, err := newDriver(appCtx)
	if err != nil {
		return err
	}

	report, err := drv.Fresh(appCtx.Ctx)
	printReport(appCtx.Stdout, report, "Nothing to do.")
	if err != nil {
		return runError("failed refreshing databases", err)
	}

	return nil
}

// The Reset command drops everything in both engines and rebuilds them.
type Reset struct {
	Force bool `help:"Confirm that all data in both engines should be destroyed."`
}

// Run the db:reset command.
func (c *Reset) Run(appCtx *actx.Context) error {
	if !c.Force {
		return aerrors.NewRuntimeError("refusing to reset databases",
			errors.New("all data would be lost"), "Pass --force to confirm.")
	}

	drv, err := newDriver(appCtx)
	if err != nil {
		return err
	}

	report, err := drv.Reset(appCtx.Ctx)
	printReport(appCtx.Stdout, report, "Nothing to do.")
	if err != nil {
		return runError("failed resetting databases", err)
	}

	return nil
}

// The Status command shows the ledger state of every phase.
type Status struct {
	Verbose bool `short:"v" help:"List the state of every unit."`
}

// Run the db:status command.
func (c *Status) Run(appCtx *actx.Context) error {
	drv, err := newDriver(appCtx)
	if err != nil {
		return err
	}

	statuses, err := drv.Status(appCtx.Ctx)
	if err != nil {
		return runError("failed reading status", err)
	}

	columns := []column{
		textColumn("Engine"), textColumn("Kind"),
		countColumn("Declared"), countColumn("Executed"),
		countColumn("Pending"), countColumn("Unknown"),
	}
	data := make([][]string, len(statuses))
	for i, st := range statuses {
		data[i] = []string{
			string(st.Engine), string(st.Kind),
			strconv.Itoa(st.Declared), strconv.Itoa(st.Executed),
			strconv.Itoa(st.Pending), strconv.Itoa(st.Unknown),
		}
	}
	if err = renderTable(columns, data, appCtx.Stdout); err != nil {
		return aerrors.NewRuntimeError("failed rendering status table", err, "")
	}

	if !c.Verbose {
		return nil
	}

	data = data[:0]
	for _, st := range statuses {
		for _, u := range st.Units {
			data = append(data, []string{string(st.Engine), string(st.Kind), u.Name, string(u.State)})
		}
	}
	if len(data) == 0 {
		return nil
	}
	fmt.Fprintln(appCtx.Stdout)
	if err = renderTable([]column{
		textColumn("Engine"), textColumn("Kind"), textColumn("Unit"), textColumn("State"),
	}, data, appCtx.Stdout); err != nil {
		return aerrors.NewRuntimeError("failed rendering unit table", err, "")
	}

	return nil
}

// The Unlock command removes the run lock.
type Unlock struct{}

// Run the db:unlock command.
func (c *Unlock) Run(appCtx *actx.Context) error {
	d, err := appCtx.RelationalDB()
	if err != nil {
		return aerrors.NewRuntimeError("failed opening relational database", err, "")
	}

	if d.Dialect() != types.DialectSQLite {
		fmt.Fprintf(appCtx.Stdout,
			"%s advisory locks are released when the holding session ends; nothing to do.\n",
			d.Dialect())
		return nil
	}

	lock := migrator.NewSQLiteLock(d, 0, appCtx.Logger)
	released, err := lock.ForceRelease(appCtx.Ctx, migrator.DefaultLockKey)
	if err != nil {
		return aerrors.NewRuntimeError("failed releasing lock", err, "",
			"lock_key", migrator.DefaultLockKey)
	}
	if released {
		fmt.Fprintf(appCtx.Stdout, "Released lock '%s'.\n", migrator.DefaultLockKey)
	} else {
		fmt.Fprintf(appCtx.Stdout, "Lock '%s' isn't held.\n", migrator.DefaultLockKey)
	}

	return nil
}
