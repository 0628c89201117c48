package cli

import (
	"errors"
	"fmt"
	"io"

	actx "go.hackfix.me/roster/app/context"
	aerrors "go.hackfix.me/roster/app/errors"
	"go.hackfix.me/roster/db/migrator"
	"go.hackfix.me/roster/schema"
)

// newDriver opens both engines and returns a driver running the built-in
// catalog over them.
func newDriver(appCtx *actx.Context) (*migrator.Driver, error) {
	d, err := appCtx.RelationalDB()
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed opening relational database", err,
			"Check the relational driver and DSN.")
	}
	store, err := appCtx.DocumentStore()
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed opening document store", err,
			"Check that the document engine is reachable at the configured URL.")
	}

	opts := []schema.Option{
		schema.WithLogger(appCtx.Logger),
		schema.WithTimeNow(appCtx.TimeNow),
	}
	if pw := appCtx.Config.Seed.AdminPassword; pw.Valid {
		opts = append(opts, schema.WithAdminPassword(pw.V))
	}
	cat, err := schema.NewCatalog(d.Dialect(), opts...)
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed loading catalog", err, "")
	}

	drv, err := schema.NewDriver(cat, d, store, appCtx.Config.Lock.StaleAfter.V,
		appCtx.Logger, appCtx.TimeNow)
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed building pipeline", err, "")
	}

	return drv, nil
}

// runError converts an error returned by a driver verb into a runtime error,
// exposing the failed unit as metadata.
func runError(msg string, err error) error {
	var (
		applyErr  migrator.ApplyError
		ledgerErr migrator.LedgerWriteError
		lockErr   migrator.LockedError
	)
	switch {
	case errors.As(err, &lockErr):
		return aerrors.NewRuntimeError(msg, err,
			"If no other process is running, release the lock with 'roster db:unlock'.",
			"lock_key", lockErr.Key)
	case errors.As(err, &ledgerErr):
		return aerrors.NewRuntimeError(msg, err,
			"The unit's changes are in place but unrecorded. Its apply body is idempotent, so it's safe to run again.",
			"engine", ledgerErr.Engine, "kind", ledgerErr.Kind, "unit", ledgerErr.Unit,
			"direction", ledgerErr.Direction)
	case errors.As(err, &applyErr):
		return aerrors.NewRuntimeError(msg, err, "",
			"engine", applyErr.Engine, "kind", applyErr.Kind, "unit", applyErr.Unit,
			"direction", applyErr.Direction)
	default:
		return aerrors.NewRuntimeError(msg, err, "")
	}
}

// printReport writes one line per unit run, or nothing if no unit ran.
func printReport(w io.Writer, report migrator.Report, nothing string) {
	if report.Count() == 0 {
		fmt.Fprintln(w, nothing)
		return
	}

	for _, pr := range report {
		verb := "Applied"
		if pr.Direction == migrator.DirectionDown {
			verb = "Rolled back"
		}
		for _, unit := range pr.Units {
			fmt.Fprintf(w, "%s %s %s %s\n", verb, pr.Engine, pr.Kind, unit)
		}
	}
}
