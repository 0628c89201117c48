package migrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultLockKey is the advisory lock key used when none is configured.
const DefaultLockKey = "roster:migrator"

// PhaseResult lists the units a phase ran during a single verb.
type PhaseResult struct {
	Engine    Engine
	Kind      Kind
	Direction Direction
	Units     []string
}

// Report is the outcome of a driver verb, one entry per phase visited. On
// failure it contains the results up to and including the failed phase.
type Report []PhaseResult

// Count returns the total number of units run.
func (r Report) Count() int {
	var n int
	for _, pr := range r {
		n += len(pr.Units)
	}
	return n
}

// Dropper destroys every schema object of an engine, leaving it empty.
type Dropper struct {
	Engine Engine
	Drop   func(ctx context.Context) error
}

// Driver runs a Pipeline, holding an advisory lock for the duration of each
// verb.
type Driver struct {
	pipeline Pipeline
	locker   Locker
	lockKey  string
	droppers []Dropper
	logger   *slog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithLocker sets the Locker used to guard each verb.
func WithLocker(l Locker) DriverOption {
	return func(d *Driver) {
		d.locker = l
	}
}

// WithLockKey sets the advisory lock key.
func WithLockKey(key string) DriverOption {
	return func(d *Driver) {
		d.lockKey = key
	}
}

// WithDropper adds a Dropper used by Reset.
func WithDropper(engine Engine, drop func(ctx context.Context) error) DriverOption {
	return func(d *Driver) {
		d.droppers = append(d.droppers, Dropper{Engine: engine, Drop: drop})
	}
}

// WithDriverLogger sets the logger used by the Driver.
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver returns a Driver for pipeline. Without a Locker option the driver
// runs unguarded.
func NewDriver(pipeline Pipeline, opts ...DriverOption) *Driver {
	d := &Driver{
		pipeline: pipeline,
		locker:   NopLock{},
		lockKey:  DefaultLockKey,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "driver")

	return d
}

// Migrate applies pending migrations of every engine, in pipeline order.
func (d *Driver) Migrate(ctx context.Context) (Report, error) {
	return d.locked(ctx, func(ctx context.Context) (Report, error) {
		return d.forward(ctx, d.pipeline.Of(KindMigration))
	})
}

// RollbackMigrations rolls back up to steps migrations of every engine, in
// reverse pipeline order. Zero or less rolls back nothing; RollbackAll rolls
// back all of them.
func (d *Driver) RollbackMigrations(ctx context.Context, steps int) (Report, error) {
	return d.locked(ctx, func(ctx context.Context) (Report, error) {
		return d.backward(ctx, d.pipeline.Of(KindMigration), steps)
	})
}

// Seed runs pending seeders of every engine, in pipeline order.
func (d *Driver) Seed(ctx context.Context) (Report, error) {
	return d.locked(ctx, func(ctx context.Context) (Report, error) {
		return d.forward(ctx, d.pipeline.Of(KindSeeder))
	})
}

// RollbackSeeders rolls back up to steps seeders of every engine, in reverse
// pipeline order. Zero or less rolls back nothing; RollbackAll rolls back all
// of them.
func (d *Driver) RollbackSeeders(ctx context.Context, steps int) (Report, error) {
	return d.locked(ctx, func(ctx context.Context) (Report, error) {
		return d.backward(ctx, d.pipeline.Of(KindSeeder), steps)
	})
}

// Fresh runs the whole forward pipeline once: migrations, then seeders.
func (d *Driver) Fresh(ctx context.Context) (Report, error) {
	return d.locked(ctx, func(ctx context.Context) (Report, error) {
		return d.forward(ctx, d.pipeline)
	})
}

// Reset drops every schema object of both engines, recreates the ledgers and
// runs Fresh. It's destructive and can't be undone.
func (d *Driver) Reset(ctx context.Context) (Report, error) {
	return d.locked(ctx, func(ctx context.Context) (Report, error) {
		if len(d.droppers) == 0 {
			return nil, errors.New("no droppers configured")
		}
		// The document engine may hold references to relational data, so it's
		// dropped first.
		for i := len(d.droppers) - 1; i >= 0; i-- {
			dr := d.droppers[i]
			d.logger.Warn("dropping all data", "engine", dr.Engine)
			if err := dr.Drop(ctx); err != nil {
				return nil, fmt.Errorf("failed dropping %s engine: %w", dr.Engine, err)
			}
		}

		return d.forward(ctx, d.pipeline)
	})
}

// Status reports the ledger state of every phase. It doesn't take the lock,
// so it can be used to inspect a running pipeline, and it never writes: a
// ledger that hasn't been created yet is reported as empty.
func (d *Driver) Status(ctx context.Context) ([]PhaseStatus, error) {
	statuses := make([]PhaseStatus, 0, len(d.pipeline))
	for _, ph := range d.pipeline {
		st, err := ph.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed reading %s %s ledger: %w",
				ph.Engine(), ph.Kind(), err)
		}
		statuses = append(statuses, st)
	}

	return statuses, nil
}

func (d *Driver) locked(
	ctx context.Context, fn func(context.Context) (Report, error),
) (Report, error) {
	release, err := d.locker.Acquire(ctx, d.lockKey)
	if err != nil {
		return nil, fmt.Errorf("failed acquiring lock: %w", err)
	}
	defer release()

	return fn(ctx)
}

func (d *Driver) forward(ctx context.Context, phases Pipeline) (Report, error) {
	report := Report{}
	warned := map[Engine]bool{}
	for _, ph := range phases {
		if err := d.prepare(ctx, ph, warned); err != nil {
			return report, err
		}
		units, err := ph.Forward(ctx)
		report = append(report, PhaseResult{
			Engine: ph.Engine(), Kind: ph.Kind(), Direction: DirectionUp, Units: units,
		})
		if err != nil {
			return report, err
		}
		d.logger.Info("phase complete", "engine", ph.Engine(), "kind", ph.Kind(),
			"direction", DirectionUp, "units", len(units))
	}

	return report, nil
}

func (d *Driver) backward(ctx context.Context, phases Pipeline, steps int) (Report, error) {
	report := Report{}
	warned := map[Engine]bool{}
	for i := len(phases) - 1; i >= 0; i-- {
		ph := phases[i]
		if err := d.prepare(ctx, ph, warned); err != nil {
			return report, err
		}
		units, err := ph.Backward(ctx, steps)
		report = append(report, PhaseResult{
			Engine: ph.Engine(), Kind: ph.Kind(), Direction: DirectionDown, Units: units,
		})
		if err != nil {
			return report, err
		}
		d.logger.Info("phase complete", "engine", ph.Engine(), "kind", ph.Kind(),
			"direction", DirectionDown, "units", len(units))
	}

	return report, nil
}

// prepare creates the phase's ledger. The non-atomic warning is logged once
// per engine for each call of forward or backward, tracked in warned.
func (d *Driver) prepare(ctx context.Context, ph Phase, warned map[Engine]bool) error {
	if err := ph.Initialize(ctx); err != nil {
		return fmt.Errorf("failed initializing %s %s ledger: %w", ph.Engine(), ph.Kind(), err)
	}
	if !ph.Atomic() && !warned[ph.Engine()] {
		warned[ph.Engine()] = true
		d.logger.Warn("engine can't apply units atomically; units must be idempotent",
			"engine", ph.Engine())
	}

	return nil
}
