package migrator

import (
	"context"
	"log/slog"
	"time"
)

// Runner applies and rolls back declared units against one engine, keeping
// the engine's ledger in sync.
type Runner[H any] interface {
	// Engine returns the engine the runner operates on.
	Engine() Engine
	// SupportsAtomicApply reports whether a unit's mutation and its ledger
	// write are committed atomically.
	SupportsAtomicApply() bool
	// Initialize creates the ledger if it doesn't exist. It's safe to call
	// repeatedly.
	Initialize(ctx context.Context) error
	// LedgerExists reports whether the ledger has been created. It never
	// creates it.
	LedgerExists(ctx context.Context) (bool, error)
	// ExecutedNames returns the names in the ledger, oldest first.
	ExecutedNames(ctx context.Context) ([]string, error)
	// RunPending applies every declared unit missing from the ledger, in
	// declared order, stopping at the first failure. It returns the names of
	// the units applied before the failure, if any.
	RunPending(ctx context.Context, declared []Unit[H]) ([]string, error)
	// Rollback rolls back up to steps executed units, most recently declared
	// first, stopping at the first failure. A steps value of zero or less rolls
	// back nothing; RollbackAll rolls back every executed unit.
	Rollback(ctx context.Context, declared []Unit[H], steps int) ([]string, error)
}

type runnerConfig struct {
	kind    Kind
	logger  *slog.Logger
	timeNow func() time.Time
}

// RunnerOption configures a runner.
type RunnerOption func(*runnerConfig)

// WithKind sets the kind of units the runner handles. It's only used for
// logging and errors.
func WithKind(kind Kind) RunnerOption {
	return func(c *runnerConfig) {
		c.kind = kind
	}
}

// WithLogger sets the logger used by the runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(c *runnerConfig) {
		c.logger = logger
	}
}

// WithTimeNow sets the function used to timestamp document ledger entries.
// Relational ledger entries use the database's time source.
func WithTimeNow(timeNow func() time.Time) RunnerOption {
	return func(c *runnerConfig) {
		c.timeNow = timeNow
	}
}

func newRunnerConfig(engine Engine, opts []RunnerOption) runnerConfig {
	cfg := runnerConfig{
		kind:    KindMigration,
		logger:  slog.Default(),
		timeNow: time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.logger = cfg.logger.With("component", "migrator", "engine", engine, "kind", cfg.kind)

	return cfg
}
