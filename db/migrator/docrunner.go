package migrator

import (
	"context"
	"errors"
	"log/slog"

	"go.hackfix.me/roster/docdb"
)

// DocRunner runs units against the document engine. The engine can't commit a
// mutation and its ledger write together, so each unit is applied first and
// recorded afterwards. A failure in between leaves the mutation unrecorded,
// and the unit is applied again on the next run; units must be idempotent.
type DocRunner[H any] struct {
	handle H
	ledger docLedger
	kind   Kind
	logger *slog.Logger
}

// NewDocRunner returns a runner that passes handle to every unit and records
// executed units in the given ledger collection of store.
func NewDocRunner[H any](store docdb.Store, collection string, handle H, opts ...RunnerOption) (*DocRunner[H], error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}

	cfg := newRunnerConfig(EngineDocument, opts)
	ledger, err := newDocLedger(store, collection, cfg.timeNow)
	if err != nil {
		return nil, err
	}

	return &DocRunner[H]{handle: handle, ledger: ledger, kind: cfg.kind, logger: cfg.logger}, nil
}

// Engine implements Runner.
func (r *DocRunner[H]) Engine() Engine {
	return EngineDocument
}

// SupportsAtomicApply implements Runner.
func (r *DocRunner[H]) SupportsAtomicApply() bool {
	return false
}

// Initialize implements Runner.
func (r *DocRunner[H]) Initialize(ctx context.Context) error {
	return r.ledger.ensure(ctx)
}

// LedgerExists implements Runner.
func (r *DocRunner[H]) LedgerExists(ctx context.Context) (bool, error) {
	return r.ledger.exists(ctx)
}

// ExecutedNames implements Runner.
func (r *DocRunner[H]) ExecutedNames(ctx context.Context) ([]string, error) {
	records, err := r.Records(ctx)
	if err != nil {
		return nil, err
	}
	return recordNames(records), nil
}

// Records returns the ledger entries, oldest first.
func (r *DocRunner[H]) Records(ctx context.Context) ([]Record, error) {
	return r.ledger.records(ctx)
}

// RunPending implements Runner.
func (r *DocRunner[H]) RunPending(ctx context.Context, declared []Unit[H]) ([]string, error) {
	if err := validate(declared); err != nil {
		return nil, err
	}
	executed, err := r.ExecutedNames(ctx)
	if err != nil {
		return nil, err
	}

	applied := []string{}
	for _, u := range Pending(declared, executed) {
		logger := r.logger.With("unit", u.Name)
		logger.Debug("applying")

		if err = u.Apply(ctx, r.handle); err != nil {
			return applied, ApplyError{
				Engine: EngineDocument, Kind: r.kind, Unit: u.Name,
				Direction: DirectionUp, Err: err,
			}
		}

		if err = r.ledger.insert(ctx, u.Name); err != nil {
			logger.Error("applied but not recorded; it will be applied again on the next run",
				"error", err)
			return applied, LedgerWriteError{
				Engine: EngineDocument, Kind: r.kind, Unit: u.Name,
				Direction: DirectionUp, Err: err,
			}
		}

		logger.Info("applied")
		applied = append(applied, u.Name)
	}

	return applied, nil
}

// Rollback implements Runner.
func (r *DocRunner[H]) Rollback(ctx context.Context, declared []Unit[H], steps int) ([]string, error) {
	if err := validate(declared); err != nil {
		return nil, err
	}
	executed, err := r.ExecutedNames(ctx)
	if err != nil {
		return nil, err
	}

	rolledBack := []string{}
	for _, u := range RollbackCandidates(declared, executed, steps) {
		logger := r.logger.With("unit", u.Name)
		logger.Debug("rolling back")

		if u.Rollback == nil {
			logger.Warn("no rollback function; only removing the ledger entry")
		} else if err = u.Rollback(ctx, r.handle); err != nil {
			return rolledBack, ApplyError{
				Engine: EngineDocument, Kind: r.kind, Unit: u.Name,
				Direction: DirectionDown, Err: err,
			}
		}

		if err = r.ledger.remove(ctx, u.Name); err != nil {
			logger.Error("rolled back but still recorded; its rollback will run again on the next run",
				"error", err)
			return rolledBack, LedgerWriteError{
				Engine: EngineDocument, Kind: r.kind, Unit: u.Name,
				Direction: DirectionDown, Err: err,
			}
		}

		logger.Info("rolled back")
		rolledBack = append(rolledBack, u.Name)
	}

	return rolledBack, nil
}
