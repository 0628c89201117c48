package migrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.hackfix.me/roster/db"
	"go.hackfix.me/roster/db/types"
)

// SQLRunner runs units against the relational engine. Every unit gets its own
// pooled connection and transaction, which also covers the ledger write.
type SQLRunner struct {
	db     *db.DB
	ledger sqlLedger
	kind   Kind
	logger *slog.Logger
}

var _ Runner[types.Querier] = (*SQLRunner)(nil)

// NewSQLRunner returns a runner that records executed units in table.
func NewSQLRunner(d *db.DB, table string, opts ...RunnerOption) (*SQLRunner, error) {
	if d == nil {
		return nil, errors.New("relational database is required")
	}
	ledger, err := newSQLLedger(table)
	if err != nil {
		return nil, err
	}

	cfg := newRunnerConfig(EngineRelational, opts)

	return &SQLRunner{db: d, ledger: ledger, kind: cfg.kind, logger: cfg.logger}, nil
}

// Engine implements Runner.
func (r *SQLRunner) Engine() Engine {
	return EngineRelational
}

// SupportsAtomicApply implements Runner.
func (r *SQLRunner) SupportsAtomicApply() bool {
	return true
}

// Initialize implements Runner.
func (r *SQLRunner) Initialize(ctx context.Context) error {
	return r.ledger.ensure(ctx, r.db)
}

// LedgerExists implements Runner.
func (r *SQLRunner) LedgerExists(ctx context.Context) (bool, error) {
	return r.ledger.exists(ctx, r.db)
}

// ExecutedNames implements Runner.
func (r *SQLRunner) ExecutedNames(ctx context.Context) ([]string, error) {
	records, err := r.Records(ctx)
	if err != nil {
		return nil, err
	}
	return recordNames(records), nil
}

// Records returns the ledger entries, oldest first.
func (r *SQLRunner) Records(ctx context.Context) ([]Record, error) {
	return r.ledger.records(ctx, r.db)
}

// RunPending implements Runner.
func (r *SQLRunner) RunPending(ctx context.Context, declared []Unit[types.Querier]) ([]string, error) {
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

		err = r.inTx(ctx, func(tx *db.Tx) error {
			if err := u.Apply(ctx, tx); err != nil {
				return err
			}
			return r.ledger.insert(ctx, tx, u.Name)
		})
		if err != nil {
			return applied, ApplyError{
				Engine: EngineRelational, Kind: r.kind, Unit: u.Name,
				Direction: DirectionUp, Err: err,
			}
		}

		logger.Info("applied")
		applied = append(applied, u.Name)
	}

	return applied, nil
}

// Rollback implements Runner.
func (r *SQLRunner) Rollback(ctx context.Context, declared []Unit[types.Querier], steps int) ([]string, error) {
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

		err = r.inTx(ctx, func(tx *db.Tx) error {
			if u.Rollback == nil {
				logger.Warn("no rollback function; only removing the ledger entry")
			} else if err := u.Rollback(ctx, tx); err != nil {
				return err
			}
			return r.ledger.remove(ctx, tx, u.Name)
		})
		if err != nil {
			return rolledBack, ApplyError{
				Engine: EngineRelational, Kind: r.kind, Unit: u.Name,
				Direction: DirectionDown, Err: err,
			}
		}

		logger.Info("rolled back")
		rolledBack = append(rolledBack, u.Name)
	}

	return rolledBack, nil
}

// inTx acquires a connection from the pool, runs fn in a transaction on it and
// releases the connection. The transaction is rolled back if fn or the commit
// fails.
func (r *SQLRunner) inTx(ctx context.Context, fn func(tx *db.Tx) error) (rerr error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed acquiring connection: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed releasing connection: %w", err)
		}
	}()

	sqlTx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}

	if err = fn(r.db.WrapTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			r.logger.Error("failed rolling back transaction", "error", rbErr)
		}
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed committing transaction: %w", err)
	}

	return nil
}
