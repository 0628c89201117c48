package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"time"

	"github.com/nrednav/cuid2"

	"go.hackfix.me/roster/db"
	"go.hackfix.me/roster/db/types"
)

// Locker provides mutual exclusion for pipeline runs across processes.
type Locker interface {
	// Acquire obtains the lock for key without waiting. The returned release
	// function must be called to release the lock. A LockedError is returned if
	// the lock is held elsewhere.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NewLocker returns the Locker suited for the dialect of d. SQLite locks older
// than staleAfter are taken over; zero disables the takeover.
//
//nolint:ireturn // Implementation depends on the dialect.
func NewLocker(d *db.DB, staleAfter time.Duration, logger *slog.Logger) Locker {
	if d.Dialect() == types.DialectPostgres {
		return NewPostgresLock(d)
	}
	return NewSQLiteLock(d, staleAfter, logger)
}

// NopLock is a Locker that never blocks. It's meant for tests and single
// process setups.
type NopLock struct{}

// Acquire implements Locker.
func (NopLock) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}

// PostgresLock implements Locker using session-level PostgreSQL advisory
// locks. The session's connection is held until release.
type PostgresLock struct {
	db *db.DB
}

// NewPostgresLock creates a new PostgresLock.
func NewPostgresLock(d *db.DB) *PostgresLock {
	return &PostgresLock{db: d}
}

// Acquire implements Locker.
func (l *PostgresLock) Acquire(ctx context.Context, key string) (func(), error) {
	lockID := hashLockKey(key)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed acquiring connection for lock: %w", err)
	}

	var ok bool
	err = conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&ok)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
	}
	if !ok {
		_ = conn.Close()
		return nil, LockedError{Key: key}
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
		_ = conn.Close()
	}

	return release, nil
}

// SQLiteLock implements Locker with a row in the internal _locks table. Every
// process gets a unique owner token, so a release never removes a lock taken
// over by someone else.
type SQLiteLock struct {
	db         *db.DB
	staleAfter time.Duration
	newOwner   func() string
	logger     *slog.Logger
}

// NewSQLiteLock creates a new SQLiteLock.
func NewSQLiteLock(d *db.DB, staleAfter time.Duration, logger *slog.Logger) *SQLiteLock {
	return &SQLiteLock{
		db:         d,
		staleAfter: staleAfter,
		newOwner:   cuid2.Generate,
		logger:     logger.With("component", "lock"),
	}
}

func (l *SQLiteLock) ensure(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _locks (
		key TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		acquired_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed creating lock table: %w", err)
	}
	return nil
}

// Acquire implements Locker.
func (l *SQLiteLock) Acquire(ctx context.Context, key string) (func(), error) {
	if err := l.ensure(ctx); err != nil {
		return nil, err
	}

	owner := l.newOwner()
	err := l.insert(ctx, key, owner)
	if types.IsUniqueViolation(err) {
		err = l.takeOverStale(ctx, key, owner)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug("acquired lock", "key", key, "owner", owner)

	release := func() {
		_, rerr := l.db.ExecContext(context.Background(),
			`DELETE FROM _locks WHERE key = ? AND owner = ?`, key, owner)
		if rerr != nil {
			l.logger.Error("failed releasing lock", "key", key, "error", rerr)
			return
		}
		l.logger.Debug("released lock", "key", key, "owner", owner)
	}

	return release, nil
}

// ForceRelease removes the lock for key regardless of its owner.
func (l *SQLiteLock) ForceRelease(ctx context.Context, key string) (bool, error) {
	if err := l.ensure(ctx); err != nil {
		return false, err
	}

	res, err := l.db.ExecContext(ctx, `DELETE FROM _locks WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("failed removing lock %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed getting affected rows: %w", err)
	}

	return n > 0, nil
}

func (l *SQLiteLock) insert(ctx context.Context, key, owner string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO _locks (key, owner, acquired_at) VALUES (?, ?, ?)`,
		key, owner, l.db.TimeNow().UTC())
	//nolint:wrapcheck // Inspected by the caller.
	return err
}

func (l *SQLiteLock) takeOverStale(ctx context.Context, key, owner string) error {
	var (
		heldBy     string
		acquiredAt time.Time
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT owner, acquired_at FROM _locks WHERE key = ?`, key).Scan(&heldBy, &acquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Released in the meantime.
		return l.insert(ctx, key, owner)
	}
	if err != nil {
		return fmt.Errorf("failed reading lock %s: %w", key, err)
	}

	age := l.db.TimeNow().Sub(acquiredAt)
	if l.staleAfter <= 0 || age < l.staleAfter {
		return LockedError{Key: key, Owner: heldBy, AcquiredAt: acquiredAt}
	}

	l.logger.Warn("taking over stale lock", "key", key, "previous_owner", heldBy, "age", age)
	res, err := l.db.ExecContext(ctx, `DELETE FROM _locks WHERE key = ? AND owner = ?`, key, heldBy)
	if err != nil {
		return fmt.Errorf("failed removing stale lock %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return LockedError{Key: key, Owner: heldBy, AcquiredAt: acquiredAt}
	}

	return l.insert(ctx, key, owner)
}

// hashLockKey produces a stable int64 from a string key for use with
// pg_advisory_lock.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // Intentional truncation.
}
