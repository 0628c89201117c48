package migrator

import (
	"fmt"
	"time"
)

// ApplyError is returned when the apply or rollback body of a unit fails. For
// the relational engine it also covers failures of the ledger write and the
// commit, since those happen within the unit's transaction.
type ApplyError struct {
	Engine    Engine
	Kind      Kind
	Unit      string
	Direction Direction
	Err       error
}

func (e ApplyError) Error() string {
	verb := "applying"
	if e.Direction == DirectionDown {
		verb = "rolling back"
	}
	return fmt.Sprintf("failed %s %s %s %s: %s", verb, e.Engine, e.Kind, e.Unit, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ApplyError) Unwrap() error {
	return e.Err
}

// LedgerWriteError is returned when a unit's mutation succeeded, but recording
// it in (or removing it from) the ledger failed. Only engines without atomic
// apply can produce it; the mutation stays in place.
type LedgerWriteError struct {
	Engine    Engine
	Kind      Kind
	Unit      string
	Direction Direction
	Err       error
}

func (e LedgerWriteError) Error() string {
	return fmt.Sprintf("%s %s %s was %s, but the ledger write failed: %s",
		e.Engine, e.Kind, e.Unit, e.Direction.past(), e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e LedgerWriteError) Unwrap() error {
	return e.Err
}

// DuplicateNameError is returned when a declared list contains the same unit
// name more than once.
type DuplicateNameError struct {
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("unit name '%s' is declared more than once", e.Name)
}

// LockedError is returned when another process holds the migration lock.
type LockedError struct {
	Key        string
	Owner      string
	AcquiredAt time.Time
}

func (e LockedError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("lock '%s' is held by another process", e.Key)
	}
	return fmt.Sprintf("lock '%s' is held by %s since %s",
		e.Key, e.Owner, e.AcquiredAt.Format(time.RFC3339))
}
