package docdb

import "fmt"

// UniqueViolationError is returned when a write would duplicate the values of
// a unique index.
type UniqueViolationError struct {
	Collection string
	Index      string
	Value      string
}

func (e UniqueViolationError) Error() string {
	return fmt.Sprintf("duplicate value %s in unique index %s on %s", e.Value, e.Index, e.Collection)
}

// ValidationError is returned when a document doesn't satisfy the validator of
// its collection.
type ValidationError struct {
	Collection string
	Field      string
	Msg        string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid document for %s: field %s %s", e.Collection, e.Field, e.Msg)
}

// QueryError is returned when the engine rejects a statement.
type QueryError struct {
	Statement string
	Status    string
	Err       error
}

func (e QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query failed: %s", e.Err)
	}
	return fmt.Sprintf("query failed with status %s", e.Status)
}

// Unwrap returns the underlying error for error unwrapping.
func (e QueryError) Unwrap() error {
	return e.Err
}
