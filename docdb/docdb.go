// Package docdb provides access to the document engine.
//
// The engine offers no transaction spanning multiple requests, so every
// mutation exposed here is written to be safe to replay: collection and index
// definitions are existence-guarded and document writes are upserts.
package docdb

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Document is a single schema-flexible record. The "id" key holds the record
// identifier within its collection.
type Document map[string]any

// ID returns the document identifier, or an empty string if it's unset.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Field describes a typed field of a collection, enforced by the engine.
type Field struct {
	Name string
	// Type is the engine type name, e.g. "string", "int", "datetime", "object".
	Type     string
	Optional bool
	// Assert is an optional engine expression every value must satisfy.
	Assert string
}

// Collection describes a collection and its validator.
type Collection struct {
	Name string
	// Strict rejects fields that aren't declared in Fields.
	Strict bool
	Fields []Field
}

// Index describes a secondary index on a collection.
type Index struct {
	Name       string
	Collection string
	Fields     []string
	Unique     bool
}

// Store is the interface to the document engine. Implementations must be safe
// for sequential use by a single caller; the runners never issue concurrent
// requests.
type Store interface {
	// DefineCollection creates the collection and its validator if it doesn't
	// exist yet.
	DefineCollection(ctx context.Context, coll Collection) error
	// DefineIndex creates the index if it doesn't exist yet.
	DefineIndex(ctx context.Context, idx Index) error
	// RemoveCollection drops the collection with all its documents and indexes,
	// if it exists.
	RemoveCollection(ctx context.Context, name string) error
	// Collections returns the names of all collections, sorted.
	Collections(ctx context.Context) ([]string, error)
	// Upsert writes doc under id, replacing any existing document.
	Upsert(ctx context.Context, collection, id string, doc Document) error
	// Delete removes the document with id. Deleting a missing document is not
	// an error.
	Delete(ctx context.Context, collection, id string) error
	// Find returns documents whose fields equal all values in filter. A nil
	// filter matches every document.
	Find(ctx context.Context, collection string, filter map[string]any) ([]Document, error)
	// Close releases the connection to the engine.
	Close(ctx context.Context) error
}

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdent returns an error if name can't be safely used as a collection,
// field or index identifier.
func ValidIdent(name string) error {
	if !identRx.MatchString(name) {
		return fmt.Errorf("invalid identifier '%s'", name)
	}
	return nil
}

// Open connects to the document engine at url. The special URL "memory://"
// returns an in-process store, useful for tests and local experiments.
//
//nolint:ireturn // Backend is chosen at runtime.
func Open(ctx context.Context, url string, opts ...SurrealOption) (Store, error) {
	if url == "" || strings.HasPrefix(url, "memory://") {
		return NewMemory(), nil
	}

	return OpenSurreal(ctx, url, opts...)
}
