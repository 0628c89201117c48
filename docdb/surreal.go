package docdb

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// Surreal is a Store backed by SurrealDB. Collections map to tables, validators
// to DEFINE FIELD statements and indexes to DEFINE INDEX statements.
type Surreal struct {
	db        *surrealdb.DB
	namespace string
	database  string
}

var _ Store = (*Surreal)(nil)

// SurrealOption configures the SurrealDB connection.
type SurrealOption func(*Surreal, *surrealdb.Auth)

// WithNamespace selects the namespace and database used by the store.
func WithNamespace(namespace, database string) SurrealOption {
	return func(s *Surreal, _ *surrealdb.Auth) {
		s.namespace = namespace
		s.database = database
	}
}

// WithCredentials sets the root credentials used to sign in.
func WithCredentials(username, password string) SurrealOption {
	return func(_ *Surreal, auth *surrealdb.Auth) {
		auth.Username = username
		auth.Password = password
	}
}

// OpenSurreal connects to the SurrealDB endpoint at url, signs in and selects
// the namespace and database.
func OpenSurreal(ctx context.Context, url string, opts ...SurrealOption) (*Surreal, error) {
	s := &Surreal{namespace: "roster", database: "roster"}
	auth := &surrealdb.Auth{}
	for _, opt := range opts {
		opt(s, auth)
	}

	db, err := surrealdb.FromEndpointURLString(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed connecting to SurrealDB at %s: %w", url, err)
	}
	s.db = db

	if auth.Username != "" {
		if _, err = db.SignIn(ctx, *auth); err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed signing in to SurrealDB: %w", err)
		}
	}

	if err = db.Use(ctx, s.namespace, s.database); err != nil {
		_ = db.Close(ctx)
		return nil, fmt.Errorf("failed selecting SurrealDB namespace %s database %s: %w",
			s.namespace, s.database, err)
	}

	return s, nil
}

// DefineCollection implements Store.
func (s *Surreal) DefineCollection(ctx context.Context, coll Collection) error {
	if err := ValidIdent(coll.Name); err != nil {
		return err
	}

	mode := "SCHEMALESS"
	if coll.Strict {
		mode = "SCHEMAFULL"
	}
	stmts := []string{fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s %s;", coll.Name, mode)}

	for _, f := range coll.Fields {
		if err := ValidIdent(f.Name); err != nil {
			return err
		}
		typ := f.Type
		if typ == "" {
			typ = "any"
		}
		if f.Optional && !strings.HasPrefix(typ, "option<") {
			typ = fmt.Sprintf("option<%s>", typ)
		}
		stmt := fmt.Sprintf("DEFINE FIELD IF NOT EXISTS %s ON TABLE %s TYPE %s", f.Name, coll.Name, typ)
		if f.Assert != "" {
			stmt += " ASSERT " + f.Assert
		}
		stmts = append(stmts, stmt+";")
	}

	return s.exec(ctx, strings.Join(stmts, "\n"), nil)
}

// DefineIndex implements Store.
func (s *Surreal) DefineIndex(ctx context.Context, idx Index) error {
	for _, name := range append([]string{idx.Name, idx.Collection}, idx.Fields...) {
		if err := ValidIdent(name); err != nil {
			return err
		}
	}

	stmt := fmt.Sprintf("DEFINE INDEX IF NOT EXISTS %s ON TABLE %s FIELDS %s",
		idx.Name, idx.Collection, strings.Join(idx.Fields, ", "))
	if idx.Unique {
		stmt += " UNIQUE"
	}

	return s.exec(ctx, stmt+";", nil)
}

// RemoveCollection implements Store.
func (s *Surreal) RemoveCollection(ctx context.Context, name string) error {
	// Table names can't be passed as parameters to REMOVE TABLE.
	if err := ValidIdent(name); err != nil {
		return err
	}
	return s.exec(ctx, fmt.Sprintf("REMOVE TABLE IF EXISTS %s;", name), nil)
}

// Collections implements Store.
func (s *Surreal) Collections(ctx context.Context) ([]string, error) {
	res, err := surrealdb.Query[map[string]any](ctx, s.db, "INFO FOR DB;", nil)
	if err != nil {
		return nil, QueryError{Statement: "INFO FOR DB", Err: err}
	}
	if res == nil || len(*res) == 0 {
		return []string{}, nil
	}

	tables, _ := (*res)[0].Result["tables"].(map[string]any)
	return slices.Sorted(maps.Keys(tables)), nil
}

// Upsert implements Store.
func (s *Surreal) Upsert(ctx context.Context, collection, id string, doc Document) error {
	content := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "id" {
			content[k] = toSurreal(v)
		}
	}

	return s.exec(ctx, "UPSERT type::thing($tb, $id) CONTENT $content;", map[string]any{
		"tb":      collection,
		"id":      id,
		"content": content,
	})
}

// Delete implements Store.
func (s *Surreal) Delete(ctx context.Context, collection, id string) error {
	return s.exec(ctx, "DELETE type::thing($tb, $id);", map[string]any{
		"tb": collection,
		"id": id,
	})
}

// Find implements Store.
func (s *Surreal) Find(ctx context.Context, collection string, filter map[string]any) ([]Document, error) {
	vars := map[string]any{"tb": collection}
	stmt := "SELECT * FROM type::table($tb)"

	conds := make([]string, 0, len(filter))
	for i, field := range slices.Sorted(maps.Keys(filter)) {
		if err := ValidIdent(field); err != nil {
			return nil, err
		}
		param := fmt.Sprintf("f%d", i)
		conds = append(conds, fmt.Sprintf("%s = $%s", field, param))
		vars[param] = toSurreal(filter[field])
	}
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += ";"

	res, err := surrealdb.Query[[]map[string]any](ctx, s.db, stmt, vars)
	if err != nil {
		return nil, QueryError{Statement: stmt, Err: err}
	}

	docs := []Document{}
	if res == nil || len(*res) == 0 {
		return docs, nil
	}
	for _, raw := range (*res)[0].Result {
		docs = append(docs, normalize(raw))
	}

	return docs, nil
}

// Close implements Store.
func (s *Surreal) Close(ctx context.Context) error {
	//nolint:wrapcheck // Nothing to add.
	return s.db.Close(ctx)
}

func (s *Surreal) exec(ctx context.Context, stmt string, vars map[string]any) error {
	res, err := surrealdb.Query[any](ctx, s.db, stmt, vars)
	if err != nil {
		return QueryError{Statement: stmt, Err: err}
	}
	if res == nil {
		return nil
	}
	for _, r := range *res {
		if r.Status != "OK" {
			return QueryError{Statement: stmt, Status: r.Status}
		}
	}

	return nil
}

// toSurreal converts plain Go values into the types SurrealDB expects on the
// wire.
func toSurreal(v any) any {
	if t, ok := v.(time.Time); ok {
		return models.CustomDateTime{Time: t}
	}
	return v
}

// normalize converts SurrealDB specific values into plain Go values, so that
// callers see the same shapes as with the memory store.
func normalize(raw map[string]any) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case models.RecordID:
			doc[k] = fmt.Sprint(val.ID)
		case *models.RecordID:
			doc[k] = fmt.Sprint(val.ID)
		case models.CustomDateTime:
			doc[k] = val.Time
		case *models.CustomDateTime:
			doc[k] = val.Time
		default:
			doc[k] = v
		}
	}
	return doc
}
