package docdb

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. Field types and unique indexes are enforced;
// Assert expressions are not evaluated.
type Memory struct {
	mx    sync.RWMutex
	colls map[string]*memCollection
}

type memCollection struct {
	def     Collection
	indexes map[string]Index
	docs    map[string]Document
	order   []string
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-process Store.
func NewMemory() *Memory {
	return &Memory{colls: map[string]*memCollection{}}
}

// DefineCollection implements Store.
func (m *Memory) DefineCollection(_ context.Context, coll Collection) error {
	if err := ValidIdent(coll.Name); err != nil {
		return err
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	c, ok := m.colls[coll.Name]
	if !ok {
		m.colls[coll.Name] = newMemCollection(coll)
		return nil
	}
	// Implicitly created by a write; attach the validator now.
	if len(c.def.Fields) == 0 && !c.def.Strict {
		c.def = coll
	}

	return nil
}

// DefineIndex implements Store.
func (m *Memory) DefineIndex(_ context.Context, idx Index) error {
	if err := ValidIdent(idx.Name); err != nil {
		return err
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	c := m.collection(idx.Collection)
	if _, ok := c.indexes[idx.Name]; ok {
		return nil
	}
	if idx.Unique {
		seen := map[string]string{}
		for _, id := range c.order {
			key := indexKey(c.docs[id], idx.Fields)
			if other, dup := seen[key]; dup && other != id {
				return UniqueViolationError{Collection: idx.Collection, Index: idx.Name, Value: key}
			}
			seen[key] = id
		}
	}
	c.indexes[idx.Name] = idx

	return nil
}

// RemoveCollection implements Store.
func (m *Memory) RemoveCollection(_ context.Context, name string) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	delete(m.colls, name)
	return nil
}

// Collections implements Store.
func (m *Memory) Collections(_ context.Context) ([]string, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()
	return slices.Sorted(maps.Keys(m.colls)), nil
}

// Upsert implements Store.
func (m *Memory) Upsert(_ context.Context, collection, id string, doc Document) error {
	if id == "" {
		return fmt.Errorf("document ID is required for %s", collection)
	}

	m.mx.Lock()
	defer m.mx.Unlock()

	c := m.collection(collection)
	stored := maps.Clone(doc)
	if stored == nil {
		stored = Document{}
	}
	stored["id"] = id

	if err := c.validate(stored); err != nil {
		return err
	}
	for _, idx := range c.indexes {
		if !idx.Unique {
			continue
		}
		key := indexKey(stored, idx.Fields)
		for _, otherID := range c.order {
			if otherID != id && indexKey(c.docs[otherID], idx.Fields) == key {
				return UniqueViolationError{Collection: collection, Index: idx.Name, Value: key}
			}
		}
	}

	if _, ok := c.docs[id]; !ok {
		c.order = append(c.order, id)
	}
	c.docs[id] = stored

	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, collection, id string) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	c, ok := m.colls[collection]
	if !ok {
		return nil
	}
	if _, ok = c.docs[id]; !ok {
		return nil
	}
	delete(c.docs, id)
	c.order = slices.DeleteFunc(c.order, func(o string) bool { return o == id })

	return nil
}

// Find implements Store.
func (m *Memory) Find(_ context.Context, collection string, filter map[string]any) ([]Document, error) {
	m.mx.RLock()
	defer m.mx.RUnlock()

	c, ok := m.colls[collection]
	if !ok {
		return []Document{}, nil
	}

	docs := make([]Document, 0, len(c.order))
	for _, id := range c.order {
		doc := c.docs[id]
		if matches(doc, filter) {
			docs = append(docs, maps.Clone(doc))
		}
	}

	return docs, nil
}

// Close implements Store.
func (m *Memory) Close(context.Context) error {
	return nil
}

// collection returns the named collection, creating a schemaless one if it
// doesn't exist. The caller must hold the write lock.
func (m *Memory) collection(name string) *memCollection {
	c, ok := m.colls[name]
	if !ok {
		c = newMemCollection(Collection{Name: name})
		m.colls[name] = c
	}
	return c
}

func newMemCollection(def Collection) *memCollection {
	return &memCollection{
		def:     def,
		indexes: map[string]Index{},
		docs:    map[string]Document{},
	}
}

func (c *memCollection) validate(doc Document) error {
	declared := make(map[string]struct{}, len(c.def.Fields))
	for _, f := range c.def.Fields {
		declared[f.Name] = struct{}{}
		v, ok := doc[f.Name]
		if !ok || v == nil {
			if !f.Optional {
				return ValidationError{Collection: c.def.Name, Field: f.Name, Msg: "is required"}
			}
			continue
		}
		if !hasType(v, f.Type) {
			return ValidationError{
				Collection: c.def.Name, Field: f.Name,
				Msg: fmt.Sprintf("must be of type %s, got %T", f.Type, v),
			}
		}
	}

	if c.def.Strict {
		for k := range doc {
			if _, ok := declared[k]; !ok && k != "id" {
				return ValidationError{Collection: c.def.Name, Field: k, Msg: "is not declared"}
			}
		}
	}

	return nil
}

func hasType(v any, typ string) bool {
	if strings.HasPrefix(typ, "option<") {
		typ = strings.TrimSuffix(strings.TrimPrefix(typ, "option<"), ">")
	}
	rv := reflect.ValueOf(v)
	switch typ {
	case "", "any":
		return true
	case "string":
		return rv.Kind() == reflect.String
	case "bool":
		return rv.Kind() == reflect.Bool
	case "int":
		return rv.CanInt() || rv.CanUint()
	case "float", "number":
		return rv.CanInt() || rv.CanUint() || rv.CanFloat()
	case "datetime":
		_, ok := v.(time.Time)
		return ok
	case "object":
		return rv.Kind() == reflect.Map
	case "array":
		return rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array
	default:
		return true
	}
}

func matches(doc Document, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := doc[k]
		if !ok || !equalValues(got, want) {
			return false
		}
	}
	return true
}

// equalValues compares two field values, treating numbers of different Go
// types as equal if they represent the same value.
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	default:
		return 0, false
	}
}

func indexKey(doc Document, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		v := doc[f]
		if fv, ok := toFloat(v); ok {
			parts[i] = fmt.Sprint(fv)
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
