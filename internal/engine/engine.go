// Package engine provides the storage primitives every store is built on:
// create-on-demand logical tables, typed CRUD with filter predicates, and
// single-writer mutual exclusion per table. Backends are selected through a
// compile-time registry, never by reflection.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested record does not exist. An empty query
// result is not an error; use errors.Is to distinguish the two.
var ErrNotFound = errors.New("record not found")

// Record is one persisted row. List-valued fields are stored as JSON arrays.
type Record = map[string]any

// Op is a filter comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
)

// Filter is a predicate on a top-level record field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq builds an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Ne builds an inequality filter.
func Ne(field string, value any) Filter {
	return Filter{Field: field, Op: OpNe, Value: value}
}

// QueryOptions tunes a Query call.
type QueryOptions struct {
	// OrderBy names a record field to sort on; empty means backend order.
	OrderBy    string
	Descending bool
	// Limit caps the number of returned records; 0 means no limit.
	Limit int
}

// Engine is the per-backend key/record store. Implementations must be safe
// for concurrent use; mutating calls on the same table are serialized by the
// implementation.
type Engine interface {
	// CreateTableIfNotExists makes the logical table usable. Concurrent calls
	// for the same table from multiple goroutines must result in exactly one
	// table and no errors.
	CreateTableIfNotExists(ctx context.Context, table string) error

	// CreateIndexIfNotExists asks the backend for a secondary index on the
	// given fields. Backends without native indexes may treat this as a no-op.
	CreateIndexIfNotExists(ctx context.Context, table string, fields ...string) error

	// Insert stores a new record. The record must carry a string "id" field.
	Insert(ctx context.Context, table string, rec Record) error

	// Update replaces the full record with the given id.
	// Returns ErrNotFound if no such record exists.
	Update(ctx context.Context, table, id string, rec Record) error

	// Get fetches one record by id. Returns ErrNotFound if absent.
	Get(ctx context.Context, table, id string) (Record, error)

	// Query returns all records matching every filter. No matches yields an
	// empty slice, not an error.
	Query(ctx context.Context, table string, filters []Filter, opts QueryOptions) ([]Record, error)

	// Delete removes a record permanently. Soft deletes are a store-level
	// concern implemented via Update.
	Delete(ctx context.Context, table, id string) error

	Close() error
}

// Backend names a registered engine implementation.
type Backend string

const (
	BackendSQLite  Backend = "sqlite"
	BackendBadger  Backend = "badger"
	BackendSurreal Backend = "surreal"
)

// Config carries connection settings for all backends; each backend reads
// the fields it needs.
type Config struct {
	Backend Backend

	// sqlite
	SQLitePath string

	// badger
	BadgerDir      string
	BadgerInMemory bool

	// surreal
	SurrealURL       string
	SurrealNamespace string
	SurrealDatabase  string
	SurrealUser      string
	SurrealPass      string
}

// Constructor builds an Engine from config.
type Constructor func(Config) (Engine, error)

var registry = map[Backend]Constructor{
	BackendSQLite:  newSQLiteEngine,
	BackendBadger:  newBadgerEngine,
	BackendSurreal: newSurrealEngine,
}

// Open constructs the engine named by cfg.Backend.
func Open(cfg Config) (Engine, error) {
	ctor, ok := registry[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	return ctor(cfg)
}

// recordID extracts the mandatory string id field.
func recordID(rec Record) (string, error) {
	v, ok := rec["id"]
	if !ok {
		return "", fmt.Errorf("record has no id field")
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", fmt.Errorf("record id must be a non-empty string, got %T", v)
	}
	return id, nil
}

// matches evaluates all filters against a record in memory. Used by backends
// without a native query language.
func matches(rec Record, filters []Filter) bool {
	for _, f := range filters {
		got, ok := rec[f.Field]
		switch f.Op {
		case OpEq:
			if !ok || !looseEqual(got, f.Value) {
				return false
			}
		case OpNe:
			if ok && looseEqual(got, f.Value) {
				return false
			}
		}
	}
	return true
}

// looseEqual compares values that went through a JSON round trip, so numeric
// types are compared by value and everything else by string form.
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
