// Package store persists the four pipeline entities and the Task/Job pair
// on top of the storage engine. Each KB gets one logical table per entity
// kind, created lazily on first use. Cascading soft-deletes flow through a
// tagged DeleteEvent dispatched to every interested store, so no store
// calls a sibling directly.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docflowd/docflow/internal/engine"
)

// Sentinel errors. Check with errors.Is.
var (
	// ErrNotFound re-exports the engine sentinel for callers that never
	// touch the engine package directly.
	ErrNotFound = engine.ErrNotFound

	// ErrValidation indicates bad input at creation time. These are raised
	// synchronously to the caller, never swallowed into a status flag.
	ErrValidation = errors.New("validation failed")
)

// EntityKind tags a DeleteEvent with the kind of entity that was deleted.
type EntityKind string

const (
	KindDocSource EntityKind = "docsource"
	KindDocSink   EntityKind = "docsink"
	KindDocument  EntityKind = "document"
	KindTask      EntityKind = "task"
)

// DeleteEvent describes one soft-deleted entity. Stores that own dependent
// entities subscribe and cascade in turn.
type DeleteEvent struct {
	Kind EntityKind
	KBID string
	ID   string

	// DocSinkID is set on KindDocument events when tasks targeting the
	// owning sink must go too. The replacement path during re-ingestion
	// leaves it empty so the convert task producing the successor survives.
	DocSinkID string
}

type deleteHandler func(ctx context.Context, ev DeleteEvent) error

// Stores bundles every entity store over one engine and owns the cascade
// dispatcher connecting them.
type Stores struct {
	DocSources *DocSourceStore
	DocSinks   *DocSinkStore
	Documents  *DocumentStore
	Segments   *SegmentStore
	Tasks      *TaskStore
	Jobs       *JobStore

	eng      engine.Engine
	handlers []deleteHandler
}

// New wires all stores over the given engine. logDir is where job log files
// are allocated.
func New(eng engine.Engine, logDir string) *Stores {
	s := &Stores{eng: eng}
	s.DocSources = &DocSourceStore{base: base{eng: eng, dispatch: s.dispatchDelete}}
	s.DocSinks = &DocSinkStore{base: base{eng: eng, dispatch: s.dispatchDelete}}
	s.Documents = &DocumentStore{base: base{eng: eng, dispatch: s.dispatchDelete}}
	s.Segments = &SegmentStore{base: base{eng: eng, dispatch: s.dispatchDelete}}
	s.Tasks = &TaskStore{base: base{eng: eng, dispatch: s.dispatchDelete}}
	s.Jobs = &JobStore{base: base{eng: eng, dispatch: s.dispatchDelete}, logDir: logDir}

	s.handlers = []deleteHandler{
		s.DocSinks.onDelete,
		s.Documents.onDelete,
		s.Segments.onDelete,
		s.Tasks.onDelete,
		s.Jobs.onDelete,
	}
	return s
}

// dispatchDelete fans a deletion event out to every subscribed store.
func (s *Stores) dispatchDelete(ctx context.Context, ev DeleteEvent) error {
	slog.Debug("cascade delete", "kind", ev.Kind, "kb", ev.KBID, "id", ev.ID)
	for _, h := range s.handlers {
		if err := h(ctx, ev); err != nil {
			return fmt.Errorf("cascade %s %s: %w", ev.Kind, ev.ID, err)
		}
	}
	return nil
}

// kbRegistryTable records every KB the store has seen, so unscoped
// scheduler scans can enumerate them.
const kbRegistryTable = "kbs"

// RegisterKB records a KB id in the global registry. Idempotent.
func (s *Stores) RegisterKB(ctx context.Context, kbID string) error {
	if err := s.eng.CreateTableIfNotExists(ctx, kbRegistryTable); err != nil {
		return err
	}
	_, err := s.eng.Get(ctx, kbRegistryTable, kbID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, engine.ErrNotFound) {
		return err
	}
	return s.eng.Insert(ctx, kbRegistryTable, engine.Record{"id": kbID})
}

// ListKBs returns every registered KB id.
func (s *Stores) ListKBs(ctx context.Context) ([]string, error) {
	if err := s.eng.CreateTableIfNotExists(ctx, kbRegistryTable); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, kbRegistryTable, nil, engine.QueryOptions{OrderBy: "id"})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		if id, ok := rec["id"].(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Wipe hard-deletes every record of every entity kind in the given KB.
// Meant for tests and local resets; production deletion goes through the
// cascading soft-delete path.
func (s *Stores) Wipe(ctx context.Context, kbID string) error {
	suffixes := []string{
		docSourceSuffix, docSinkSuffix, documentSuffix,
		segmentSuffix, taskSuffix, jobSuffix,
	}
	for _, suffix := range suffixes {
		table := tableName(kbID, suffix)
		if err := s.eng.CreateTableIfNotExists(ctx, table); err != nil {
			return err
		}
		recs, err := s.eng.Query(ctx, table, nil, engine.QueryOptions{})
		if err != nil {
			return fmt.Errorf("wipe %s: %w", table, err)
		}
		for _, rec := range recs {
			id, ok := rec["id"].(string)
			if !ok {
				continue
			}
			if err := s.eng.Delete(ctx, table, id); err != nil {
				return fmt.Errorf("wipe %s: %w", table, err)
			}
		}
	}
	return nil
}

// base carries what every entity store needs: the engine handle and the
// cascade dispatch function.
type base struct {
	eng      engine.Engine
	dispatch func(ctx context.Context, ev DeleteEvent) error
}

// tableName builds the per-(KB, entity-kind) table name. KB ids may contain
// characters the engines reject as identifiers, so they are normalized; a
// "kb_" prefix keeps names starting with a digit valid.
func tableName(kbID, suffix string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, kbID)
	if sanitized == "" || !(sanitized[0] == '_' ||
		(sanitized[0] >= 'a' && sanitized[0] <= 'z') ||
		(sanitized[0] >= 'A' && sanitized[0] <= 'Z')) {
		sanitized = "kb_" + sanitized
	}
	return sanitized + "_" + suffix
}

func (b *base) ensureTable(ctx context.Context, table string) error {
	return b.eng.CreateTableIfNotExists(ctx, table)
}

// toRecord converts a model to an engine record via its json tags.
func toRecord(v any) (engine.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec engine.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// decodeRecord converts an engine record back into a model.
func decodeRecord[T any](rec engine.Record) (*T, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return out, nil
}

func decodeRecords[T any](recs []engine.Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		m, err := decodeRecord[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// notDeleted is the filter shared by every live-record query.
func notDeleted() engine.Filter {
	return engine.Eq("is_deleted", false)
}
