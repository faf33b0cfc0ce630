package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/docflowd/docflow/internal/engine"
	"github.com/docflowd/docflow/internal/models"
)

const docSinkSuffix = "docsinks"

// DocSinkStore persists content-addressed raw artifacts. At most one live
// sink exists per content hash within a KB; when no hash is supplied, at
// most one per (original URI, raw URI) pair.
type DocSinkStore struct {
	base
}

// CreateDocSink deduplicates before inserting. Priority order:
//  1. same content hash in the KB: merge the new back-references into the
//     existing sink (set-union, so replays are idempotent) and return it.
//  2. same (original URI, raw URI): return the existing sink unchanged.
//  3. otherwise insert a fresh sink with status CREATED.
//
// The second return value reports whether a new sink was inserted, which is
// what decides whether downstream conversion work is scheduled.
func (s *DocSinkStore) CreateDocSink(ctx context.Context, in models.DocSinkCreate) (*models.DocSink, bool, error) {
	if in.KBID == "" || in.DocSourceID == "" {
		return nil, false, fmt.Errorf("%w: kb id and docsource id required", ErrValidation)
	}
	if in.OriginalDocURI == "" || in.RawDocURI == "" {
		return nil, false, fmt.Errorf("%w: original and raw doc uris required", ErrValidation)
	}

	table := tableName(in.KBID, docSinkSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, false, err
	}

	if in.ContentHash != "" {
		recs, err := s.eng.Query(ctx, table, []engine.Filter{
			engine.Eq("content_hash", in.ContentHash),
			notDeleted(),
		}, engine.QueryOptions{})
		if err != nil {
			return nil, false, err
		}
		if len(recs) > 0 {
			sink, err := decodeRecord[models.DocSink](recs[0])
			if err != nil {
				return nil, false, err
			}
			return s.merge(ctx, sink, in)
		}
	}

	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("original_doc_uri", in.OriginalDocURI),
		engine.Eq("raw_doc_uri", in.RawDocURI),
		notDeleted(),
	}, engine.QueryOptions{})
	if err != nil {
		return nil, false, err
	}
	if len(recs) > 0 {
		sink, err := decodeRecord[models.DocSink](recs[0])
		if err != nil {
			return nil, false, err
		}
		return sink, false, nil
	}

	now := time.Now().UTC()
	sink := &models.DocSink{
		ID:             uuid.New().String(),
		DocSourceID:    in.DocSourceID,
		KBID:           in.KBID,
		OriginalDocURI: in.OriginalDocURI,
		RawDocURI:      in.RawDocURI,
		ContentHash:    in.ContentHash,
		Size:           in.Size,
		Status:         models.DocSinkCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	rec, err := toRecord(sink)
	if err != nil {
		return nil, false, err
	}
	if err := s.eng.Insert(ctx, table, rec); err != nil {
		return nil, false, err
	}
	return sink, true, nil
}

// merge records a second source of byte-identical content on an existing
// sink. No reprocessing is triggered.
func (s *DocSinkStore) merge(ctx context.Context, sink *models.DocSink, in models.DocSinkCreate) (*models.DocSink, bool, error) {
	changed := false
	if in.DocSourceID != sink.DocSourceID && !slices.Contains(sink.ExtraDocSourceID, in.DocSourceID) {
		sink.ExtraDocSourceID = append(sink.ExtraDocSourceID, in.DocSourceID)
		changed = true
	}
	if in.OriginalDocURI != sink.OriginalDocURI && !slices.Contains(sink.ExtraOriginalDocURI, in.OriginalDocURI) {
		sink.ExtraOriginalDocURI = append(sink.ExtraOriginalDocURI, in.OriginalDocURI)
		changed = true
	}
	if !changed {
		return sink, false, nil
	}
	sink.UpdatedAt = time.Now().UTC()
	if err := s.update(ctx, sink); err != nil {
		return nil, false, err
	}
	return sink, false, nil
}

// Get returns a DocSink by id.
func (s *DocSinkStore) Get(ctx context.Context, kbID, id string) (*models.DocSink, error) {
	table := tableName(kbID, docSinkSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.eng.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord[models.DocSink](rec)
}

// ListForDocSource returns live sinks whose primary source is the given id.
func (s *DocSinkStore) ListForDocSource(ctx context.Context, kbID, docSourceID string) ([]*models.DocSink, error) {
	table := tableName(kbID, docSinkSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("docsource_uuid", docSourceID),
		notDeleted(),
	}, engine.QueryOptions{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	return decodeRecords[models.DocSink](recs)
}

// SetStatus transitions a sink.
func (s *DocSinkStore) SetStatus(ctx context.Context, kbID, id string, status models.DocSinkStatus) error {
	sink, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	sink.Status = status
	sink.UpdatedAt = time.Now().UTC()
	return s.update(ctx, sink)
}

func (s *DocSinkStore) update(ctx context.Context, sink *models.DocSink) error {
	rec, err := toRecord(sink)
	if err != nil {
		return err
	}
	return s.eng.Update(ctx, tableName(sink.KBID, docSinkSuffix), sink.ID, rec)
}

// Delete soft-deletes one sink and cascades to its Documents and Tasks.
func (s *DocSinkStore) Delete(ctx context.Context, kbID, id string) error {
	sink, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	if sink.IsDeleted {
		return nil
	}
	sink.IsDeleted = true
	sink.UpdatedAt = time.Now().UTC()
	if err := s.update(ctx, sink); err != nil {
		return err
	}
	return s.dispatch(ctx, DeleteEvent{Kind: KindDocSink, KBID: kbID, ID: id})
}

// onDelete cascades DocSource deletions onto the sinks they own.
func (s *DocSinkStore) onDelete(ctx context.Context, ev DeleteEvent) error {
	if ev.Kind != KindDocSource {
		return nil
	}
	sinks, err := s.ListForDocSource(ctx, ev.KBID, ev.ID)
	if err != nil {
		return err
	}
	for _, sink := range sinks {
		if err := s.Delete(ctx, ev.KBID, sink.ID); err != nil {
			return err
		}
	}
	return nil
}
