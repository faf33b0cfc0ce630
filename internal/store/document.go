package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docflowd/docflow/internal/engine"
	"github.com/docflowd/docflow/internal/models"
)

const documentSuffix = "documents"

// DocumentStore persists the normalized form of DocSinks. The store never
// holds two live Documents for one sink: re-ingestion soft-deletes the old
// Document (cascading to its segments and tasks) before inserting the new
// one. Prior summaries and keywords are discarded wholesale even when the
// content is unchanged; correctness over reuse.
type DocumentStore struct {
	base
}

// DocumentCreate carries the converter's output for one sink.
type DocumentCreate struct {
	KBID         string
	DocSinkID    string
	DocSourceIDs []string
	Content      string
	DocURI       string
	OriginalURI  string
}

// Create inserts a new Document after soft-deleting any live predecessor
// for the same sink. Both stage statuses start at CREATED.
func (s *DocumentStore) Create(ctx context.Context, in DocumentCreate) (*models.Document, error) {
	if in.KBID == "" || in.DocSinkID == "" {
		return nil, fmt.Errorf("%w: kb id and docsink id required", ErrValidation)
	}

	existing, err := s.ListForDocSink(ctx, in.KBID, in.DocSinkID)
	if err != nil {
		return nil, err
	}
	for _, doc := range existing {
		// The predecessor's delete must not reach tasks targeting the sink:
		// the convert task creating this very document is one of them.
		if err := s.delete(ctx, in.KBID, doc.ID, false); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	doc := &models.Document{
		ID:           uuid.New().String(),
		DocSinkID:    in.DocSinkID,
		DocSourceIDs: in.DocSourceIDs,
		KBID:         in.KBID,
		Content:      in.Content,
		DocURI:       in.DocURI,
		OriginalURI:  in.OriginalURI,
		SplitStatus:  models.StageCreated,
		EmbedStatus:  models.StageCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	table := tableName(in.KBID, documentSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rec, err := toRecord(doc)
	if err != nil {
		return nil, err
	}
	if err := s.eng.Insert(ctx, table, rec); err != nil {
		return nil, err
	}
	return doc, nil
}

// Get returns a Document by id.
func (s *DocumentStore) Get(ctx context.Context, kbID, id string) (*models.Document, error) {
	table := tableName(kbID, documentSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.eng.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord[models.Document](rec)
}

// ListForDocSink returns the live Documents of a sink. The store invariant
// keeps this at zero or one entries.
func (s *DocumentStore) ListForDocSink(ctx context.Context, kbID, docSinkID string) ([]*models.Document, error) {
	table := tableName(kbID, documentSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("docsink_uuid", docSinkID),
		notDeleted(),
	}, engine.QueryOptions{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	return decodeRecords[models.Document](recs)
}

// SetSplitStatus updates the split stage status.
func (s *DocumentStore) SetSplitStatus(ctx context.Context, kbID, id string, status models.StageStatus) error {
	return s.mutate(ctx, kbID, id, func(doc *models.Document) {
		doc.SplitStatus = status
	})
}

// SetEmbedStatus updates the embed stage status.
func (s *DocumentStore) SetEmbedStatus(ctx context.Context, kbID, id string, status models.StageStatus) error {
	return s.mutate(ctx, kbID, id, func(doc *models.Document) {
		doc.EmbedStatus = status
	})
}

// SetMetadata replaces the extracted summary/keywords/authors metadata.
func (s *DocumentStore) SetMetadata(ctx context.Context, kbID, id, summary string, keywords, authors []string) error {
	return s.mutate(ctx, kbID, id, func(doc *models.Document) {
		doc.Summary = summary
		doc.Keywords = keywords
		doc.Authors = authors
	})
}

func (s *DocumentStore) mutate(ctx context.Context, kbID, id string, fn func(*models.Document)) error {
	doc, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	fn(doc)
	doc.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}
	return s.eng.Update(ctx, tableName(kbID, documentSuffix), id, rec)
}

// Delete soft-deletes a Document and cascades to its Segments and to Tasks
// referencing the document or its owning sink.
func (s *DocumentStore) Delete(ctx context.Context, kbID, id string) error {
	return s.delete(ctx, kbID, id, true)
}

func (s *DocumentStore) delete(ctx context.Context, kbID, id string, cascadeSinkTasks bool) error {
	doc, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	if doc.IsDeleted {
		return nil
	}
	doc.IsDeleted = true
	doc.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(doc)
	if err != nil {
		return err
	}
	if err := s.eng.Update(ctx, tableName(kbID, documentSuffix), id, rec); err != nil {
		return err
	}
	ev := DeleteEvent{Kind: KindDocument, KBID: kbID, ID: id}
	if cascadeSinkTasks {
		ev.DocSinkID = doc.DocSinkID
	}
	return s.dispatch(ctx, ev)
}

// onDelete cascades DocSink deletions onto their Documents.
func (s *DocumentStore) onDelete(ctx context.Context, ev DeleteEvent) error {
	if ev.Kind != KindDocSink {
		return nil
	}
	docs, err := s.ListForDocSink(ctx, ev.KBID, ev.ID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := s.Delete(ctx, ev.KBID, doc.ID); err != nil {
			return err
		}
	}
	return nil
}
