package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docflowd/docflow/internal/engine"
	"github.com/docflowd/docflow/internal/models"
)

const docSourceSuffix = "docsources"

// DocSourceStore persists configured external origins. Status transitions
// are driven only by the scheduler and task runner; callers just create,
// read and delete.
type DocSourceStore struct {
	base
}

// CreateInput carries caller-provided DocSource attributes.
type DocSourceCreate struct {
	KBID         string
	SourceType   models.SourceType
	URI          string
	IngestConfig map[string]any
	Tags         []string
}

// Create validates and inserts a new DocSource with status CREATED.
func (s *DocSourceStore) Create(ctx context.Context, in DocSourceCreate) (*models.DocSource, error) {
	if in.KBID == "" {
		return nil, fmt.Errorf("%w: kb id required", ErrValidation)
	}
	if in.URI == "" {
		return nil, fmt.Errorf("%w: uri required", ErrValidation)
	}
	switch in.SourceType {
	case models.SourceFile, models.SourceURL, models.SourceSearch, models.SourceNotion:
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", ErrValidation, in.SourceType)
	}

	now := time.Now().UTC()
	src := &models.DocSource{
		ID:           uuid.New().String(),
		KBID:         in.KBID,
		SourceType:   in.SourceType,
		URI:          in.URI,
		IngestConfig: in.IngestConfig,
		Tags:         in.Tags,
		Status:       models.DocSourceCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	table := tableName(in.KBID, docSourceSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rec, err := toRecord(src)
	if err != nil {
		return nil, err
	}
	if err := s.eng.Insert(ctx, table, rec); err != nil {
		return nil, err
	}
	return src, nil
}

// Get returns a DocSource by id, deleted or not.
func (s *DocSourceStore) Get(ctx context.Context, kbID, id string) (*models.DocSource, error) {
	table := tableName(kbID, docSourceSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.eng.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord[models.DocSource](rec)
}

// List returns all live DocSources in a KB.
func (s *DocSourceStore) List(ctx context.Context, kbID string) ([]*models.DocSource, error) {
	table := tableName(kbID, docSourceSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{notDeleted()}, engine.QueryOptions{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	return decodeRecords[models.DocSource](recs)
}

// SetStatus transitions a DocSource and bumps its update timestamp.
func (s *DocSourceStore) SetStatus(ctx context.Context, kbID, id string, status models.DocSourceStatus) error {
	src, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	src.Status = status
	src.UpdatedAt = time.Now().UTC()
	return s.update(ctx, src)
}

func (s *DocSourceStore) update(ctx context.Context, src *models.DocSource) error {
	rec, err := toRecord(src)
	if err != nil {
		return err
	}
	return s.eng.Update(ctx, tableName(src.KBID, docSourceSuffix), src.ID, rec)
}

// Delete soft-deletes the source and cascades to its DocSinks via the
// deletion event dispatcher.
func (s *DocSourceStore) Delete(ctx context.Context, kbID, id string) error {
	src, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	if src.IsDeleted {
		return nil
	}
	src.IsDeleted = true
	src.UpdatedAt = time.Now().UTC()
	if err := s.update(ctx, src); err != nil {
		return err
	}
	return s.dispatch(ctx, DeleteEvent{Kind: KindDocSource, KBID: kbID, ID: id})
}
