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

const segmentSuffix = "segments"

// SegmentStore persists document chunks addressed by hierarchical position.
// Segments carry no soft-delete flag; a deleted Document takes its segments
// (and their vectors) with it for good.
type SegmentStore struct {
	base
}

func (s *SegmentStore) ensure(ctx context.Context, kbID string) (string, error) {
	table := tableName(kbID, segmentSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return "", err
	}
	if err := s.eng.CreateIndexIfNotExists(ctx, table, "document_uuid", "position_in_doc"); err != nil {
		return "", err
	}
	return table, nil
}

// CreateBatch inserts the splitter's output for one document. Missing ids
// and timestamps are filled in; parent positions are derived.
func (s *SegmentStore) CreateBatch(ctx context.Context, segs []*models.Segment) error {
	if len(segs) == 0 {
		return nil
	}
	kbID := segs[0].KBID
	table, err := s.ensure(ctx, kbID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, seg := range segs {
		if seg.KBID != kbID {
			return fmt.Errorf("%w: segment batch spans KBs", ErrValidation)
		}
		if seg.DocumentID == "" || seg.Position == "" {
			return fmt.Errorf("%w: segment needs document id and position", ErrValidation)
		}
		if _, err := models.ParsePosition(seg.Position); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		if seg.ID == "" {
			seg.ID = uuid.New().String()
		}
		if seg.CreatedAt.IsZero() {
			seg.CreatedAt = now
		}
		parent, _ := models.ParentPosition(seg.Position)
		seg.ParentPosition = parent

		rec, err := toRecord(seg)
		if err != nil {
			return err
		}
		if err := s.eng.Insert(ctx, table, rec); err != nil {
			return err
		}
	}
	return nil
}

// Get returns one segment by id.
func (s *SegmentStore) Get(ctx context.Context, kbID, id string) (*models.Segment, error) {
	table, err := s.ensure(ctx, kbID)
	if err != nil {
		return nil, err
	}
	rec, err := s.eng.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord[models.Segment](rec)
}

// ListForDocument returns a document's segments in position order.
func (s *SegmentStore) ListForDocument(ctx context.Context, kbID, documentID string) ([]*models.Segment, error) {
	table, err := s.ensure(ctx, kbID)
	if err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("document_uuid", documentID),
	}, engine.QueryOptions{})
	if err != nil {
		return nil, err
	}
	segs, err := decodeRecords[models.Segment](recs)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(segs, func(a, b *models.Segment) int {
		return models.ComparePositions(a.Position, b.Position)
	})
	return segs, nil
}

// GetByPosition is a keyed lookup on (document, position).
func (s *SegmentStore) GetByPosition(ctx context.Context, kbID, documentID, position string) (*models.Segment, error) {
	table, err := s.ensure(ctx, kbID)
	if err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("document_uuid", documentID),
		engine.Eq("position_in_doc", position),
	}, engine.QueryOptions{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return decodeRecord[models.Segment](recs[0])
}

// GetParent returns the segment whose position is seg's position with the
// last component dropped, or nil for top-level segments.
func (s *SegmentStore) GetParent(ctx context.Context, seg *models.Segment) (*models.Segment, error) {
	parent, ok := models.ParentPosition(seg.Position)
	if !ok {
		return nil, nil
	}
	return s.GetByPosition(ctx, seg.KBID, seg.DocumentID, parent)
}

// GetOlderSibling returns the nearest sibling ordered below seg, which is
// not necessarily position n-1.
func (s *SegmentStore) GetOlderSibling(ctx context.Context, seg *models.Segment) (*models.Segment, error) {
	return s.nearestSibling(ctx, seg, -1)
}

// GetYoungerSibling returns the nearest sibling ordered above seg.
func (s *SegmentStore) GetYoungerSibling(ctx context.Context, seg *models.Segment) (*models.Segment, error) {
	return s.nearestSibling(ctx, seg, +1)
}

// nearestSibling fetches the segments sharing seg's parent (a keyed query
// on the parent position) and picks the closest one in the given direction.
func (s *SegmentStore) nearestSibling(ctx context.Context, seg *models.Segment, dir int) (*models.Segment, error) {
	table, err := s.ensure(ctx, seg.KBID)
	if err != nil {
		return nil, err
	}
	parent, _ := models.ParentPosition(seg.Position)
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("document_uuid", seg.DocumentID),
		engine.Eq("parent_position", parent),
	}, engine.QueryOptions{})
	if err != nil {
		return nil, err
	}
	siblings, err := decodeRecords[models.Segment](recs)
	if err != nil {
		return nil, err
	}

	var best *models.Segment
	for _, cand := range siblings {
		cmp := models.ComparePositions(cand.Position, seg.Position)
		if cmp == 0 || cmp != dir {
			continue
		}
		if best == nil || models.ComparePositions(cand.Position, best.Position) == -dir {
			best = cand
		}
	}
	return best, nil
}

// SetVector stores a computed embedding on a segment.
func (s *SegmentStore) SetVector(ctx context.Context, kbID, id string, vector []float32) error {
	seg, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	seg.Vector = vector
	rec, err := toRecord(seg)
	if err != nil {
		return err
	}
	return s.eng.Update(ctx, tableName(kbID, segmentSuffix), id, rec)
}

// DeleteForDocument removes all segments of a document.
func (s *SegmentStore) DeleteForDocument(ctx context.Context, kbID, documentID string) error {
	segs, err := s.ListForDocument(ctx, kbID, documentID)
	if err != nil {
		return err
	}
	table := tableName(kbID, segmentSuffix)
	for _, seg := range segs {
		if err := s.eng.Delete(ctx, table, seg.ID); err != nil {
			return err
		}
	}
	return nil
}

// onDelete drops segments when their Document goes away.
func (s *SegmentStore) onDelete(ctx context.Context, ev DeleteEvent) error {
	if ev.Kind != KindDocument {
		return nil
	}
	return s.DeleteForDocument(ctx, ev.KBID, ev.ID)
}
