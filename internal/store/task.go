package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/docflowd/docflow/internal/engine"
	"github.com/docflowd/docflow/internal/models"
)

const taskSuffix = "tasks"

// TaskStore persists the durable "what needs doing" records the scheduler
// scans. Execution state lives on Jobs; a Task only carries an aggregate
// status derived from its latest Job.
type TaskStore struct {
	base
}

// Create validates the program spec and inserts a Task with status CREATED.
// Creation is idempotent per (program type, target): an existing live
// incomplete task for the same work is returned instead of a duplicate.
func (s *TaskStore) Create(ctx context.Context, kbID, docSourceID string, spec models.ProgramSpec) (*models.Task, error) {
	if kbID == "" {
		return nil, fmt.Errorf("%w: kb id required", ErrValidation)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	table := tableName(kbID, taskSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	existing, err := s.FindForTarget(ctx, kbID, spec.Type, spec.TargetID())
	if err != nil {
		return nil, err
	}
	for _, t := range existing {
		if t.Status.Incomplete() && t.Status != models.TaskFailed && t.Status != models.TaskAborted {
			return t, nil
		}
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:          uuid.New().String(),
		KBID:        kbID,
		DocSourceID: docSourceID,
		ProgramType: spec.Type,
		TargetID:    spec.TargetID(),
		Spec:        spec,
		Status:      models.TaskCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rec, err := toRecord(task)
	if err != nil {
		return nil, err
	}
	if err := s.eng.Insert(ctx, table, rec); err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns a Task by id.
func (s *TaskStore) Get(ctx context.Context, kbID, id string) (*models.Task, error) {
	table := tableName(kbID, taskSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.eng.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord[models.Task](rec)
}

// GetIncompleteTasks returns every live task in the KB whose status is not
// COMPLETED.
func (s *TaskStore) GetIncompleteTasks(ctx context.Context, kbID string) ([]*models.Task, error) {
	table := tableName(kbID, taskSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Ne("status", string(models.TaskCompleted)),
		notDeleted(),
	}, engine.QueryOptions{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	return decodeRecords[models.Task](recs)
}

// GetIncompleteTasksForDocSource narrows the scan to one source's pipeline.
func (s *TaskStore) GetIncompleteTasksForDocSource(ctx context.Context, kbID, docSourceID string) ([]*models.Task, error) {
	table := tableName(kbID, taskSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("docsource_uuid", docSourceID),
		engine.Ne("status", string(models.TaskCompleted)),
		notDeleted(),
	}, engine.QueryOptions{OrderBy: "created_at"})
	if err != nil {
		return nil, err
	}
	return decodeRecords[models.Task](recs)
}

// FindForTarget returns live tasks of one program type aimed at one entity.
func (s *TaskStore) FindForTarget(ctx context.Context, kbID string, ptype models.ProgramType, targetID string) ([]*models.Task, error) {
	table := tableName(kbID, taskSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("program_type", string(ptype)),
		engine.Eq("target_id", targetID),
		notDeleted(),
	}, engine.QueryOptions{})
	if err != nil {
		return nil, err
	}
	return decodeRecords[models.Task](recs)
}

// SetStatus updates the aggregate task status.
func (s *TaskStore) SetStatus(ctx context.Context, kbID, id string, status models.TaskStatus) error {
	task, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	task.Status = status
	task.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(task)
	if err != nil {
		return err
	}
	return s.eng.Update(ctx, tableName(kbID, taskSuffix), id, rec)
}

// Delete soft-deletes a task and cascades to its jobs.
func (s *TaskStore) Delete(ctx context.Context, kbID, id string) error {
	task, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	if task.IsDeleted {
		return nil
	}
	task.IsDeleted = true
	task.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(task)
	if err != nil {
		return err
	}
	if err := s.eng.Update(ctx, tableName(kbID, taskSuffix), id, rec); err != nil {
		return err
	}
	return s.dispatch(ctx, DeleteEvent{Kind: KindTask, KBID: kbID, ID: id})
}

// onDelete soft-deletes tasks referencing a deleted sink or document. A
// document event may also name the owning sink, so the convert task aimed
// at the sink goes away together with the document it produced.
func (s *TaskStore) onDelete(ctx context.Context, ev DeleteEvent) error {
	if ev.Kind != KindDocSink && ev.Kind != KindDocument {
		return nil
	}
	table := tableName(ev.KBID, taskSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return err
	}
	targets := []string{ev.ID}
	if ev.Kind == KindDocument && ev.DocSinkID != "" {
		targets = append(targets, ev.DocSinkID)
	}
	for _, target := range targets {
		recs, err := s.eng.Query(ctx, table, []engine.Filter{
			engine.Eq("target_id", target),
			notDeleted(),
		}, engine.QueryOptions{})
		if err != nil {
			return err
		}
		tasks, err := decodeRecords[models.Task](recs)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if err := s.Delete(ctx, ev.KBID, t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
