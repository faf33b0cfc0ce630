package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/docflowd/docflow/internal/engine"
	"github.com/docflowd/docflow/internal/models"
)

const jobSuffix = "jobs"

// JobStore persists execution attempts. Every job gets its own log file,
// allocated eagerly at creation so a path exists even for jobs that die
// before writing a single line.
type JobStore struct {
	base
	logDir string
}

// CreateJob allocates a new attempt for the task with status PENDING.
// RetryCount is the number of attempts that came before it.
func (s *JobStore) CreateJob(ctx context.Context, task *models.Task) (*models.Job, error) {
	table := tableName(task.KBID, jobSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}

	prior, err := s.ListForTask(ctx, task.KBID, task.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:         uuid.New().String(),
		TaskID:     task.ID,
		KBID:       task.KBID,
		Spec:       task.Spec,
		Status:     models.JobPending,
		RetryCount: len(prior),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if s.logDir != "" {
		if err := os.MkdirAll(s.logDir, 0o755); err != nil {
			return nil, fmt.Errorf("create job log dir: %w", err)
		}
		job.LogPath = filepath.Join(s.logDir, fmt.Sprintf("%s_%s.log", task.ID, job.ID))
		f, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("create job log file: %w", err)
		}
		f.Close()
	}

	rec, err := toRecord(job)
	if err != nil {
		return nil, err
	}
	if err := s.eng.Insert(ctx, table, rec); err != nil {
		return nil, err
	}
	return job, nil
}

// Get returns a Job by id.
func (s *JobStore) Get(ctx context.Context, kbID, id string) (*models.Job, error) {
	table := tableName(kbID, jobSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	rec, err := s.eng.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord[models.Job](rec)
}

// ListForTask returns every live job of a task, oldest first.
func (s *JobStore) ListForTask(ctx context.Context, kbID, taskID string) ([]*models.Job, error) {
	table := tableName(kbID, jobSuffix)
	if err := s.ensureTable(ctx, table); err != nil {
		return nil, err
	}
	recs, err := s.eng.Query(ctx, table, []engine.Filter{
		engine.Eq("task_uuid", taskID),
		notDeleted(),
	}, engine.QueryOptions{})
	if err != nil {
		return nil, err
	}
	jobs, err := decodeRecords[models.Job](recs)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(jobs, func(a, b *models.Job) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return jobs, nil
}

// GetLatestJobForTask returns the authoritative attempt, or nil when the
// task has never run. Selection happens here rather than in the engine
// because serialized timestamps are not fixed-width.
func (s *JobStore) GetLatestJobForTask(ctx context.Context, kbID, taskID string) (*models.Job, error) {
	jobs, err := s.ListForTask(ctx, kbID, taskID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return jobs[len(jobs)-1], nil
}

// UpdateJob persists the full job record.
func (s *JobStore) UpdateJob(ctx context.Context, job *models.Job) error {
	job.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(job)
	if err != nil {
		return err
	}
	return s.eng.Update(ctx, tableName(job.KBID, jobSuffix), job.ID, rec)
}

// SetStatus transitions a job and stamps the failure time when relevant.
func (s *JobStore) SetStatus(ctx context.Context, kbID, id string, status models.JobStatus) error {
	job, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	job.Status = status
	now := time.Now().UTC()
	switch status {
	case models.JobFailed:
		job.LastFailedAt = &now
	case models.JobPaused:
		job.PausedAt = &now
	}
	return s.UpdateJob(ctx, job)
}

// SetProgress records fractional completion in [0,1].
func (s *JobStore) SetProgress(ctx context.Context, kbID, id string, progress float64) error {
	job, err := s.Get(ctx, kbID, id)
	if err != nil {
		return err
	}
	job.Progress = progress
	return s.UpdateJob(ctx, job)
}

// onDelete soft-deletes jobs when their task goes away.
func (s *JobStore) onDelete(ctx context.Context, ev DeleteEvent) error {
	if ev.Kind != KindTask {
		return nil
	}
	jobs, err := s.ListForTask(ctx, ev.KBID, ev.ID)
	if err != nil {
		return err
	}
	table := tableName(ev.KBID, jobSuffix)
	for _, job := range jobs {
		job.IsDeleted = true
		job.UpdatedAt = time.Now().UTC()
		rec, err := toRecord(job)
		if err != nil {
			return err
		}
		if err := s.eng.Update(ctx, table, job.ID, rec); err != nil {
			return err
		}
	}
	return nil
}
