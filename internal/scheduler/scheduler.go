// Package scheduler turns incomplete tasks into job executions. It owns
// the retry budget, the per-stage worker pools and the terminal status of
// DocSources; per-job semantics live in the runner.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/docflowd/docflow/internal/models"
	"github.com/docflowd/docflow/internal/runner"
	"github.com/docflowd/docflow/internal/store"
)

// DefaultPoolSize bounds concurrent jobs per pipeline stage.
const DefaultPoolSize = 10

// Scope narrows a scheduler run. Zero value means every KB.
type Scope struct {
	KBID         string
	DocSourceIDs []string
}

// Scheduler drains incomplete tasks. Each pipeline stage gets its own
// bounded worker pool so one flood of embed work can't starve connectors.
type Scheduler struct {
	stores *store.Stores
	runner *runner.Runner

	maxRetries   int
	pollInterval time.Duration
	pools        map[models.ProgramType]*ants.Pool

	running atomic.Bool
}

// Options tunes the scheduler. Zero fields take defaults.
type Options struct {
	PoolSize     int
	MaxRetries   int
	PollInterval time.Duration
}

// New builds a scheduler with one pool per stage.
func New(stores *store.Stores, r *runner.Runner, opts Options) (*Scheduler, error) {
	size := opts.PoolSize
	if size <= 0 {
		size = DefaultPoolSize
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	s := &Scheduler{
		stores:       stores,
		runner:       r,
		maxRetries:   retries,
		pollInterval: poll,
		pools:        make(map[models.ProgramType]*ants.Pool, 4),
	}
	for _, pt := range []models.ProgramType{
		models.ProgramConnector,
		models.ProgramConvert,
		models.ProgramSplit,
		models.ProgramEmbed,
	} {
		pool, err := ants.NewPool(size)
		if err != nil {
			return nil, fmt.Errorf("create %s pool: %w", pt, err)
		}
		s.pools[pt] = pool
	}
	return s, nil
}

// Close releases the worker pools.
func (s *Scheduler) Close() {
	for _, pool := range s.pools {
		pool.Release()
	}
}

// Run drains every runnable task in scope, looping until a pass schedules
// nothing, then finalizes the DocSource statuses it touched. Only one run
// may be active at a time; a second call reports started=false and does
// nothing.
func (s *Scheduler) Run(ctx context.Context, scope Scope) (started bool, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return false, nil
	}
	defer s.running.Store(false)

	kbs, err := s.scopedKBs(ctx, scope)
	if err != nil {
		return true, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return true, err
		}
		scheduled := 0
		for _, kb := range kbs {
			n, err := s.runPass(ctx, kb, scope)
			if err != nil {
				return true, err
			}
			scheduled += n
		}
		if scheduled == 0 {
			break
		}
	}

	for _, kb := range kbs {
		if err := s.finalizeDocSources(ctx, kb, scope); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *Scheduler) scopedKBs(ctx context.Context, scope Scope) ([]string, error) {
	if scope.KBID != "" {
		return []string{scope.KBID}, nil
	}
	return s.stores.ListKBs(ctx)
}

// runPass schedules every currently runnable task once and waits for the
// batch to finish. Follow-on tasks created by those jobs are picked up by
// the next pass.
func (s *Scheduler) runPass(ctx context.Context, kbID string, scope Scope) (int, error) {
	tasks, err := s.incompleteTasks(ctx, kbID, scope)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	scheduled := 0
	for _, task := range tasks {
		job, ok, err := s.nextJob(ctx, task)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		scheduled++
		wg.Add(1)
		submitErr := s.pools[task.ProgramType].Submit(func() {
			defer wg.Done()
			if err := s.runner.RunJob(ctx, task, job); err != nil {
				slog.Warn("job failed", "task_id", task.ID, "job_id", job.ID, "error", err)
			}
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return 0, fmt.Errorf("submit %s task: %w", task.ProgramType, submitErr)
		}
	}
	wg.Wait()
	return scheduled, nil
}

func (s *Scheduler) incompleteTasks(ctx context.Context, kbID string, scope Scope) ([]*models.Task, error) {
	if len(scope.DocSourceIDs) == 0 {
		return s.stores.Tasks.GetIncompleteTasks(ctx, kbID)
	}
	var tasks []*models.Task
	for _, srcID := range scope.DocSourceIDs {
		part, err := s.stores.Tasks.GetIncompleteTasksForDocSource(ctx, kbID, srcID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, part...)
	}
	return tasks, nil
}

// nextJob decides whether a task gets (another) execution attempt and
// allocates the job if so. A task with an attempt still in flight is left
// alone; a failed task gets retried until the budget is spent.
func (s *Scheduler) nextJob(ctx context.Context, task *models.Task) (*models.Job, bool, error) {
	latest, err := s.stores.Jobs.GetLatestJobForTask(ctx, task.KBID, task.ID)
	if err != nil {
		return nil, false, err
	}
	if latest != nil {
		switch latest.Status {
		case models.JobRunning, models.JobPaused:
			return nil, false, nil
		case models.JobPending:
			// An attempt that never started: a prior process died before
			// running it, or a paused job was resumed. Run it instead of
			// allocating a fresh attempt.
			return latest, true, nil
		case models.JobCompleted:
			// Task status lagging behind its job; reconcile and move on.
			if err := s.stores.Tasks.SetStatus(ctx, task.KBID, task.ID, models.TaskCompleted); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		if latest.RetryCount+1 >= s.maxRetries {
			slog.Warn("task out of retries", "task_id", task.ID, "program_type", task.ProgramType, "attempts", latest.RetryCount+1)
			return nil, false, nil
		}
	}
	job, err := s.stores.Jobs.CreateJob(ctx, task)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

// finalizeDocSources assigns terminal statuses to sources whose pipelines
// have drained: COMPLETED when every sink made it through, PARTIAL when
// only some did, FAILED when none did.
func (s *Scheduler) finalizeDocSources(ctx context.Context, kbID string, scope Scope) error {
	sources, err := s.scopedSources(ctx, kbID, scope)
	if err != nil {
		return err
	}
	for _, src := range sources {
		if src.IsFinished() || src.Status == models.DocSourceCreated {
			continue
		}
		pending, err := s.stores.Tasks.GetIncompleteTasksForDocSource(ctx, kbID, src.ID)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			// Out-of-retries tasks still count as a verdict; anything else
			// means the pipeline isn't done and the source stays as is.
			if !allExhausted(pending) {
				continue
			}
		}
		status, err := s.sourceVerdict(ctx, kbID, src.ID)
		if err != nil {
			return err
		}
		slog.Info("docsource finalized", "kb", kbID, "docsource_id", src.ID, "status", status)
		if err := s.stores.DocSources.SetStatus(ctx, kbID, src.ID, status); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) scopedSources(ctx context.Context, kbID string, scope Scope) ([]*models.DocSource, error) {
	if len(scope.DocSourceIDs) == 0 {
		return s.stores.DocSources.List(ctx, kbID)
	}
	sources := make([]*models.DocSource, 0, len(scope.DocSourceIDs))
	for _, id := range scope.DocSourceIDs {
		src, err := s.stores.DocSources.Get(ctx, kbID, id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func allExhausted(tasks []*models.Task) bool {
	for _, t := range tasks {
		if t.Status != models.TaskFailed && t.Status != models.TaskAborted {
			return false
		}
	}
	return true
}

func (s *Scheduler) sourceVerdict(ctx context.Context, kbID, srcID string) (models.DocSourceStatus, error) {
	sinks, err := s.stores.DocSinks.ListForDocSource(ctx, kbID, srcID)
	if err != nil {
		return "", err
	}
	if len(sinks) == 0 {
		// The connector itself never produced anything. Whether that is
		// failure depends on its tasks.
		pending, err := s.stores.Tasks.GetIncompleteTasksForDocSource(ctx, kbID, srcID)
		if err != nil {
			return "", err
		}
		if len(pending) > 0 {
			return models.DocSourceFailed, nil
		}
		return models.DocSourceCompleted, nil
	}

	completed := 0
	for _, sink := range sinks {
		if sink.Status == models.DocSinkCompleted {
			completed++
		}
	}
	switch completed {
	case len(sinks):
		return models.DocSourceCompleted, nil
	case 0:
		return models.DocSourceFailed, nil
	default:
		return models.DocSourcePartial, nil
	}
}

// WaitForDocSource polls until the source reaches a terminal status or the
// timeout elapses. A timeout of zero or less means no deadline: polling
// continues until the source finishes or ctx is cancelled. An unknown
// source id fails immediately rather than burning the whole timeout.
func (s *Scheduler) WaitForDocSource(ctx context.Context, kbID, srcID string, timeout time.Duration) (models.DocSourceStatus, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		src, err := s.stores.DocSources.Get(ctx, kbID, srcID)
		if err != nil {
			return "", err
		}
		if src.IsFinished() {
			return src.Status, nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return src.Status, fmt.Errorf("docsource %s not finished after %s", srcID, timeout)
		}
		select {
		case <-ctx.Done():
			return src.Status, ctx.Err()
		case <-ticker.C:
		}
	}
}
