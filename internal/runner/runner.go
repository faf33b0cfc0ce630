// Package runner executes single jobs. It owns the per-stage semantics:
// what a CONNECTOR, CONVERT, SPLIT or EMBED job actually does, which
// follow-on tasks it schedules, and how a replayed job short-circuits
// work that already happened.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docflowd/docflow/internal/blob"
	"github.com/docflowd/docflow/internal/metrics"
	"github.com/docflowd/docflow/internal/models"
	"github.com/docflowd/docflow/internal/pipeline"
	"github.com/docflowd/docflow/internal/store"
)

// Runner executes jobs against the stores and the blob store.
type Runner struct {
	Stores     *store.Stores
	Blobs      *blob.Store
	Connectors pipeline.ConnectorSet
	Converter  pipeline.Converter
	Splitter   pipeline.HeadingSplitter
	Embedder   pipeline.Embedder

	// EmbedBatchSize caps how many segment texts go to the embedder in
	// one call. Zero means 16.
	EmbedBatchSize int

	// Metrics, when set, records per-stage job statistics.
	Metrics *metrics.Collector
}

var stageNames = map[models.ProgramType]string{
	models.ProgramConnector: metrics.StageConnector,
	models.ProgramConvert:   metrics.StageConvert,
	models.ProgramSplit:     metrics.StageSplit,
	models.ProgramEmbed:     metrics.StageEmbed,
}

// RunJob drives one job from RUNNING to a terminal status. Each stage is
// written to be replay-safe: running the same job twice must converge on
// the same stored state, so every stage starts by checking whether its
// work is already done.
func (r *Runner) RunJob(ctx context.Context, task *models.Task, job *models.Job) (err error) {
	log, closeLog := r.jobLogger(task, job)
	defer closeLog()

	job.Status = models.JobRunning
	if uerr := r.Stores.Jobs.UpdateJob(ctx, job); uerr != nil {
		return uerr
	}
	log.Info("job started", "program_type", task.ProgramType, "target_id", task.TargetID)
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
		if err != nil {
			log.Error("job failed", "error", err)
			job.Status = models.JobFailed
			job.Result = err.Error()
			now := time.Now().UTC()
			job.LastFailedAt = &now
		} else {
			log.Info("job completed")
			job.Status = models.JobCompleted
			job.Progress = 1
		}
		if uerr := r.Stores.Jobs.UpdateJob(ctx, job); uerr != nil && err == nil {
			err = uerr
		}
		status := models.TaskCompleted
		if err != nil {
			status = models.TaskFailed
		}
		if serr := r.Stores.Tasks.SetStatus(ctx, task.KBID, task.ID, status); serr != nil && err == nil {
			err = serr
		}
		if r.Metrics != nil {
			r.Metrics.RecordJob(stageNames[task.ProgramType], time.Since(started), err != nil)
		}
	}()

	progress := r.progressReporter(ctx, job)

	switch task.ProgramType {
	case models.ProgramConnector:
		return r.runConnector(ctx, log, task, progress)
	case models.ProgramConvert:
		return r.runConvert(ctx, log, task)
	case models.ProgramSplit:
		return r.runSplit(ctx, log, task)
	case models.ProgramEmbed:
		return r.runEmbed(ctx, log, task, progress)
	default:
		return fmt.Errorf("unknown program type %q", task.ProgramType)
	}
}

// jobLogger returns a logger writing JSON lines to the job's log file,
// falling back to the process logger when the file can't be opened.
func (r *Runner) jobLogger(task *models.Task, job *models.Job) (*slog.Logger, func()) {
	attrs := []any{"job_id", job.ID, "task_id", task.ID, "kb", task.KBID}
	if job.LogPath == "" {
		return slog.Default().With(attrs...), func() {}
	}
	f, err := os.OpenFile(job.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("job log file unavailable", "path", job.LogPath, "error", err)
		return slog.Default().With(attrs...), func() {}
	}
	log := slog.New(slog.NewJSONHandler(f, nil)).With(attrs...)
	return log, func() { f.Close() }
}

// progressReporter persists progress updates, debounced so a connector
// emitting thousands of artifacts doesn't turn into thousands of writes.
func (r *Runner) progressReporter(ctx context.Context, job *models.Job) pipeline.ProgressFunc {
	var last time.Time
	return func(fraction float64) {
		now := time.Now()
		if fraction < 1 && now.Sub(last) < 500*time.Millisecond {
			return
		}
		last = now
		job.Progress = fraction
		if err := r.Stores.Jobs.UpdateJob(ctx, job); err != nil {
			slog.Warn("progress update failed", "job_id", job.ID, "error", err)
		}
	}
}

func (r *Runner) runConnector(ctx context.Context, log *slog.Logger, task *models.Task, progress pipeline.ProgressFunc) error {
	src, err := r.Stores.DocSources.Get(ctx, task.KBID, task.Spec.Connector.DocSourceID)
	if err != nil {
		return err
	}
	if src.IsFinished() {
		log.Info("docsource already finished, nothing to do", "status", src.Status)
		return nil
	}
	if src.Status == models.DocSourceCreated {
		if err := r.Stores.DocSources.SetStatus(ctx, task.KBID, src.ID, models.DocSourceProcessing); err != nil {
			return err
		}
	}

	conn, err := r.Connectors.For(src.SourceType)
	if err != nil {
		return err
	}

	emitted := 0
	emit := func(ctx context.Context, a pipeline.Artifact) error {
		uri, hash, size, err := r.Blobs.Put(a.Data)
		if err != nil {
			return err
		}
		sink, created, err := r.Stores.DocSinks.CreateDocSink(ctx, models.DocSinkCreate{
			DocSourceID:    src.ID,
			KBID:           src.KBID,
			OriginalDocURI: a.OriginalURI,
			RawDocURI:      uri,
			ContentHash:    hash,
			Size:           size,
		})
		if err != nil {
			return err
		}
		emitted++
		if created {
			log.Info("docsink created", "docsink_id", sink.ID, "original_uri", a.OriginalURI, "size", size)
		} else {
			log.Info("docsink deduplicated", "docsink_id", sink.ID, "original_uri", a.OriginalURI)
		}
		// A sink still waiting for conversion needs a convert task even
		// when the sink record itself predates this job.
		if sink.Status == models.DocSinkCreated {
			_, err = r.Stores.Tasks.Create(ctx, task.KBID, src.ID, models.ProgramSpec{
				Type:    models.ProgramConvert,
				Convert: &models.ConvertSpec{DocSinkID: sink.ID},
			})
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := conn.Fetch(ctx, src, emit, progress); err != nil {
		return fmt.Errorf("connector %s: %w", src.SourceType, err)
	}
	log.Info("connector finished", "artifacts", emitted)
	return nil
}

func (r *Runner) runConvert(ctx context.Context, log *slog.Logger, task *models.Task) error {
	sink, err := r.Stores.DocSinks.Get(ctx, task.KBID, task.Spec.Convert.DocSinkID)
	if err != nil {
		return err
	}
	if sink.Status != models.DocSinkCreated {
		log.Info("docsink already converted, nothing to do", "status", sink.Status)
		return nil
	}

	raw, err := r.Blobs.Get(sink.RawDocURI)
	if err != nil {
		return err
	}
	conv, err := r.Converter.Convert(sink.OriginalDocURI, raw)
	if err != nil {
		if serr := r.Stores.DocSinks.SetStatus(ctx, task.KBID, sink.ID, models.DocSinkFailed); serr != nil {
			return serr
		}
		return fmt.Errorf("convert %s: %w", sink.OriginalDocURI, err)
	}

	content := conv.Content
	if conv.Title != "" && !strings.HasPrefix(strings.TrimSpace(content), "# ") {
		content = "# " + conv.Title + "\n\n" + content
	}

	sourceIDs := append([]string{sink.DocSourceID}, sink.ExtraDocSourceID...)
	doc, err := r.Stores.Documents.Create(ctx, store.DocumentCreate{
		KBID:         task.KBID,
		DocSinkID:    sink.ID,
		DocSourceIDs: sourceIDs,
		Content:      content,
		DocURI:       sink.RawDocURI,
		OriginalURI:  sink.OriginalDocURI,
	})
	if err != nil {
		return err
	}
	log.Info("document created", "document_id", doc.ID, "content_len", len(content))

	if err := r.Stores.DocSinks.SetStatus(ctx, task.KBID, sink.ID, models.DocSinkProcessing); err != nil {
		return err
	}
	_, err = r.Stores.Tasks.Create(ctx, task.KBID, task.DocSourceID, models.ProgramSpec{
		Type:  models.ProgramSplit,
		Split: &models.SplitSpec{DocumentID: doc.ID},
	})
	return err
}

func (r *Runner) runSplit(ctx context.Context, log *slog.Logger, task *models.Task) error {
	doc, err := r.Stores.Documents.Get(ctx, task.KBID, task.Spec.Split.DocumentID)
	if err != nil {
		return err
	}
	if doc.SplitStatus == models.StageCompleted {
		log.Info("document already split, nothing to do")
		return r.ensureEmbedTask(ctx, task, doc)
	}

	segs, meta, err := r.Splitter.Split(doc)
	if err != nil {
		if serr := r.Stores.Documents.SetSplitStatus(ctx, task.KBID, doc.ID, models.StageFailed); serr != nil {
			return serr
		}
		return fmt.Errorf("split document %s: %w", doc.ID, err)
	}

	// A replay after a partial write would double up segments otherwise.
	if err := r.Stores.Segments.DeleteForDocument(ctx, task.KBID, doc.ID); err != nil {
		return err
	}
	if err := r.Stores.Segments.CreateBatch(ctx, segs); err != nil {
		return err
	}
	if meta.Summary != "" || len(meta.Keywords) > 0 || len(meta.Authors) > 0 {
		if err := r.Stores.Documents.SetMetadata(ctx, task.KBID, doc.ID, meta.Summary, meta.Keywords, meta.Authors); err != nil {
			return err
		}
	}
	if err := r.Stores.Documents.SetSplitStatus(ctx, task.KBID, doc.ID, models.StageCompleted); err != nil {
		return err
	}
	log.Info("document split", "document_id", doc.ID, "segments", len(segs))

	if len(segs) == 0 {
		// Nothing to embed; the document is done.
		if err := r.Stores.Documents.SetEmbedStatus(ctx, task.KBID, doc.ID, models.StageCompleted); err != nil {
			return err
		}
		return r.Stores.DocSinks.SetStatus(ctx, task.KBID, doc.DocSinkID, models.DocSinkCompleted)
	}

	ids := make([]string, len(segs))
	for i, seg := range segs {
		ids[i] = seg.ID
	}
	_, err = r.Stores.Tasks.Create(ctx, task.KBID, task.DocSourceID, models.ProgramSpec{
		Type:  models.ProgramEmbed,
		Embed: &models.EmbedSpec{DocumentID: doc.ID, SegmentIDs: ids},
	})
	return err
}

// ensureEmbedTask re-creates the follow-on embed task when a split job is
// replayed after the segments were written but before the task existed.
func (r *Runner) ensureEmbedTask(ctx context.Context, task *models.Task, doc *models.Document) error {
	if doc.EmbedStatus == models.StageCompleted {
		return nil
	}
	segs, err := r.Stores.Segments.ListForDocument(ctx, task.KBID, doc.ID)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return r.Stores.Documents.SetEmbedStatus(ctx, task.KBID, doc.ID, models.StageCompleted)
	}
	ids := make([]string, len(segs))
	for i, seg := range segs {
		ids[i] = seg.ID
	}
	_, err = r.Stores.Tasks.Create(ctx, task.KBID, task.DocSourceID, models.ProgramSpec{
		Type:  models.ProgramEmbed,
		Embed: &models.EmbedSpec{DocumentID: doc.ID, SegmentIDs: ids},
	})
	return err
}

func (r *Runner) runEmbed(ctx context.Context, log *slog.Logger, task *models.Task, progress pipeline.ProgressFunc) error {
	doc, err := r.Stores.Documents.Get(ctx, task.KBID, task.Spec.Embed.DocumentID)
	if err != nil {
		return err
	}
	if doc.EmbedStatus == models.StageCompleted {
		log.Info("document already embedded, nothing to do")
		return nil
	}

	// Skip segments that already carry a vector so replays only pay for
	// the remainder.
	var pending []*models.Segment
	for _, id := range task.Spec.Embed.SegmentIDs {
		seg, err := r.Stores.Segments.Get(ctx, task.KBID, id)
		if err != nil {
			return err
		}
		if len(seg.Vector) == 0 {
			pending = append(pending, seg)
		}
	}
	log.Info("embedding segments", "total", len(task.Spec.Embed.SegmentIDs), "pending", len(pending), "model", r.Embedder.Name())

	batchSize := r.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	done := 0
	for start := 0; start < len(pending); start += batchSize {
		end := min(start+batchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, seg := range batch {
			texts[i] = seg.Content
		}
		vectors, err := r.Embedder.Embed(ctx, texts)
		if err != nil {
			if serr := r.Stores.Documents.SetEmbedStatus(ctx, task.KBID, doc.ID, models.StageFailed); serr != nil {
				return serr
			}
			return err
		}
		for i, seg := range batch {
			if err := r.Stores.Segments.SetVector(ctx, task.KBID, seg.ID, vectors[i]); err != nil {
				return err
			}
		}
		done += len(batch)
		progress(float64(done) / float64(len(pending)))
	}

	if err := r.Stores.Documents.SetEmbedStatus(ctx, task.KBID, doc.ID, models.StageCompleted); err != nil {
		return err
	}
	return r.Stores.DocSinks.SetStatus(ctx, task.KBID, doc.DocSinkID, models.DocSinkCompleted)
}
