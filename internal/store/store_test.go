package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/docflowd/docflow/internal/engine"
	"github.com/docflowd/docflow/internal/models"
)

const testKB = "kb_test"

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	eng, err := engine.Open(engine.Config{
		Backend:    engine.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err, "open engine")
	t.Cleanup(func() { eng.Close() })
	return New(eng, filepath.Join(t.TempDir(), "logs"))
}

func newTestSource(t *testing.T, s *Stores) *models.DocSource {
	t.Helper()
	src, err := s.DocSources.Create(context.Background(), DocSourceCreate{
		KBID:       testKB,
		SourceType: models.SourceFile,
		URI:        "file:///tmp/docs",
	})
	require.NoError(t, err)
	return src
}

func newTestSink(t *testing.T, s *Stores, srcID, origURI, hash string) *models.DocSink {
	t.Helper()
	sink, created, err := s.DocSinks.CreateDocSink(context.Background(), models.DocSinkCreate{
		KBID:           testKB,
		DocSourceID:    srcID,
		OriginalDocURI: origURI,
		RawDocURI:      "blob://" + hash[:2] + "/" + hash,
		ContentHash:    hash,
		Size:           42,
	})
	require.NoError(t, err)
	require.True(t, created)
	return sink
}

func TestDocSourceCreateValidates(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	_, err := s.DocSources.Create(ctx, DocSourceCreate{KBID: testKB, URI: "x", SourceType: "carrier-pigeon"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = s.DocSources.Create(ctx, DocSourceCreate{KBID: testKB, SourceType: models.SourceFile})
	require.ErrorIs(t, err, ErrValidation)

	src := newTestSource(t, s)
	require.Equal(t, models.DocSourceCreated, src.Status)

	got, err := s.DocSources.Get(ctx, testKB, src.ID)
	require.NoError(t, err)
	require.Equal(t, src.URI, got.URI)
}

func TestCreateDocSinkDedupByHash(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)
	hash := "aa11223344556677aa11223344556677aa11223344556677aa11223344556677"

	sink := newTestSink(t, s, src.ID, "file:///tmp/docs/a.md", hash)
	require.Equal(t, models.DocSinkCreated, sink.Status)

	// Same hash from a different source and URI merges instead of inserting.
	other := newTestSource(t, s)
	merged, created, err := s.DocSinks.CreateDocSink(ctx, models.DocSinkCreate{
		KBID:           testKB,
		DocSourceID:    other.ID,
		OriginalDocURI: "file:///elsewhere/copy.md",
		RawDocURI:      sink.RawDocURI,
		ContentHash:    hash,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, sink.ID, merged.ID)
	require.Equal(t, []string{other.ID}, merged.ExtraDocSourceID)
	require.Equal(t, []string{"file:///elsewhere/copy.md"}, merged.ExtraOriginalDocURI)

	// Replaying the exact same create is a no-op, not a growing list.
	again, created, err := s.DocSinks.CreateDocSink(ctx, models.DocSinkCreate{
		KBID:           testKB,
		DocSourceID:    other.ID,
		OriginalDocURI: "file:///elsewhere/copy.md",
		RawDocURI:      sink.RawDocURI,
		ContentHash:    hash,
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, again.ExtraDocSourceID, 1)
	require.Len(t, again.ExtraOriginalDocURI, 1)

	sinks, err := s.DocSinks.ListForDocSource(ctx, testKB, src.ID)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
}

func TestCreateDocSinkDedupByURIPair(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)

	first, created, err := s.DocSinks.CreateDocSink(ctx, models.DocSinkCreate{
		KBID:           testKB,
		DocSourceID:    src.ID,
		OriginalDocURI: "https://example.com/page",
		RawDocURI:      "blob://ab/abcd",
	})
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := s.DocSinks.CreateDocSink(ctx, models.DocSinkCreate{
		KBID:           testKB,
		DocSourceID:    src.ID,
		OriginalDocURI: "https://example.com/page",
		RawDocURI:      "blob://ab/abcd",
	})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestDocumentCreateReplacesPredecessor(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)
	sink := newTestSink(t, s, src.ID, "file:///tmp/docs/a.md", "bb11223344556677bb11223344556677bb11223344556677bb11223344556677")

	old, err := s.Documents.Create(ctx, DocumentCreate{
		KBID:      testKB,
		DocSinkID: sink.ID,
		Content:   "# Old\n\nFirst version.\n",
	})
	require.NoError(t, err)

	require.NoError(t, s.Segments.CreateBatch(ctx, []*models.Segment{
		{KBID: testKB, DocumentID: old.ID, Position: "1", Content: "First version."},
	}))

	// Re-ingesting the sink replaces the document and drops its segments.
	fresh, err := s.Documents.Create(ctx, DocumentCreate{
		KBID:      testKB,
		DocSinkID: sink.ID,
		Content:   "# New\n\nSecond version.\n",
	})
	require.NoError(t, err)
	require.NotEqual(t, old.ID, fresh.ID)

	gotOld, err := s.Documents.Get(ctx, testKB, old.ID)
	require.NoError(t, err)
	require.True(t, gotOld.IsDeleted)

	live, err := s.Documents.ListForDocSink(ctx, testKB, sink.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	require.Equal(t, fresh.ID, live[0].ID)

	orphans, err := s.Segments.ListForDocument(ctx, testKB, old.ID)
	require.NoError(t, err)
	require.Empty(t, orphans)
}

func TestDeleteDocumentCascadesToSinkTasks(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)
	sink := newTestSink(t, s, src.ID, "file:///tmp/docs/c.md", "dd11223344556677dd11223344556677dd11223344556677dd11223344556677")

	convert, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:    models.ProgramConvert,
		Convert: &models.ConvertSpec{DocSinkID: sink.ID},
	})
	require.NoError(t, err)

	doc, err := s.Documents.Create(ctx, DocumentCreate{KBID: testKB, DocSinkID: sink.ID, Content: "text"})
	require.NoError(t, err)
	split, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:  models.ProgramSplit,
		Split: &models.SplitSpec{DocumentID: doc.ID},
	})
	require.NoError(t, err)

	// Deleting the document takes out tasks targeting it and tasks
	// targeting its owning sink.
	require.NoError(t, s.Documents.Delete(ctx, testKB, doc.ID))

	gotConvert, err := s.Tasks.Get(ctx, testKB, convert.ID)
	require.NoError(t, err)
	require.True(t, gotConvert.IsDeleted, "task targeting the sink")

	gotSplit, err := s.Tasks.Get(ctx, testKB, split.ID)
	require.NoError(t, err)
	require.True(t, gotSplit.IsDeleted, "task targeting the document")
}

func TestReingestKeepsConvertTaskLive(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)
	sink := newTestSink(t, s, src.ID, "file:///tmp/docs/r.md", "ee11223344556677ee11223344556677ee11223344556677ee11223344556677")

	convert, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:    models.ProgramConvert,
		Convert: &models.ConvertSpec{DocSinkID: sink.ID},
	})
	require.NoError(t, err)

	old, err := s.Documents.Create(ctx, DocumentCreate{KBID: testKB, DocSinkID: sink.ID, Content: "v1"})
	require.NoError(t, err)
	split, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:  models.ProgramSplit,
		Split: &models.SplitSpec{DocumentID: old.ID},
	})
	require.NoError(t, err)

	// Replacing the document mid-conversion must not delete the convert
	// task that is producing the successor.
	fresh, err := s.Documents.Create(ctx, DocumentCreate{KBID: testKB, DocSinkID: sink.ID, Content: "v2"})
	require.NoError(t, err)
	require.NotEqual(t, old.ID, fresh.ID)

	gotConvert, err := s.Tasks.Get(ctx, testKB, convert.ID)
	require.NoError(t, err)
	require.False(t, gotConvert.IsDeleted)

	gotSplit, err := s.Tasks.Get(ctx, testKB, split.ID)
	require.NoError(t, err)
	require.True(t, gotSplit.IsDeleted, "stale task targeting the predecessor")
}

func TestDeleteDocSourceCascades(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)
	sink := newTestSink(t, s, src.ID, "file:///tmp/docs/a.md", "cc11223344556677cc11223344556677cc11223344556677cc11223344556677")

	doc, err := s.Documents.Create(ctx, DocumentCreate{KBID: testKB, DocSinkID: sink.ID, Content: "text"})
	require.NoError(t, err)
	require.NoError(t, s.Segments.CreateBatch(ctx, []*models.Segment{
		{KBID: testKB, DocumentID: doc.ID, Position: "1", Content: "text"},
	}))

	task, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:  models.ProgramSplit,
		Split: &models.SplitSpec{DocumentID: doc.ID},
	})
	require.NoError(t, err)
	job, err := s.Jobs.CreateJob(ctx, task)
	require.NoError(t, err)

	require.NoError(t, s.DocSources.Delete(ctx, testKB, src.ID))

	gotSink, err := s.DocSinks.Get(ctx, testKB, sink.ID)
	require.NoError(t, err)
	require.True(t, gotSink.IsDeleted)

	gotDoc, err := s.Documents.Get(ctx, testKB, doc.ID)
	require.NoError(t, err)
	require.True(t, gotDoc.IsDeleted)

	segs, err := s.Segments.ListForDocument(ctx, testKB, doc.ID)
	require.NoError(t, err)
	require.Empty(t, segs)

	gotTask, err := s.Tasks.Get(ctx, testKB, task.ID)
	require.NoError(t, err)
	require.True(t, gotTask.IsDeleted)

	gotJob, err := s.Jobs.Get(ctx, testKB, job.ID)
	require.NoError(t, err)
	require.True(t, gotJob.IsDeleted)

	// Deleting again is a no-op.
	require.NoError(t, s.DocSources.Delete(ctx, testKB, src.ID))
}

func TestSegmentHierarchy(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	docID := "doc-hier"

	segs := []*models.Segment{
		{KBID: testKB, DocumentID: docID, Position: "1", Content: "root"},
		{KBID: testKB, DocumentID: docID, Position: "1.1", Content: "a"},
		{KBID: testKB, DocumentID: docID, Position: "1.2", Content: "b"},
		{KBID: testKB, DocumentID: docID, Position: "1.4", Content: "d"},
		{KBID: testKB, DocumentID: docID, Position: "2", Content: "next"},
	}
	require.NoError(t, s.Segments.CreateBatch(ctx, segs))

	listed, err := s.Segments.ListForDocument(ctx, testKB, docID)
	require.NoError(t, err)
	require.Len(t, listed, 5)
	require.Equal(t, "1", listed[0].Position)
	require.Equal(t, "2", listed[4].Position)

	mid, err := s.Segments.GetByPosition(ctx, testKB, docID, "1.2")
	require.NoError(t, err)
	require.NotNil(t, mid)

	parent, err := s.Segments.GetParent(ctx, mid)
	require.NoError(t, err)
	require.Equal(t, "1", parent.Position)

	top, err := s.Segments.GetByPosition(ctx, testKB, docID, "1")
	require.NoError(t, err)
	noParent, err := s.Segments.GetParent(ctx, top)
	require.NoError(t, err)
	require.Nil(t, noParent)

	older, err := s.Segments.GetOlderSibling(ctx, mid)
	require.NoError(t, err)
	require.Equal(t, "1.1", older.Position)

	// The nearest younger sibling of 1.2 is 1.4; ordinal 3 never existed.
	younger, err := s.Segments.GetYoungerSibling(ctx, mid)
	require.NoError(t, err)
	require.Equal(t, "1.4", younger.Position)

	first, err := s.Segments.GetByPosition(ctx, testKB, docID, "1.1")
	require.NoError(t, err)
	none, err := s.Segments.GetOlderSibling(ctx, first)
	require.NoError(t, err)
	require.Nil(t, none)

	absent, err := s.Segments.GetByPosition(ctx, testKB, docID, "9.9")
	require.NoError(t, err)
	require.Nil(t, absent)

	require.NoError(t, s.Segments.SetVector(ctx, testKB, mid.ID, []float32{0.1, 0.2}))
	got, err := s.Segments.Get(ctx, testKB, mid.ID)
	require.NoError(t, err)
	require.Len(t, got.Vector, 2)
}

func TestSegmentCreateBatchValidates(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	err := s.Segments.CreateBatch(ctx, []*models.Segment{
		{KBID: testKB, DocumentID: "d", Position: "1.a"},
	})
	require.ErrorIs(t, err, ErrValidation)

	err = s.Segments.CreateBatch(ctx, []*models.Segment{
		{KBID: testKB, DocumentID: "d"},
	})
	require.ErrorIs(t, err, ErrValidation)

	err = s.Segments.CreateBatch(ctx, []*models.Segment{
		{KBID: testKB, DocumentID: "d", Position: "1"},
		{KBID: "other_kb", DocumentID: "d", Position: "2"},
	})
	require.ErrorIs(t, err, ErrValidation)
}

func TestTaskCreateIsIdempotentPerTarget(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)

	spec := models.ProgramSpec{
		Type:      models.ProgramConnector,
		Connector: &models.ConnectorSpec{DocSourceID: src.ID},
	}

	task, err := s.Tasks.Create(ctx, testKB, src.ID, spec)
	require.NoError(t, err)
	require.Equal(t, models.TaskCreated, task.Status)
	require.Equal(t, src.ID, task.TargetID)

	dup, err := s.Tasks.Create(ctx, testKB, src.ID, spec)
	require.NoError(t, err)
	require.Equal(t, task.ID, dup.ID)

	// Once the task fails for good, the same target may be retargeted.
	require.NoError(t, s.Tasks.SetStatus(ctx, testKB, task.ID, models.TaskFailed))
	fresh, err := s.Tasks.Create(ctx, testKB, src.ID, spec)
	require.NoError(t, err)
	require.NotEqual(t, task.ID, fresh.ID)

	_, err = s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{Type: models.ProgramConnector})
	require.ErrorIs(t, err, ErrValidation)
}

func TestGetIncompleteTasks(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)

	connector, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:      models.ProgramConnector,
		Connector: &models.ConnectorSpec{DocSourceID: src.ID},
	})
	require.NoError(t, err)
	convert, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:    models.ProgramConvert,
		Convert: &models.ConvertSpec{DocSinkID: "sink-1"},
	})
	require.NoError(t, err)

	require.NoError(t, s.Tasks.SetStatus(ctx, testKB, connector.ID, models.TaskCompleted))

	open, err := s.Tasks.GetIncompleteTasksForDocSource(ctx, testKB, src.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, convert.ID, open[0].ID)

	all, err := s.Tasks.GetIncompleteTasks(ctx, testKB)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()
	src := newTestSource(t, s)

	task, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:      models.ProgramConnector,
		Connector: &models.ConnectorSpec{DocSourceID: src.ID},
	})
	require.NoError(t, err)

	first, err := s.Jobs.CreateJob(ctx, task)
	require.NoError(t, err)
	require.Equal(t, models.JobPending, first.Status)
	require.Equal(t, 0, first.RetryCount)

	// The log file exists before the job ever runs.
	require.NotEmpty(t, first.LogPath)
	_, err = os.Stat(first.LogPath)
	require.NoError(t, err)

	require.NoError(t, s.Jobs.SetStatus(ctx, testKB, first.ID, models.JobFailed))
	failed, err := s.Jobs.Get(ctx, testKB, first.ID)
	require.NoError(t, err)
	require.NotNil(t, failed.LastFailedAt)

	second, err := s.Jobs.CreateJob(ctx, task)
	require.NoError(t, err)
	require.Equal(t, 1, second.RetryCount)

	latest, err := s.Jobs.GetLatestJobForTask(ctx, testKB, task.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)

	require.NoError(t, s.Jobs.SetProgress(ctx, testKB, second.ID, 0.5))
	got, err := s.Jobs.Get(ctx, testKB, second.ID)
	require.NoError(t, err)
	require.Equal(t, 0.5, got.Progress)

	none, err := s.Jobs.GetLatestJobForTask(ctx, testKB, "no-such-task")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestKBRegistry(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	require.NoError(t, s.RegisterKB(ctx, "alpha"))
	require.NoError(t, s.RegisterKB(ctx, "beta"))
	require.NoError(t, s.RegisterKB(ctx, "alpha"))

	kbs, err := s.ListKBs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alpha", "beta"}, kbs)
}

func TestWipeRemovesAllEntities(t *testing.T) {
	s := newTestStores(t)
	ctx := context.Background()

	src := newTestSource(t, s)
	hash := "ff11223344556677ff11223344556677ff11223344556677ff11223344556677"
	sink := newTestSink(t, s, src.ID, "file:///tmp/docs/wipe.md", hash)
	_, err := s.Tasks.Create(ctx, testKB, src.ID, models.ProgramSpec{
		Type:    models.ProgramConvert,
		Convert: &models.ConvertSpec{DocSinkID: sink.ID},
	})
	require.NoError(t, err)

	require.NoError(t, s.Wipe(ctx, testKB))

	sources, err := s.DocSources.List(ctx, testKB)
	require.NoError(t, err)
	require.Empty(t, sources)

	tasks, err := s.Tasks.GetIncompleteTasks(ctx, testKB)
	require.NoError(t, err)
	require.Empty(t, tasks)
}

func TestTableNameSanitizes(t *testing.T) {
	for _, tc := range []struct{ kb, want string }{
		{"default", "default_docsinks"},
		{"my-kb", "my_kb_docsinks"},
		{"9lives", "kb_9lives_docsinks"},
		{"", "kb__docsinks"},
	} {
		if got := tableName(tc.kb, "docsinks"); got != tc.want {
			t.Errorf("tableName(%q) = %q, want %q", tc.kb, got, tc.want)
		}
	}
}
