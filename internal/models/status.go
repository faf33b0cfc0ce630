// Package models defines the four-entity document model (DocSource, DocSink,
// Document, Segment) and the Task/Job scheduling entities of the docflow
// pipeline. Status enums are persisted as their string values.
package models

// DocSourceStatus tracks the overall progress of ingesting a source.
type DocSourceStatus string

const (
	DocSourceCreated    DocSourceStatus = "CREATED"
	DocSourceProcessing DocSourceStatus = "PROCESSING"
	DocSourceCompleted  DocSourceStatus = "COMPLETED"
	DocSourceFailed     DocSourceStatus = "FAILED"
	DocSourceAborted    DocSourceStatus = "ABORTED"
	DocSourcePartial    DocSourceStatus = "PARTIAL"
)

// IsFinished reports whether the source reached a terminal status.
func (s DocSourceStatus) IsFinished() bool {
	switch s {
	case DocSourceCompleted, DocSourceFailed, DocSourceAborted, DocSourcePartial:
		return true
	}
	return false
}

// DocSinkStatus tracks a raw ingested artifact through the pipeline.
// PROCESSING means the sink has been converted and its normalized content
// is available; COMPLETED means embedding finished as well.
type DocSinkStatus string

const (
	DocSinkCreated    DocSinkStatus = "CREATED"
	DocSinkProcessing DocSinkStatus = "PROCESSING"
	DocSinkCompleted  DocSinkStatus = "COMPLETED"
	DocSinkFailed     DocSinkStatus = "FAILED"
)

// StageStatus is the per-stage status carried by Documents for the split
// and embed stages, which progress independently of each other.
type StageStatus string

const (
	StageCreated   StageStatus = "CREATED"
	StageCompleted StageStatus = "COMPLETED"
	StageFailed    StageStatus = "FAILED"
)

// TaskStatus is the aggregate status of a Task, derived from its latest Job.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "CREATED"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskAborted   TaskStatus = "ABORTED"
)

// Incomplete reports whether the task still needs scheduler attention.
func (s TaskStatus) Incomplete() bool {
	return s != TaskCompleted
}

// JobStatus models one execution attempt:
// CREATED -> PENDING -> RUNNING -> {PAUSED} -> COMPLETED | FAILED | ABORTED.
// PAUSED may transition back to RUNNING. Soft-delete never changes status.
type JobStatus string

const (
	JobCreated   JobStatus = "CREATED"
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobPaused    JobStatus = "PAUSED"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobAborted   JobStatus = "ABORTED"
)

// IsTerminal reports whether the job can make no further progress.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobAborted:
		return true
	}
	return false
}
