package models

import (
	"fmt"
	"time"
)

// ProgramType tags which pipeline stage a Task or Job performs.
type ProgramType string

const (
	ProgramConnector ProgramType = "CONNECTOR"
	ProgramConvert   ProgramType = "CONVERT"
	ProgramSplit     ProgramType = "SPLIT"
	ProgramEmbed     ProgramType = "EMBED"
)

// ProgramSpec is a tagged union describing a unit of pipeline work.
// Exactly one payload pointer must be set, and it must match Type;
// Validate enforces this so the task runner can dispatch exhaustively.
type ProgramSpec struct {
	Type      ProgramType    `json:"type"`
	Connector *ConnectorSpec `json:"connector,omitempty"`
	Convert   *ConvertSpec   `json:"convert,omitempty"`
	Split     *SplitSpec     `json:"split,omitempty"`
	Embed     *EmbedSpec     `json:"embed,omitempty"`
}

// ConnectorSpec ingests one DocSource.
type ConnectorSpec struct {
	DocSourceID string `json:"docsource_uuid"`
}

// ConvertSpec converts one DocSink into a Document.
type ConvertSpec struct {
	DocSinkID string `json:"docsink_uuid"`
}

// SplitSpec splits one Document into Segments.
type SplitSpec struct {
	DocumentID string `json:"document_uuid"`
}

// EmbedSpec embeds a batch of Segments belonging to one Document.
type EmbedSpec struct {
	DocumentID string   `json:"document_uuid"`
	SegmentIDs []string `json:"segment_uuids"`
}

// TargetID returns the id of the entity the spec operates on. For embed
// specs that is the owning document.
func (s ProgramSpec) TargetID() string {
	switch s.Type {
	case ProgramConnector:
		if s.Connector != nil {
			return s.Connector.DocSourceID
		}
	case ProgramConvert:
		if s.Convert != nil {
			return s.Convert.DocSinkID
		}
	case ProgramSplit:
		if s.Split != nil {
			return s.Split.DocumentID
		}
	case ProgramEmbed:
		if s.Embed != nil {
			return s.Embed.DocumentID
		}
	}
	return ""
}

// Validate checks that exactly one payload is present and matches Type.
func (s ProgramSpec) Validate() error {
	count := 0
	if s.Connector != nil {
		count++
	}
	if s.Convert != nil {
		count++
	}
	if s.Split != nil {
		count++
	}
	if s.Embed != nil {
		count++
	}
	if count != 1 {
		return fmt.Errorf("program spec must carry exactly one payload, got %d", count)
	}

	var ok bool
	switch s.Type {
	case ProgramConnector:
		ok = s.Connector != nil && s.Connector.DocSourceID != ""
	case ProgramConvert:
		ok = s.Convert != nil && s.Convert.DocSinkID != ""
	case ProgramSplit:
		ok = s.Split != nil && s.Split.DocumentID != ""
	case ProgramEmbed:
		ok = s.Embed != nil && s.Embed.DocumentID != "" && len(s.Embed.SegmentIDs) > 0
	default:
		return fmt.Errorf("unknown program type %q", s.Type)
	}
	if !ok {
		return fmt.Errorf("program spec payload does not match type %s", s.Type)
	}
	return nil
}

// Task is the durable description of one pipeline-stage unit of work.
// ProgramType and TargetID duplicate fields of Spec at the top level so
// stores can filter on them.
type Task struct {
	ID          string      `json:"id"`
	KBID        string      `json:"kb_id"`
	DocSourceID string      `json:"docsource_uuid,omitempty"`
	ProgramType ProgramType `json:"program_type"`
	TargetID    string      `json:"target_id"`
	Spec        ProgramSpec `json:"program_spec"`
	Status      TaskStatus  `json:"status"`
	IsDeleted   bool        `json:"is_deleted"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Job is one timed execution attempt of a Task. A task may accumulate
// several jobs; the one with the greatest CreatedAt is authoritative.
type Job struct {
	ID           string      `json:"id"`
	TaskID       string      `json:"task_uuid"`
	KBID         string      `json:"kb_id"`
	Spec         ProgramSpec `json:"program_spec"`
	Status       JobStatus   `json:"status"`
	Progress     float64     `json:"progress"`
	Result       string      `json:"result,omitempty"`
	LogPath      string      `json:"log_path"`
	OutputDir    string      `json:"output_dir,omitempty"`
	RetryCount   int         `json:"retry_count"`
	PausedAt     *time.Time  `json:"paused_at,omitempty"`
	LastFailedAt *time.Time  `json:"last_failed_at,omitempty"`
	IsDeleted    bool        `json:"is_deleted"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}
