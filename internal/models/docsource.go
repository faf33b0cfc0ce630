package models

import "time"

// SourceType identifies the kind of external origin a DocSource points at.
type SourceType string

const (
	SourceFile   SourceType = "file"
	SourceURL    SourceType = "url"
	SourceSearch SourceType = "search"
	SourceNotion SourceType = "notion"
)

// DocSource is a configured external origin to be ingested into a KB.
// It is created by callers; its status is driven only by the scheduler
// and task runner.
type DocSource struct {
	ID           string          `json:"id"`
	KBID         string          `json:"kb_id"`
	SourceType   SourceType      `json:"source_type"`
	URI          string          `json:"uri"`
	IngestConfig map[string]any  `json:"ingest_config,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	Status       DocSourceStatus `json:"status"`
	IsDeleted    bool            `json:"is_deleted"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsFinished reports whether ingestion of this source is done, successfully
// or not.
func (s *DocSource) IsFinished() bool {
	return s.Status.IsFinished()
}

// DocSink is the content-addressed raw artifact produced by ingesting a
// DocSource. When a second DocSource ingests byte-identical content, the
// existing sink absorbs it via the Extra* back-reference lists instead of
// a duplicate being created.
type DocSink struct {
	ID             string        `json:"id"`
	DocSourceID    string        `json:"docsource_uuid"`
	KBID           string        `json:"kb_id"`
	OriginalDocURI string        `json:"original_doc_uri"`
	RawDocURI      string        `json:"raw_doc_uri"`
	ContentHash    string        `json:"content_hash,omitempty"`
	Size           int64         `json:"size"`
	Status         DocSinkStatus `json:"status"`

	// Back-references recorded when other DocSources ingest identical content.
	ExtraOriginalDocURI []string `json:"extra_original_doc_uri,omitempty"`
	ExtraDocSourceID    []string `json:"extra_docsource_uuid,omitempty"`

	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocSinkCreate is the input a Connector produces for each ingested artifact.
type DocSinkCreate struct {
	DocSourceID    string `json:"docsource_uuid"`
	KBID           string `json:"kb_id"`
	OriginalDocURI string `json:"original_doc_uri"`
	RawDocURI      string `json:"raw_doc_uri"`
	ContentHash    string `json:"content_hash,omitempty"`
	Size           int64  `json:"size"`
}
