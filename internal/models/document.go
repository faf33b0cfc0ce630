package models

import "time"

// Document is the normalized (converted) form of exactly one DocSink.
// The store never holds two live Documents for the same sink: re-ingestion
// soft-deletes the previous Document before creating the new one.
type Document struct {
	ID           string   `json:"id"`
	DocSinkID    string   `json:"docsink_uuid"`
	DocSourceIDs []string `json:"docsource_uuids,omitempty"`
	KBID         string   `json:"kb_id"`
	Content      string   `json:"content"`
	DocURI       string   `json:"doc_uri"`
	OriginalURI  string   `json:"original_uri"`

	// Split and embed progress independently of each other.
	SplitStatus StageStatus `json:"split_status"`
	EmbedStatus StageStatus `json:"embed_status"`

	Summary  string   `json:"summary,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Authors  []string `json:"authors,omitempty"`

	IsDeleted bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Segment is a chunk of a Document's normalized content, addressed by a
// dot-separated hierarchical ordinal such as "1", "1.2" or "1.2.3".
type Segment struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_uuid"`
	DocSinkID  string `json:"docsink_uuid"`
	KBID       string `json:"kb_id"`
	Content    string `json:"content"`
	Position   string `json:"position_in_doc"`
	// ParentPosition is derived from Position at creation time so sibling
	// lookups stay keyed queries instead of scans.
	ParentPosition string    `json:"parent_position"`
	Heading        string    `json:"heading,omitempty"`
	StartOffset    int       `json:"start_offset"`
	EndOffset      int       `json:"end_offset"`
	Label          string    `json:"label,omitempty"`
	Vector         []float32 `json:"vector,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
