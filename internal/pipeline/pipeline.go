// Package pipeline implements the four program types the task runner can
// execute: connectors that pull raw artifacts out of external origins,
// the converter that normalizes them to markdown, the splitter that cuts
// documents into positioned segments, and the embedders that vectorize
// segment batches.
package pipeline

import (
	"context"
	"fmt"

	"github.com/docflowd/docflow/internal/models"
)

// Artifact is one raw payload fetched by a connector, not yet persisted.
type Artifact struct {
	// OriginalURI identifies the payload at its origin (file path, URL).
	OriginalURI string
	Data        []byte
}

// EmitFunc receives each artifact a connector fetches. The callback owns
// persistence; connectors only fetch.
type EmitFunc func(ctx context.Context, a Artifact) error

// ProgressFunc reports fractional completion in [0,1]. May be nil.
type ProgressFunc func(fraction float64)

// Connector pulls raw content out of one kind of external origin.
type Connector interface {
	Type() models.SourceType
	Fetch(ctx context.Context, src *models.DocSource, emit EmitFunc, progress ProgressFunc) error
}

// ConnectorSet maps source types to their connectors.
type ConnectorSet map[models.SourceType]Connector

// NewConnectorSet indexes connectors by the source type they handle.
func NewConnectorSet(conns ...Connector) ConnectorSet {
	set := make(ConnectorSet, len(conns))
	for _, c := range conns {
		set[c.Type()] = c
	}
	return set
}

// For returns the connector registered for a source type.
func (s ConnectorSet) For(t models.SourceType) (Connector, error) {
	c, ok := s[t]
	if !ok {
		return nil, fmt.Errorf("no connector for source type %q", t)
	}
	return c, nil
}

func report(progress ProgressFunc, fraction float64) {
	if progress != nil {
		progress(fraction)
	}
}
