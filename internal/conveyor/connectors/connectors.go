// Package connectors defines the contract between the sync machinery and
// source-specific connector implementations, plus the registry the service
// uses to look connectors up by service type.
package connectors

import (
	"context"

	"github.com/conveyorproject/conveyor/internal/conveyor/ingest"
	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

// Action says what to do with a document yielded by a source.
type Action string

const (
	ActionCreateOrUpdate Action = "create_or_update"
	ActionDelete         Action = "delete"
)

// Doc is one element of a connector's document stream.
type Doc struct {
	Action Action
	// ID identifies the document in the target index. Required for
	// deletes; upserts may alternatively carry it in Fields under "id".
	ID     string
	Fields ingest.Document
	// DownloadRef optionally points at binary content to be fetched
	// during extraction; opaque to the orchestration layer.
	DownloadRef string
}

// DocumentSource is a lazy, restartable-by-cursor document stream. Next
// returns io.EOF when the stream is exhausted. Errors may be tagged with
// monitor kinds; a suspend-tagged error asks the runner to park the job and
// retry later with the cursors returned by Cursors.
type DocumentSource interface {
	Next(ctx context.Context) (Doc, error)
	// Cursors returns the current resume state. Valid at any point,
	// including after a suspend error.
	Cursors() map[string]string
	Close() error
}

// Connector is a source-specific adapter that yields documents and
// deletions from a third-party system.
type Connector interface {
	// ServiceType is the stable identifier connecting persisted settings
	// to this implementation, e.g. "mongodb" or "sharepoint".
	ServiceType() string
	// ConfigurableFields lists the configuration keys instances of this
	// connector must carry; a configured connector whose stored keys
	// differ is rejected before any sync I/O happens.
	ConfigurableFields() []string
	// Open starts a document stream for one sync job.
	Open(ctx context.Context, settings *model.ConnectorSettings, cursors map[string]string) (DocumentSource, error)
}
