// Package ingest contains the bounded ingestion sink that batches document
// writes under item-count and byte-size limits and flushes them to the
// search engine bulk client.
package ingest

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// OperationKind distinguishes the two write shapes the search engine bulk
// API accepts.
type OperationKind int

const (
	OpIndex OperationKind = iota
	OpDelete
)

func (k OperationKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "index"
}

// Operation is one serialized write: an action metadata line plus, for
// upserts, the serialized document source. Produced by the sink, buffered by
// the BulkQueue and destroyed on flush.
type Operation struct {
	Kind       OperationKind
	Index      string
	DocumentID string
	// Meta is the serialized bulk action line.
	Meta []byte
	// Source is the serialized document, nil for deletes.
	Source []byte
}

// Size returns the operation's serialized byte length.
func (op Operation) Size() int {
	return len(op.Meta) + len(op.Source)
}

type bulkAction struct {
	Index string `json:"_index"`
	ID    string `json:"_id"`
}

// NewIndexOperation builds an upsert-by-id operation for an already
// serialized document.
func NewIndexOperation(index string, documentID string, source []byte) (Operation, error) {
	meta, err := json.Marshal(map[string]bulkAction{"index": {Index: index, ID: documentID}})
	if err != nil {
		return Operation{}, errors.WithStack(err)
	}
	return Operation{
		Kind:       OpIndex,
		Index:      index,
		DocumentID: documentID,
		Meta:       meta,
		Source:     source,
	}, nil
}

// NewDeleteOperation builds a delete-by-id operation.
func NewDeleteOperation(index string, documentID string) (Operation, error) {
	meta, err := json.Marshal(map[string]bulkAction{"delete": {Index: index, ID: documentID}})
	if err != nil {
		return Operation{}, errors.WithStack(err)
	}
	return Operation{
		Kind:       OpDelete,
		Index:      index,
		DocumentID: documentID,
		Meta:       meta,
	}, nil
}

// BulkClient is the search engine bulk-write collaborator. Implementations
// are responsible for their own transport retries; an error returned here
// means the batch is lost from the sink's perspective.
type BulkClient interface {
	// Bulk submits ops as one ordered bulk write, optionally through the
	// named ingest pipeline.
	Bulk(ctx context.Context, ops []Operation, pipeline string) error
}
