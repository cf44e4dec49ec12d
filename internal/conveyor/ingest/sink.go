package ingest

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
	"github.com/conveyorproject/conveyor/internal/conveyor/monitor"
)

// DefaultMaxDocumentSize is the per-document serialized size cap, 5 MiB.
const DefaultMaxDocumentSize = 5 * 1024 * 1024

// Document is an extracted document ready for indexing. The value under the
// "id" key is the document identity in the target index.
type Document map[string]interface{}

// ID returns the document's identity, empty if absent or not a string.
func (d Document) ID() string {
	if id, ok := d["id"].(string); ok {
		return id
	}
	return ""
}

// SinkConfig bounds the sink's buffering. Zero values fall back to defaults.
type SinkConfig struct {
	MaxQueuedItems  int
	MaxQueuedBytes  int
	MaxDocumentSize int
}

// Sink consumes documents and deletions for one sync job, serializes them,
// batches them in a BulkQueue and flushes to the search engine on overflow
// or explicit request. Owned exclusively by one job runner; not safe for
// concurrent use.
type Sink struct {
	client          BulkClient
	index           string
	pipeline        string
	queue           *BulkQueue
	maxDocumentSize int
	stats           model.IngestionStats
}

func NewSink(client BulkClient, index string, pipeline string, config SinkConfig) *Sink {
	maxDocumentSize := config.MaxDocumentSize
	if maxDocumentSize <= 0 {
		maxDocumentSize = DefaultMaxDocumentSize
	}
	return &Sink{
		client:          client,
		index:           index,
		pipeline:        pipeline,
		queue:           NewBulkQueue(config.MaxQueuedItems, config.MaxQueuedBytes),
		maxDocumentSize: maxDocumentSize,
	}
}

// Ingest queues doc for upsert. Empty, unidentifiable, unserializable and
// oversized documents are skipped with a warning and never produce an error;
// the only error Ingest returns is a failed overflow flush.
func (s *Sink) Ingest(ctx context.Context, doc Document) error {
	if len(doc) == 0 {
		log.Warn("Skipping empty document")
		documentsSkipped.WithLabelValues(skipReasonEmpty).Inc()
		return nil
	}
	id := doc.ID()
	if id == "" {
		log.Warn("Skipping document without an id")
		documentsSkipped.WithLabelValues(skipReasonEmpty).Inc()
		return nil
	}
	source, err := json.Marshal(doc)
	if err != nil {
		log.WithError(err).WithField("documentId", id).Warn("Skipping unserializable document")
		documentsSkipped.WithLabelValues(skipReasonEmpty).Inc()
		return nil
	}
	if len(source) > s.maxDocumentSize {
		log.WithField("documentId", id).
			Warnf("Skipping document of %d bytes, max allowed is %d", len(source), s.maxDocumentSize)
		documentsSkipped.WithLabelValues(skipReasonOversized).Inc()
		return nil
	}

	op, err := NewIndexOperation(s.index, id, source)
	if err != nil {
		log.WithError(err).WithField("documentId", id).Warn("Skipping document, could not build index operation")
		documentsSkipped.WithLabelValues(skipReasonEmpty).Inc()
		return nil
	}
	if err := s.addOperation(ctx, op); err != nil {
		return err
	}
	s.stats.QueuedIndexedCount++
	s.stats.QueuedIndexedBytes += int64(op.Size())
	documentsIndexed.Inc()
	return nil
}

// IngestMultiple queues docs sequentially. The batch is not atomic: a
// skipped document does not abort the rest, only flush failures do.
func (s *Sink) IngestMultiple(ctx context.Context, docs []Document) error {
	for _, doc := range docs {
		if err := s.Ingest(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// Delete queues a delete-by-id. A no-op for empty ids.
func (s *Sink) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	op, err := NewDeleteOperation(s.index, id)
	if err != nil {
		log.WithError(err).WithField("documentId", id).Warn("Skipping deletion, could not build delete operation")
		return nil
	}
	if err := s.addOperation(ctx, op); err != nil {
		return err
	}
	s.stats.QueuedDeletedCount++
	documentsDeleted.Inc()
	return nil
}

func (s *Sink) DeleteMultiple(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) addOperation(ctx context.Context, op Operation) error {
	if !s.queue.WillFit(op) {
		if err := s.Flush(ctx); err != nil {
			return err
		}
	}
	s.queue.Add(op)
	return nil
}

// Flush submits all buffered operations as one bulk write. A failed bulk
// write is fatal to the job: the buffered operations are not restored, so
// delivery is at most once from the sink's perspective.
func (s *Sink) Flush(ctx context.Context) error {
	ops := s.queue.PopAll()
	if len(ops) == 0 {
		return nil
	}
	flushedBytes := 0
	for _, op := range ops {
		flushedBytes += op.Size()
	}
	if err := s.client.Bulk(ctx, ops, s.pipeline); err != nil {
		bulkFlushErrors.Inc()
		return monitor.NewError(monitor.KindBulkWriteFailed, err)
	}
	bulkFlushes.Inc()
	bulkFlushedBytes.Add(float64(flushedBytes))
	s.stats.CommitQueued()
	return nil
}

// Stats returns a snapshot of the completed (acknowledged) counters only;
// queued but unflushed data is not included.
func (s *Sink) Stats() model.IngestionStats {
	return s.stats.Completed()
}
