package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	documentsIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_ingest_documents_indexed_total",
		Help: "Number of documents queued for indexing",
	})
	documentsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_ingest_documents_deleted_total",
		Help: "Number of document deletions queued",
	})
	documentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "conveyor_ingest_documents_skipped_total",
		Help: "Number of documents skipped before ingestion",
	}, []string{"reason"})
	bulkFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_ingest_bulk_flushes_total",
		Help: "Number of bulk flushes submitted to the search engine",
	})
	bulkFlushErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_ingest_bulk_flush_errors_total",
		Help: "Number of failed bulk flushes",
	})
	bulkFlushedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "conveyor_ingest_bulk_flushed_bytes_total",
		Help: "Serialized bytes successfully flushed to the search engine",
	})
)

const (
	skipReasonEmpty     = "empty"
	skipReasonOversized = "oversized"
)
