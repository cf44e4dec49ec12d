package model

import (
	"time"
)

// ConnectorStatus is the lifecycle status of a connector.
type ConnectorStatus string

const (
	ConnectorCreated            ConnectorStatus = "created"
	ConnectorNeedsConfiguration ConnectorStatus = "needs_configuration"
	ConnectorConfigured         ConnectorStatus = "configured"
	ConnectorConnected          ConnectorStatus = "connected"
	ConnectorError              ConnectorStatus = "error"
)

// SyncReady reports whether a connector in this status may be synced.
func (s ConnectorStatus) SyncReady() bool {
	return s == ConnectorConfigured || s == ConnectorConnected
}

// JobStatus is the lifecycle status of a sync job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobError      JobStatus = "error"
	JobCanceled   JobStatus = "canceled"
	JobSuspended  JobStatus = "suspended"
)

// Terminal reports whether no further execution may happen for a job in this
// status. Suspended jobs are not terminal: they are re-claimable once their
// retry-after time has passed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobError || s == JobCanceled
}

// Claimable reports whether a runner may claim a job in this status.
func (s JobStatus) Claimable() bool {
	return s == JobPending || s == JobSuspended
}

// Scheduling holds a connector's sync schedule.
type Scheduling struct {
	Enabled bool `json:"enabled"`
	// Interval is a standard five-field cron expression.
	Interval     string     `json:"interval"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	// SyncNow forces a run on the next consumer tick regardless of the
	// cron schedule. Cleared when a sync completes successfully.
	SyncNow bool `json:"syncNow"`
}

// ConnectorSettings is the persisted record for one connector instance.
// Version implements optimistic concurrency: every successful claim bumps it,
// and a claim against a stale version fails.
type ConnectorSettings struct {
	ID            string            `json:"id"`
	Version       int64             `json:"version"`
	ServiceType   string            `json:"serviceType"`
	Configuration map[string]string `json:"configuration"`
	Scheduling    Scheduling        `json:"scheduling"`
	IndexName     string            `json:"indexName"`
	// Pipeline is an optional search engine ingest pipeline applied on
	// bulk writes.
	Pipeline string          `json:"pipeline,omitempty"`
	Status   ConnectorStatus `json:"status"`
}

// DeepCopy returns a copy that shares no mutable state with the original.
func (c *ConnectorSettings) DeepCopy() *ConnectorSettings {
	copied := *c
	copied.Configuration = make(map[string]string, len(c.Configuration))
	for k, v := range c.Configuration {
		copied.Configuration[k] = v
	}
	if c.Scheduling.LastSyncedAt != nil {
		t := *c.Scheduling.LastSyncedAt
		copied.Scheduling.LastSyncedAt = &t
	}
	return &copied
}

// SyncJob is the persisted record for one sync attempt of one connector.
// Only the runner holding the claim may mutate a job, with the single
// exception of CancelRequested which may be flipped externally at any time.
type SyncJob struct {
	ID          string    `json:"id"`
	ConnectorID string    `json:"connectorId"`
	JobType     string    `json:"jobType"`
	Status      JobStatus `json:"status"`
	// Cursors is opaque per-connector resume state.
	Cursors         map[string]string `json:"cursors,omitempty"`
	Stats           IngestionStats    `json:"stats"`
	TerminalError   string            `json:"terminalError,omitempty"`
	CancelRequested bool              `json:"cancelRequested"`
	// RetryAfter is set when a job suspends due to a retryable source
	// error, e.g. rate limiting.
	RetryAfter  *time.Time `json:"retryAfter,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (j *SyncJob) DeepCopy() *SyncJob {
	copied := *j
	if j.Cursors != nil {
		copied.Cursors = make(map[string]string, len(j.Cursors))
		for k, v := range j.Cursors {
			copied.Cursors[k] = v
		}
	}
	if j.RetryAfter != nil {
		t := *j.RetryAfter
		copied.RetryAfter = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		copied.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		copied.CompletedAt = &t
	}
	return &copied
}

// IngestionStats tracks document counters for one sync job, split into
// queued (buffered but not yet acknowledged by the search engine) and
// completed (acknowledged). Queued counters move into completed on every
// successful flush.
type IngestionStats struct {
	QueuedIndexedCount int64 `json:"queuedIndexedCount"`
	QueuedIndexedBytes int64 `json:"queuedIndexedBytes"`
	QueuedDeletedCount int64 `json:"queuedDeletedCount"`

	IndexedCount int64 `json:"indexedCount"`
	IndexedBytes int64 `json:"indexedBytes"`
	DeletedCount int64 `json:"deletedCount"`
}

// CommitQueued moves the queued counters into the completed counters,
// resetting queued to zero. Called after a successful bulk flush.
func (s *IngestionStats) CommitQueued() {
	s.IndexedCount += s.QueuedIndexedCount
	s.IndexedBytes += s.QueuedIndexedBytes
	s.DeletedCount += s.QueuedDeletedCount
	s.QueuedIndexedCount = 0
	s.QueuedIndexedBytes = 0
	s.QueuedDeletedCount = 0
}

// Completed returns a snapshot holding only acknowledged counters.
func (s IngestionStats) Completed() IngestionStats {
	return IngestionStats{
		IndexedCount: s.IndexedCount,
		IndexedBytes: s.IndexedBytes,
		DeletedCount: s.DeletedCount,
	}
}
