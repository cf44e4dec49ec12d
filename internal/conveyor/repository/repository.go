// Package repository is the persistence collaborator for connector settings
// and sync jobs. The claim protocol implemented here is what guarantees at
// most one in-flight job per connector, even with multiple consumer
// processes sharing one store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

// ErrNotFound is returned whenever a connector or job does not exist.
type ErrNotFound struct {
	Type  string // e.g. "connector" or "job"
	Value string
}

func (err *ErrNotFound) Error() string {
	return fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
}

// ErrVersionConflict is returned when a claim loses the optimistic version
// check because the connector record moved underneath it. An expected,
// non-exceptional race.
type ErrVersionConflict struct {
	ConnectorID     string
	ExpectedVersion int64
}

func (err *ErrVersionConflict) Error() string {
	return fmt.Sprintf("connector %q version changed, expected %d", err.ConnectorID, err.ExpectedVersion)
}

// ErrJobAlreadyRunning is returned when a claim finds the job already held
// by another runner. An expected, non-exceptional race.
type ErrJobAlreadyRunning struct {
	JobID string
}

func (err *ErrJobAlreadyRunning) Error() string {
	return fmt.Sprintf("job %q is already running", err.JobID)
}

// ErrJobNotClaimable is returned when a claim targets a job in a terminal
// status.
type ErrJobNotClaimable struct {
	JobID  string
	Status model.JobStatus
}

func (err *ErrJobNotClaimable) Error() string {
	return fmt.Sprintf("job %q is not claimable in status %q", err.JobID, err.Status)
}

// IsExpectedClaimRace reports whether err is one of the benign claim races
// that should be logged and skipped rather than treated as a failure.
func IsExpectedClaimRace(err error) bool {
	var versionConflict *ErrVersionConflict
	var alreadyRunning *ErrJobAlreadyRunning
	var notClaimable *ErrJobNotClaimable
	return errors.As(err, &versionConflict) ||
		errors.As(err, &alreadyRunning) ||
		errors.As(err, &notClaimable)
}

// JobCompletion carries everything persisted when a job reaches a terminal
// state. The owning connector record is updated in the same operation: a
// completed sync stamps last-synced, clears the sync-now flag and marks the
// connector connected; a failed sync marks it errored.
type JobCompletion struct {
	Status        model.JobStatus
	Stats         model.IngestionStats
	Cursors       map[string]string
	TerminalError string
	// RetryAfter is set for suspended jobs; the job is not re-claimable
	// before this time.
	RetryAfter *time.Time
}

// Repository is the store for connector settings and sync jobs.
type Repository interface {
	// ListConnectors returns connectors filtered to the given service
	// types; all connectors if serviceTypes is empty.
	ListConnectors(ctx context.Context, serviceTypes []string) ([]*model.ConnectorSettings, error)
	// ReadyConnectors returns connectors whose lifecycle status allows
	// syncing and whose scheduling is enabled.
	ReadyConnectors(ctx context.Context) ([]*model.ConnectorSettings, error)
	GetConnector(ctx context.Context, id string) (*model.ConnectorSettings, error)
	CreateConnector(ctx context.Context, settings *model.ConnectorSettings) error
	// SetSyncNow flags the connector for an immediate sync on the next
	// consumer tick.
	SetSyncNow(ctx context.Context, connectorID string) error

	CreateJob(ctx context.Context, job *model.SyncJob) error
	GetJob(ctx context.Context, id string) (*model.SyncJob, error)
	// PendingJobs returns jobs awaiting execution for the given
	// connectors: pending jobs plus suspended jobs whose retry-after has
	// passed.
	PendingJobs(ctx context.Context, connectorIDs []string) ([]*model.SyncJob, error)
	// ClaimJob atomically marks the job in progress and bumps the
	// connector version, failing with ErrVersionConflict if the connector
	// version moved since expectedVersion was read, ErrJobAlreadyRunning
	// if another runner holds the job and ErrJobNotClaimable for terminal
	// jobs. At most one concurrent claim per job can succeed. Returns the
	// refreshed connector settings and job.
	ClaimJob(ctx context.Context, jobID string, connectorID string, expectedVersion int64) (*model.ConnectorSettings, *model.SyncJob, error)
	// UpdateJobProgress persists mid-run stats and cursors. Only the
	// claim holder calls this.
	UpdateJobProgress(ctx context.Context, jobID string, stats model.IngestionStats, cursors map[string]string) error
	// CompleteJob moves the job into a terminal (or suspended) status and
	// releases the connector.
	CompleteJob(ctx context.Context, jobID string, completion JobCompletion) error

	RequestCancel(ctx context.Context, jobID string) error
	IsCancelRequested(ctx context.Context, jobID string) (bool, error)
}
