// Package jobs contains the sync job lifecycle: the producer that enqueues
// jobs, the consumer loop that polls for claimable work and the runner that
// executes a single claimed job end to end.
package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
	"github.com/conveyorproject/conveyor/internal/conveyor/repository"
)

// JobTypeSync is the only job type currently produced. The field exists so
// that other job shapes (e.g. access control syncs) can be added without a
// schema change.
const JobTypeSync = "sync"

type ErrUnsupportedJobType struct {
	JobType string
}

func (err *ErrUnsupportedJobType) Error() string {
	return fmt.Sprintf("unsupported job type %q", err.JobType)
}

// ErrInvalidSettings is returned when a job is requested with missing or
// malformed connector settings.
type ErrInvalidSettings struct {
	Reason string
}

func (err *ErrInvalidSettings) Error() string {
	return fmt.Sprintf("invalid connector settings: %s", err.Reason)
}

// ErrConnectorNotReady is returned when a job is requested for a connector
// whose lifecycle status does not allow syncing.
type ErrConnectorNotReady struct {
	ConnectorID string
	Status      model.ConnectorStatus
}

func (err *ErrConnectorNotReady) Error() string {
	return fmt.Sprintf("connector %q is not ready to sync in status %q", err.ConnectorID, err.Status)
}

// Producer creates pending sync jobs. It only validates and persists; the
// consumer decides when jobs actually run.
type Producer struct {
	repo repository.Repository
}

func NewProducer(repo repository.Repository) *Producer {
	return &Producer{repo: repo}
}

// EnqueueJob creates a pending job of the given type for the connector. The
// connector must be in a sync-ready status.
func (p *Producer) EnqueueJob(ctx context.Context, jobType string, settings *model.ConnectorSettings) (*model.SyncJob, error) {
	if jobType != JobTypeSync {
		return nil, &ErrUnsupportedJobType{JobType: jobType}
	}
	if settings == nil {
		return nil, &ErrInvalidSettings{Reason: "no settings given"}
	}
	if settings.ID == "" {
		return nil, &ErrInvalidSettings{Reason: "connector id is empty"}
	}
	if !settings.Status.SyncReady() {
		return nil, &ErrConnectorNotReady{ConnectorID: settings.ID, Status: settings.Status}
	}

	job := &model.SyncJob{
		ID:          uuid.NewString(),
		ConnectorID: settings.ID,
		JobType:     jobType,
		Status:      model.JobPending,
	}
	if err := p.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"jobId":       job.ID,
		"connectorId": settings.ID,
		"serviceType": settings.ServiceType,
	}).Info("Enqueued sync job")
	jobsEnqueued.Inc()
	return job, nil
}
