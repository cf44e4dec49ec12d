package repository

import (
	"context"
	"sync"

	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

// InMemoryRepository is a map-backed Repository used by tests and local
// mode. The coarse lock makes every operation atomic, which is what gives
// ClaimJob its at-most-one-winner guarantee here.
type InMemoryRepository struct {
	mu         sync.Mutex
	connectors map[string]*model.ConnectorSettings
	jobs       map[string]*model.SyncJob
	clock      clock.Clock
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		connectors: map[string]*model.ConnectorSettings{},
		jobs:       map[string]*model.SyncJob{},
		clock:      clock.RealClock{},
	}
}

// WithClock replaces the repository clock, for tests.
func (r *InMemoryRepository) WithClock(c clock.Clock) *InMemoryRepository {
	r.clock = c
	return r
}

func (r *InMemoryRepository) ListConnectors(_ context.Context, serviceTypes []string) ([]*model.ConnectorSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]bool, len(serviceTypes))
	for _, serviceType := range serviceTypes {
		wanted[serviceType] = true
	}
	var out []*model.ConnectorSettings
	for _, settings := range r.connectors {
		if len(serviceTypes) == 0 || wanted[settings.ServiceType] {
			out = append(out, settings.DeepCopy())
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ReadyConnectors(_ context.Context) ([]*model.ConnectorSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ConnectorSettings
	for _, settings := range r.connectors {
		if settings.Status.SyncReady() && settings.Scheduling.Enabled {
			out = append(out, settings.DeepCopy())
		}
	}
	return out, nil
}

func (r *InMemoryRepository) GetConnector(_ context.Context, id string) (*model.ConnectorSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	settings, ok := r.connectors[id]
	if !ok {
		return nil, &ErrNotFound{Type: "connector", Value: id}
	}
	return settings.DeepCopy(), nil
}

func (r *InMemoryRepository) CreateConnector(_ context.Context, settings *model.ConnectorSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[settings.ID] = settings.DeepCopy()
	return nil
}

func (r *InMemoryRepository) SetSyncNow(_ context.Context, connectorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	settings, ok := r.connectors[connectorID]
	if !ok {
		return &ErrNotFound{Type: "connector", Value: connectorID}
	}
	settings.Scheduling.SyncNow = true
	return nil
}

func (r *InMemoryRepository) CreateJob(_ context.Context, job *model.SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := job.DeepCopy()
	copied.CreatedAt = r.clock.Now()
	r.jobs[copied.ID] = copied
	return nil
}

func (r *InMemoryRepository) GetJob(_ context.Context, id string) (*model.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, &ErrNotFound{Type: "job", Value: id}
	}
	return job.DeepCopy(), nil
}

func (r *InMemoryRepository) PendingJobs(_ context.Context, connectorIDs []string) ([]*model.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]bool, len(connectorIDs))
	for _, id := range connectorIDs {
		wanted[id] = true
	}
	now := r.clock.Now()
	var out []*model.SyncJob
	for _, job := range r.jobs {
		if !wanted[job.ConnectorID] {
			continue
		}
		switch job.Status {
		case model.JobPending:
			out = append(out, job.DeepCopy())
		case model.JobSuspended:
			if job.RetryAfter == nil || !job.RetryAfter.After(now) {
				out = append(out, job.DeepCopy())
			}
		}
	}
	return out, nil
}

func (r *InMemoryRepository) ClaimJob(
	_ context.Context,
	jobID string,
	connectorID string,
	expectedVersion int64,
) (*model.ConnectorSettings, *model.SyncJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	settings, ok := r.connectors[connectorID]
	if !ok {
		return nil, nil, &ErrNotFound{Type: "connector", Value: connectorID}
	}
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, nil, &ErrNotFound{Type: "job", Value: jobID}
	}
	if settings.Version != expectedVersion {
		return nil, nil, &ErrVersionConflict{ConnectorID: connectorID, ExpectedVersion: expectedVersion}
	}
	if job.Status == model.JobInProgress {
		return nil, nil, &ErrJobAlreadyRunning{JobID: jobID}
	}
	if !job.Status.Claimable() {
		return nil, nil, &ErrJobNotClaimable{JobID: jobID, Status: job.Status}
	}
	// At most one in-flight job per connector: a sibling job already holding
	// the connector blocks this claim, whatever the target job's own status.
	for id, other := range r.jobs {
		if other.ConnectorID == connectorID && other.Status == model.JobInProgress {
			return nil, nil, &ErrJobAlreadyRunning{JobID: id}
		}
	}

	settings.Version++
	job.Status = model.JobInProgress
	now := r.clock.Now()
	job.StartedAt = &now
	return settings.DeepCopy(), job.DeepCopy(), nil
}

func (r *InMemoryRepository) UpdateJobProgress(
	_ context.Context,
	jobID string,
	stats model.IngestionStats,
	cursors map[string]string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return &ErrNotFound{Type: "job", Value: jobID}
	}
	job.Stats = stats
	job.Cursors = copyCursors(cursors)
	return nil
}

func (r *InMemoryRepository) CompleteJob(_ context.Context, jobID string, completion JobCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return &ErrNotFound{Type: "job", Value: jobID}
	}

	now := r.clock.Now()
	job.Status = completion.Status
	job.Stats = completion.Stats
	job.Cursors = copyCursors(completion.Cursors)
	job.TerminalError = completion.TerminalError
	job.RetryAfter = completion.RetryAfter
	job.CompletedAt = &now

	if settings, ok := r.connectors[job.ConnectorID]; ok {
		switch completion.Status {
		case model.JobCompleted:
			settings.Scheduling.LastSyncedAt = &now
			settings.Scheduling.SyncNow = false
			settings.Status = model.ConnectorConnected
		case model.JobError:
			settings.Status = model.ConnectorError
		}
	}
	return nil
}

func (r *InMemoryRepository) RequestCancel(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return &ErrNotFound{Type: "job", Value: jobID}
	}
	job.CancelRequested = true
	return nil
}

func (r *InMemoryRepository) IsCancelRequested(_ context.Context, jobID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return false, &ErrNotFound{Type: "job", Value: jobID}
	}
	return job.CancelRequested, nil
}

func copyCursors(cursors map[string]string) map[string]string {
	if cursors == nil {
		return nil
	}
	copied := make(map[string]string, len(cursors))
	for k, v := range cursors {
		copied[k] = v
	}
	return copied
}
