// Package scheduler enqueues sync jobs for connectors whose cron schedule
// says they are due. It only produces work; claiming and running is the
// consumer's business, and the runner re-checks dueness after claiming, so
// over-enqueueing here is safe, just wasteful.
package scheduler

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/conveyorproject/conveyor/internal/common/task"
	"github.com/conveyorproject/conveyor/internal/conveyor/connectors"
	"github.com/conveyorproject/conveyor/internal/conveyor/jobs"
	"github.com/conveyorproject/conveyor/internal/conveyor/repository"
	"github.com/conveyorproject/conveyor/internal/conveyor/schedule"
)

const DefaultHeartbeatInterval = time.Minute

type Config struct {
	HeartbeatInterval time.Duration
	ShutdownTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

// Scheduler periodically walks the connectors of registered service types
// and enqueues a sync job for each one that is due.
type Scheduler struct {
	repo     repository.Repository
	registry *connectors.Registry
	producer *jobs.Producer
	config   Config
	clock    clock.Clock

	taskManager *task.BackgroundTaskManager
}

func NewScheduler(
	repo repository.Repository,
	registry *connectors.Registry,
	producer *jobs.Producer,
	config Config,
) *Scheduler {
	return &Scheduler{
		repo:     repo,
		registry: registry,
		producer: producer,
		config:   config.withDefaults(),
		clock:    clock.RealClock{},
	}
}

// WithClock replaces the scheduler clock, for tests.
func (s *Scheduler) WithClock(c clock.Clock) *Scheduler {
	s.clock = c
	return s
}

// Start begins the heartbeat loop. The first heartbeat runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.taskManager = task.NewBackgroundTaskManager("conveyor_scheduler_")
	s.taskManager.Register(func() { s.Heartbeat(ctx) }, s.config.HeartbeatInterval, "heartbeat")
}

// Stop halts the heartbeat loop. Returns true if the wait timed out.
func (s *Scheduler) Stop() bool {
	if s.taskManager == nil || !s.taskManager.Running() {
		return false
	}
	return s.taskManager.StopAll(s.config.ShutdownTimeout)
}

// Heartbeat runs a single scheduling pass. A failed connector listing means
// no connector is due this pass; individual enqueue failures are logged and
// do not stop the pass.
func (s *Scheduler) Heartbeat(ctx context.Context) {
	serviceTypes := s.registry.ServiceTypes()
	if len(serviceTypes) == 0 {
		return
	}
	candidates, err := s.repo.ListConnectors(ctx, serviceTypes)
	if err != nil {
		log.WithError(err).Error("Could not list connectors, no syncs scheduled this heartbeat")
		return
	}

	now := s.clock.Now()
	for _, settings := range candidates {
		if !settings.Scheduling.Enabled || !settings.Status.SyncReady() {
			continue
		}
		if !schedule.Due(settings.Scheduling, now) {
			continue
		}
		if s.hasOutstandingJob(ctx, settings.ID) {
			continue
		}
		if _, err := s.producer.EnqueueJob(ctx, jobs.JobTypeSync, settings); err != nil {
			log.WithError(err).WithField("connectorId", settings.ID).Error("Could not enqueue scheduled sync")
		}
	}
}

// hasOutstandingJob reports whether the connector already has a claimable
// job, so a due connector is not enqueued twice while its last job waits for
// a consumer. Errs on the side of true: if the check fails we skip the
// connector and let a later heartbeat retry.
func (s *Scheduler) hasOutstandingJob(ctx context.Context, connectorID string) bool {
	pendingJobs, err := s.repo.PendingJobs(ctx, []string{connectorID})
	if err != nil {
		log.WithError(err).WithField("connectorId", connectorID).Warn("Could not check for outstanding jobs")
		return true
	}
	return len(pendingJobs) > 0
}
