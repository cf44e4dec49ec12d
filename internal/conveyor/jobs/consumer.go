package jobs

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/conveyorproject/conveyor/internal/common/pool"
	"github.com/conveyorproject/conveyor/internal/common/task"
	"github.com/conveyorproject/conveyor/internal/conveyor/connectors"
	"github.com/conveyorproject/conveyor/internal/conveyor/model"
	"github.com/conveyorproject/conveyor/internal/conveyor/repository"
	"github.com/conveyorproject/conveyor/internal/conveyor/search"
)

const (
	DefaultPollInterval    = 15 * time.Second
	DefaultWorkers         = 4
	DefaultShutdownTimeout = 30 * time.Second
)

type ConsumerConfig struct {
	PollInterval time.Duration
	// Workers bounds how many jobs run concurrently. The admission queue
	// has the same capacity; pending jobs that do not fit are simply
	// picked up again on a later poll.
	Workers         int
	ShutdownTimeout time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return c
}

// Consumer polls the repository for claimable jobs of registered connector
// types and hands them to a bounded worker pool. Claim races between
// concurrent consumers resolve in the repository; losing a claim is routine
// and logged at info level.
type Consumer struct {
	repo        repository.Repository
	registry    *connectors.Registry
	runner      *Runner
	provisioner *search.Provisioner
	config      ConsumerConfig

	taskManager *task.BackgroundTaskManager
	workerPool  *pool.WorkerPool
}

func NewConsumer(
	repo repository.Repository,
	registry *connectors.Registry,
	runner *Runner,
	provisioner *search.Provisioner,
	config ConsumerConfig,
) *Consumer {
	config = config.withDefaults()
	return &Consumer{
		repo:        repo,
		registry:    registry,
		runner:      runner,
		provisioner: provisioner,
		config:      config,
		workerPool:  pool.NewWorkerPool(config.Workers, config.Workers),
	}
}

// Start begins the polling loop. The first poll happens immediately.
// Restarting after Stop works and gets a fresh timer and pool: a shut-down
// pool cannot accept work again.
func (c *Consumer) Start(ctx context.Context) {
	if !c.workerPool.Running() {
		c.workerPool = pool.NewWorkerPool(c.config.Workers, c.config.Workers)
	}
	c.taskManager = task.NewBackgroundTaskManager("conveyor_consumer_")
	c.taskManager.Register(func() { c.Poll(ctx) }, c.config.PollInterval, "job_poll")
}

// Running reports whether the consumer is accepting work.
func (c *Consumer) Running() bool {
	return c.taskManager != nil && c.taskManager.Running() && c.workerPool.Running()
}

// Stop halts polling and waits up to the configured timeout for in-flight
// jobs to finish. Returns true if the wait timed out; timed-out runners are
// abandoned, their jobs stay in progress until their claims are recovered.
func (c *Consumer) Stop() bool {
	timedOut := false
	if c.taskManager != nil && c.taskManager.Running() {
		timedOut = c.taskManager.StopAll(c.config.ShutdownTimeout)
	}
	if c.workerPool.Shutdown(c.config.ShutdownTimeout) {
		timedOut = true
	}
	return timedOut
}

// Poll runs a single consumer tick: find ready connectors, find their
// claimable jobs and submit each to the worker pool. Nothing here crashes
// the loop: every failure is logged and the next tick starts fresh.
func (c *Consumer) Poll(ctx context.Context) {
	ready, err := c.repo.ReadyConnectors(ctx)
	if err != nil {
		log.WithError(err).Error("Could not list ready connectors")
		return
	}

	known := make(map[string]*model.ConnectorSettings)
	connectorIDs := make([]string, 0, len(ready))
	for _, settings := range ready {
		if _, ok := c.registry.Lookup(settings.ServiceType); !ok {
			continue
		}
		known[settings.ID] = settings
		connectorIDs = append(connectorIDs, settings.ID)
	}
	if len(connectorIDs) == 0 {
		return
	}

	pendingJobs, err := c.repo.PendingJobs(ctx, connectorIDs)
	if err != nil {
		log.WithError(err).Error("Could not list pending jobs")
		return
	}

	for _, job := range pendingJobs {
		settings := known[job.ConnectorID]
		if err := c.provisioner.EnsureIndex(ctx, settings.IndexName); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"jobId": job.ID,
				"index": settings.IndexName,
			}).Error("Could not provision index, skipping job")
			continue
		}
		if !c.submit(ctx, job, settings) {
			return
		}
	}
}

// submit hands one job to the worker pool. Returns false if the pool is
// saturated, in which case the rest of this tick's jobs wait for the next
// poll.
func (c *Consumer) submit(ctx context.Context, job *model.SyncJob, settings *model.ConnectorSettings) bool {
	jobID := job.ID
	connectorID := settings.ID
	expectedVersion := settings.Version

	err := c.workerPool.Submit(func() {
		err := c.runner.Execute(ctx, jobID, connectorID, expectedVersion)
		if err == nil {
			return
		}
		if repository.IsExpectedClaimRace(err) {
			claimRaces.Inc()
			log.WithError(err).WithField("jobId", jobID).Info("Lost job claim to another runner")
			return
		}
		log.WithError(err).WithField("jobId", jobID).Error("Job execution failed")
	})
	if err == pool.ErrSaturated {
		submissionsRejected.Inc()
		log.WithField("jobId", jobID).Info("Worker pool saturated, deferring remaining jobs to next poll")
		return false
	}
	if err != nil {
		log.WithError(err).WithField("jobId", jobID).Warn("Could not submit job")
		return false
	}
	return true
}
