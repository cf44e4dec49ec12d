package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/conveyorproject/conveyor/internal/conveyor/connectors"
	"github.com/conveyorproject/conveyor/internal/conveyor/jobs"
	"github.com/conveyorproject/conveyor/internal/conveyor/model"
	"github.com/conveyorproject/conveyor/internal/conveyor/repository"
)

type registeredConnector struct {
	serviceType string
}

func (c *registeredConnector) ServiceType() string          { return c.serviceType }
func (c *registeredConnector) ConfigurableFields() []string { return nil }
func (c *registeredConnector) Open(context.Context, *model.ConnectorSettings, map[string]string) (connectors.DocumentSource, error) {
	return nil, nil
}

type schedulerFixture struct {
	repo      *repository.InMemoryRepository
	scheduler *Scheduler
	clock     *clock.FakeClock
}

func newSchedulerFixture(t *testing.T, now time.Time) *schedulerFixture {
	t.Helper()
	fakeClock := clock.NewFakeClock(now)
	repo := repository.NewInMemoryRepository().WithClock(fakeClock)
	registry, err := connectors.NewRegistry(&registeredConnector{"mongodb"})
	require.NoError(t, err)
	scheduler := NewScheduler(repo, registry, jobs.NewProducer(repo), Config{}).WithClock(fakeClock)
	return &schedulerFixture{repo: repo, scheduler: scheduler, clock: fakeClock}
}

func (f *schedulerFixture) addConnector(t *testing.T, settings *model.ConnectorSettings) {
	t.Helper()
	require.NoError(t, f.repo.CreateConnector(context.Background(), settings))
}

func (f *schedulerFixture) pendingJobCount(t *testing.T, connectorID string) int {
	t.Helper()
	pending, err := f.repo.PendingJobs(context.Background(), []string{connectorID})
	require.NoError(t, err)
	return len(pending)
}

func TestHeartbeat_EnqueuesDueConnector(t *testing.T) {
	f := newSchedulerFixture(t, time.Now())
	// Never synced, so due immediately.
	f.addConnector(t, &model.ConnectorSettings{
		ID:          "connector-1",
		Version:     1,
		ServiceType: "mongodb",
		Scheduling:  model.Scheduling{Enabled: true, Interval: "0 * * * *"},
		Status:      model.ConnectorConfigured,
	})

	f.scheduler.Heartbeat(context.Background())
	assert.Equal(t, 1, f.pendingJobCount(t, "connector-1"))

	// A second heartbeat does not stack another job behind the first.
	f.scheduler.Heartbeat(context.Background())
	assert.Equal(t, 1, f.pendingJobCount(t, "connector-1"))
}

func TestHeartbeat_SkipsDisabledAndNotReady(t *testing.T) {
	f := newSchedulerFixture(t, time.Now())
	f.addConnector(t, &model.ConnectorSettings{
		ID:          "disabled",
		Version:     1,
		ServiceType: "mongodb",
		Scheduling:  model.Scheduling{Enabled: false},
		Status:      model.ConnectorConfigured,
	})
	f.addConnector(t, &model.ConnectorSettings{
		ID:          "unconfigured",
		Version:     1,
		ServiceType: "mongodb",
		Scheduling:  model.Scheduling{Enabled: true},
		Status:      model.ConnectorCreated,
	})

	f.scheduler.Heartbeat(context.Background())

	assert.Zero(t, f.pendingJobCount(t, "disabled"))
	assert.Zero(t, f.pendingJobCount(t, "unconfigured"))
}

func TestHeartbeat_HonoursCronSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now)
	lastSynced := now.Add(-10 * time.Minute)
	f.addConnector(t, &model.ConnectorSettings{
		ID:          "connector-1",
		Version:     1,
		ServiceType: "mongodb",
		Scheduling: model.Scheduling{
			Enabled:      true,
			Interval:     "0 * * * *",
			LastSyncedAt: &lastSynced,
		},
		Status: model.ConnectorConnected,
	})

	// 10:30, last synced 10:20, next due 11:00.
	f.scheduler.Heartbeat(context.Background())
	assert.Zero(t, f.pendingJobCount(t, "connector-1"))

	f.clock.SetTime(now.Add(31 * time.Minute))
	f.scheduler.Heartbeat(context.Background())
	assert.Equal(t, 1, f.pendingJobCount(t, "connector-1"))
}

func TestHeartbeat_SyncNowOverridesSchedule(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	f := newSchedulerFixture(t, now)
	lastSynced := now.Add(-time.Minute)
	f.addConnector(t, &model.ConnectorSettings{
		ID:          "connector-1",
		Version:     1,
		ServiceType: "mongodb",
		Scheduling: model.Scheduling{
			Enabled:      true,
			Interval:     "0 * * * *",
			LastSyncedAt: &lastSynced,
			SyncNow:      true,
		},
		Status: model.ConnectorConnected,
	})

	f.scheduler.Heartbeat(context.Background())
	assert.Equal(t, 1, f.pendingJobCount(t, "connector-1"))
}

func TestHeartbeat_IgnoresUnregisteredServiceTypes(t *testing.T) {
	f := newSchedulerFixture(t, time.Now())
	f.addConnector(t, &model.ConnectorSettings{
		ID:          "connector-1",
		Version:     1,
		ServiceType: "sharepoint",
		Scheduling:  model.Scheduling{Enabled: true},
		Status:      model.ConnectorConfigured,
	})

	f.scheduler.Heartbeat(context.Background())
	assert.Zero(t, f.pendingJobCount(t, "connector-1"))
}

func TestScheduler_StartAndStop(t *testing.T) {
	f := newSchedulerFixture(t, time.Now())
	f.scheduler.Start(context.Background())
	assert.False(t, f.scheduler.Stop())
	assert.False(t, f.scheduler.Stop())
}
