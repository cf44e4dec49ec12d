package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

func newTestRepository(t *testing.T, now time.Time) (*InMemoryRepository, *clock.FakeClock) {
	t.Helper()
	fakeClock := clock.NewFakeClock(now)
	repo := NewInMemoryRepository().WithClock(fakeClock)
	require.NoError(t, repo.CreateConnector(context.Background(), &model.ConnectorSettings{
		ID:          "connector-1",
		Version:     1,
		ServiceType: "mongodb",
		IndexName:   "search-mongodb",
		Status:      model.ConnectorConfigured,
		Scheduling:  model.Scheduling{Enabled: true},
	}))
	return repo, fakeClock
}

func TestClaimJob_SingleWinner(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, time.Now())
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-1",
		ConnectorID: "connector-1",
		JobType:     "sync",
		Status:      model.JobPending,
	}))

	settings, job, err := repo.ClaimJob(ctx, "job-1", "connector-1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), settings.Version)
	assert.Equal(t, model.JobInProgress, job.Status)
	require.NotNil(t, job.StartedAt)

	// A second claim with the stale version loses the version check.
	_, _, err = repo.ClaimJob(ctx, "job-1", "connector-1", 1)
	var versionConflict *ErrVersionConflict
	require.ErrorAs(t, err, &versionConflict)
	assert.True(t, IsExpectedClaimRace(err))

	// Even with the fresh version the job is already held.
	_, _, err = repo.ClaimJob(ctx, "job-1", "connector-1", 2)
	var alreadyRunning *ErrJobAlreadyRunning
	require.ErrorAs(t, err, &alreadyRunning)
	assert.True(t, IsExpectedClaimRace(err))
}

func TestClaimJob_ConnectorAllowsOneInFlightJob(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, time.Now())
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-1",
		ConnectorID: "connector-1",
		Status:      model.JobPending,
	}))

	settings, _, err := repo.ClaimJob(ctx, "job-1", "connector-1", 1)
	require.NoError(t, err)

	// A second job enqueued while the first runs cannot be claimed, even
	// with the fresh connector version.
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-2",
		ConnectorID: "connector-1",
		Status:      model.JobPending,
	}))
	_, _, err = repo.ClaimJob(ctx, "job-2", "connector-1", settings.Version)
	var alreadyRunning *ErrJobAlreadyRunning
	require.ErrorAs(t, err, &alreadyRunning)
	assert.Equal(t, "job-1", alreadyRunning.JobID)
	assert.True(t, IsExpectedClaimRace(err))

	job2, err := repo.GetJob(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job2.Status)

	// Once the first job finishes, the second becomes claimable.
	require.NoError(t, repo.CompleteJob(ctx, "job-1", JobCompletion{Status: model.JobCompleted}))
	settings, err = repo.GetConnector(ctx, "connector-1")
	require.NoError(t, err)
	_, job2, err = repo.ClaimJob(ctx, "job-2", "connector-1", settings.Version)
	require.NoError(t, err)
	assert.Equal(t, model.JobInProgress, job2.Status)
}

func TestClaimJob_TerminalJobNotClaimable(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, time.Now())
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-1",
		ConnectorID: "connector-1",
		Status:      model.JobCompleted,
	}))

	_, _, err := repo.ClaimJob(ctx, "job-1", "connector-1", 1)
	var notClaimable *ErrJobNotClaimable
	require.ErrorAs(t, err, &notClaimable)
	assert.Equal(t, model.JobCompleted, notClaimable.Status)
}

func TestClaimJob_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, time.Now())

	_, _, err := repo.ClaimJob(ctx, "no-such-job", "connector-1", 1)
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.False(t, IsExpectedClaimRace(err))

	_, _, err = repo.ClaimJob(ctx, "no-such-job", "no-such-connector", 1)
	require.ErrorAs(t, err, &notFound)
}

func TestPendingJobs_SuspendedRespectsRetryAfter(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo, fakeClock := newTestRepository(t, now)

	retryAfter := now.Add(10 * time.Minute)
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-pending",
		ConnectorID: "connector-1",
		Status:      model.JobPending,
	}))
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-suspended",
		ConnectorID: "connector-1",
		Status:      model.JobSuspended,
		RetryAfter:  &retryAfter,
	}))

	jobs, err := repo.PendingJobs(ctx, []string{"connector-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-pending", jobs[0].ID)

	fakeClock.SetTime(now.Add(11 * time.Minute))
	jobs, err = repo.PendingJobs(ctx, []string{"connector-1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = repo.PendingJobs(ctx, []string{"other-connector"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestCompleteJob_UpdatesConnector(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo, _ := newTestRepository(t, now)
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-1",
		ConnectorID: "connector-1",
		Status:      model.JobInProgress,
	}))

	stats := model.IngestionStats{IndexedCount: 5, IndexedBytes: 1000, DeletedCount: 1}
	err := repo.CompleteJob(ctx, "job-1", JobCompletion{
		Status:  model.JobCompleted,
		Stats:   stats,
		Cursors: map[string]string{"resume": "token"},
	})
	require.NoError(t, err)

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, stats, job.Stats)
	assert.Equal(t, map[string]string{"resume": "token"}, job.Cursors)
	require.NotNil(t, job.CompletedAt)

	settings, err := repo.GetConnector(ctx, "connector-1")
	require.NoError(t, err)
	assert.Equal(t, model.ConnectorConnected, settings.Status)
	assert.False(t, settings.Scheduling.SyncNow)
	require.NotNil(t, settings.Scheduling.LastSyncedAt)
	assert.True(t, now.Equal(*settings.Scheduling.LastSyncedAt))
}

func TestCompleteJob_ErrorMarksConnectorErrored(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, time.Now())
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-1",
		ConnectorID: "connector-1",
		Status:      model.JobInProgress,
	}))

	err := repo.CompleteJob(ctx, "job-1", JobCompletion{
		Status:        model.JobError,
		TerminalError: "source exploded",
	})
	require.NoError(t, err)

	job, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobError, job.Status)
	assert.Equal(t, "source exploded", job.TerminalError)

	settings, err := repo.GetConnector(ctx, "connector-1")
	require.NoError(t, err)
	assert.Equal(t, model.ConnectorError, settings.Status)
	assert.Nil(t, settings.Scheduling.LastSyncedAt)
}

func TestCancelFlag_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, time.Now())
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-1",
		ConnectorID: "connector-1",
		Status:      model.JobInProgress,
	}))

	requested, err := repo.IsCancelRequested(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, repo.RequestCancel(ctx, "job-1"))
	requested, err = repo.IsCancelRequested(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, requested)

	err = repo.RequestCancel(ctx, "no-such-job")
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestClaimedCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t, time.Now())
	require.NoError(t, repo.CreateJob(ctx, &model.SyncJob{
		ID:          "job-1",
		ConnectorID: "connector-1",
		Status:      model.JobPending,
		Cursors:     map[string]string{"resume": "a"},
	}))

	_, job, err := repo.ClaimJob(ctx, "job-1", "connector-1", 1)
	require.NoError(t, err)
	job.Cursors["resume"] = "mutated"

	stored, err := repo.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.Cursors["resume"])
}
