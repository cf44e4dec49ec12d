package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

func TestNextAfter(t *testing.T) {
	last := time.Date(2024, 3, 1, 10, 20, 0, 0, time.UTC)
	next, err := NextAfter("0 * * * *", last)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), next)
}

func TestNextAfter_InvalidExpression(t *testing.T) {
	_, err := NextAfter("not a cron", time.Now())
	assert.Error(t, err)
}

func TestDue_SyncNowForcesRun(t *testing.T) {
	now := time.Now()
	assert.True(t, Due(model.Scheduling{SyncNow: true, Interval: "not a cron"}, now))
}

func TestDue_NeverSyncedRuns(t *testing.T) {
	assert.True(t, Due(model.Scheduling{Interval: "0 * * * *"}, time.Now()))
}

func TestDue_HonoursLastSynced(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	recent := now.Add(-time.Minute)
	assert.False(t, Due(model.Scheduling{Interval: "0 * * * *", LastSyncedAt: &recent}, now))

	stale := now.Add(-2 * time.Hour)
	assert.True(t, Due(model.Scheduling{Interval: "0 * * * *", LastSyncedAt: &stale}, now))
}

func TestDue_UnparseableScheduleIsNeverDue(t *testing.T) {
	last := time.Now().Add(-24 * time.Hour)
	assert.False(t, Due(model.Scheduling{Interval: "bogus", LastSyncedAt: &last}, time.Now()))
}
