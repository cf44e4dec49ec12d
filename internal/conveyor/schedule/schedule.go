// Package schedule implements the cron due-time calculation shared by the
// scheduler loop and the job runner's post-claim re-check.
package schedule

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

// NextAfter parses a standard five-field cron expression and returns the
// first due time strictly after last.
func NextAfter(expr string, last time.Time) (time.Time, error) {
	parsed, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, errors.WithMessagef(err, "invalid sync interval %q", expr)
	}
	return parsed.Next(last), nil
}

// Due decides whether a connector should sync at now. The sync-now flag
// forces a run, a connector that has never synced runs, otherwise the next
// scheduled time after the last sync must have passed. An unparseable
// schedule is treated as never due; it is logged, not fatal.
func Due(scheduling model.Scheduling, now time.Time) bool {
	if scheduling.SyncNow {
		return true
	}
	if scheduling.LastSyncedAt == nil {
		return true
	}
	next, err := NextAfter(scheduling.Interval, *scheduling.LastSyncedAt)
	if err != nil {
		log.WithError(err).Warn("Unparseable sync schedule, treating connector as never due")
		return false
	}
	return !next.After(now)
}
