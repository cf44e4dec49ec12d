// Package monitor converts a stream of per-document failures into job-level
// pass/fail decisions. The ErrorMonitor tracks counters and a sliding window
// of recent outcomes; the Guard wraps individual document extractions and
// routes tolerable failures into the monitor.
package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/conveyorproject/conveyor/internal/common/util"
)

// Kind is a closed enumeration of failure kinds. Classification is by kind
// rather than by error type hierarchy so that the fatal set is explicit and
// cannot grow through subclassing.
type Kind int

const (
	// KindUnexpected is any failure not otherwise classified. Tolerable.
	KindUnexpected Kind = iota
	// KindConsecutiveErrors trips when too many documents fail back to back.
	KindConsecutiveErrors
	// KindTotalErrors trips when too many documents fail over the whole job.
	KindTotalErrors
	// KindWindowErrors trips when the failure ratio in the trailing window
	// is too high.
	KindWindowErrors
	// KindOverallErrors trips at finalize when the whole-job failure ratio
	// is too high.
	KindOverallErrors
	KindJobNotFound
	KindJobCanceled
	KindJobNotRunning
	KindConnectorNotFound
	KindConfigMismatch
	KindBulkWriteFailed
	// KindSuspend marks a retryable source condition, e.g. rate limiting.
	// The job finalizes as suspended and is re-claimable later.
	KindSuspend
)

var kindNames = map[Kind]string{
	KindUnexpected:        "unexpected",
	KindConsecutiveErrors: "consecutive_errors",
	KindTotalErrors:       "total_errors",
	KindWindowErrors:      "window_errors",
	KindOverallErrors:     "overall_errors",
	KindJobNotFound:       "job_not_found",
	KindJobCanceled:       "job_canceled",
	KindJobNotRunning:     "job_not_running",
	KindConnectorNotFound: "connector_not_found",
	KindConfigMismatch:    "config_mismatch",
	KindBulkWriteFailed:   "bulk_write_failed",
	KindSuspend:           "suspend",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// fatalKinds is the predicate table for job-terminating failure kinds.
// KindUnexpected is the only tolerable kind.
var fatalKinds = map[Kind]bool{
	KindConsecutiveErrors: true,
	KindTotalErrors:       true,
	KindWindowErrors:      true,
	KindOverallErrors:     true,
	KindJobNotFound:       true,
	KindJobCanceled:       true,
	KindJobNotRunning:     true,
	KindConnectorNotFound: true,
	KindConfigMismatch:    true,
	KindBulkWriteFailed:   true,
	KindSuspend:           true,
}

// Fatal reports whether a failure of this kind terminates the job.
func (k Kind) Fatal() bool {
	return fatalKinds[k]
}

// Error is a failure tagged with a Kind and a correlation id. The correlation
// id is assigned at the point of capture and survives wrapping, so a stored
// document error can be matched to log lines.
type Error struct {
	Kind          Kind
	CorrelationID string
	// RetryAfter is populated for KindSuspend only.
	RetryAfter *time.Time
	cause      error
}

func NewError(kind Kind, cause error) *Error {
	return &Error{
		Kind:          kind,
		CorrelationID: util.NewULID(),
		cause:         cause,
	}
}

// NewSuspendError marks a retryable source condition that should pause the
// job until retryAfter.
func NewSuspendError(retryAfter time.Time, cause error) *Error {
	err := NewError(KindSuspend, cause)
	err.RetryAfter = &retryAfter
	return err
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s [%s]", e.Kind, e.CorrelationID)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, e.CorrelationID, e.cause.Error())
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Wrap returns err as a *Error, tagging untyped errors as KindUnexpected
// with a fresh correlation id. Errors that are already tagged pass through
// unchanged, keeping their original correlation id.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}
	return NewError(KindUnexpected, err)
}

// KindOf returns the failure kind of err, KindUnexpected if untagged.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindUnexpected
}
