package monitor

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/conveyorproject/conveyor/internal/common/util"
)

const (
	DefaultMaxConsecutiveErrors = 10
	DefaultMaxTotalErrors       = 1000
	DefaultWindowSize           = 100
	DefaultErrorRatio           = 0.15
	DefaultErrorQueueSize       = 20

	// maxTraceLength caps stored error traces to respect storage limits.
	maxTraceLength = 10_000
)

// Config bounds how many document failures a job tolerates before it is
// declared non-viable. Zero values are replaced with defaults.
type Config struct {
	MaxConsecutiveErrors int
	MaxTotalErrors       int
	WindowSize           int
	// WindowErrorRatio trips once the window is full and the fraction of
	// failed slots exceeds it.
	WindowErrorRatio float64
	// TotalErrorRatio is checked once, at finalize, against the whole job.
	TotalErrorRatio float64
	ErrorQueueSize  int
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.MaxTotalErrors <= 0 {
		c.MaxTotalErrors = DefaultMaxTotalErrors
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.WindowErrorRatio <= 0 {
		c.WindowErrorRatio = DefaultErrorRatio
	}
	if c.TotalErrorRatio <= 0 {
		c.TotalErrorRatio = DefaultErrorRatio
	}
	if c.ErrorQueueSize <= 0 {
		c.ErrorQueueSize = DefaultErrorQueueSize
	}
	return c
}

// DocumentError captures one document failure for diagnostics. Immutable
// once created.
type DocumentError struct {
	Kind          Kind
	DocumentID    string
	Message       string
	Trace         string
	CorrelationID string
}

// ErrorMonitor tracks success/error outcomes for a single job and decides
// when accumulated failures make the job non-viable. Not safe for concurrent
// use: document processing within a job is sequential by design.
type ErrorMonitor struct {
	config Config

	totalErrorCount       int
	successCount          int
	consecutiveErrorCount int

	// window is a fixed-length circular buffer of recent outcomes, true
	// meaning the document failed.
	window      []bool
	windowIndex int
	windowFill  int

	// errorQueue is a bounded rolling queue of recent document errors,
	// oldest dropped first.
	errorQueue []DocumentError
	lastError  *DocumentError
}

func NewErrorMonitor(config Config) *ErrorMonitor {
	config = config.withDefaults()
	return &ErrorMonitor{
		config: config,
		window: make([]bool, config.WindowSize),
	}
}

// NoteSuccess records one successfully processed document. Any run of
// consecutive errors is broken.
func (m *ErrorMonitor) NoteSuccess() {
	m.consecutiveErrorCount = 0
	m.successCount++
	m.recordOutcome(false)
}

// NoteError records one failed document and returns a fatal *Error if a
// threshold tripped, nil otherwise. Trip conditions are evaluated in fixed
// priority order: consecutive, total, windowed, then re-signalling an error
// whose own kind is terminating. At most one condition is reported.
func (m *ErrorMonitor) NoteError(err error, documentID string) error {
	m.totalErrorCount++
	m.consecutiveErrorCount++
	m.recordOutcome(true)

	wrapped := Wrap(err)
	docErr := DocumentError{
		Kind:          wrapped.Kind,
		DocumentID:    documentID,
		Message:       wrapped.Error(),
		Trace:         util.Truncate(fmt.Sprintf("%+v", err), maxTraceLength),
		CorrelationID: wrapped.CorrelationID,
	}
	m.pushError(docErr)

	if m.consecutiveErrorCount > m.config.MaxConsecutiveErrors {
		return NewError(KindConsecutiveErrors, errors.Errorf(
			"too many consecutive errors (%d, max %d); last: %s",
			m.consecutiveErrorCount, m.config.MaxConsecutiveErrors, docErr.Message))
	}
	if m.totalErrorCount > m.config.MaxTotalErrors {
		return NewError(KindTotalErrors, errors.Errorf(
			"too many total errors (%d, max %d); last: %s",
			m.totalErrorCount, m.config.MaxTotalErrors, docErr.Message))
	}
	if ratio, full := m.windowErrorRatio(); full && ratio > m.config.WindowErrorRatio {
		return NewError(KindWindowErrors, errors.Errorf(
			"too many errors in window (ratio %.2f, max %.2f); last: %s",
			ratio, m.config.WindowErrorRatio, docErr.Message))
	}
	if wrapped.Kind.Fatal() {
		return wrapped
	}
	return nil
}

// Finalize recomputes the overall error ratio across the entire job and
// returns a fatal *Error if it exceeds the configured ratio. Called exactly
// once at job end, even when no error was ever noted.
func (m *ErrorMonitor) Finalize() error {
	processed := m.successCount + m.totalErrorCount
	if processed == 0 {
		return nil
	}
	ratio := float64(m.totalErrorCount) / float64(processed)
	if ratio > m.config.TotalErrorRatio {
		message := "no errors recorded"
		if m.lastError != nil {
			message = m.lastError.Message
		}
		return NewError(KindOverallErrors, errors.Errorf(
			"too many errors overall (ratio %.2f, max %.2f); last: %s",
			ratio, m.config.TotalErrorRatio, message))
	}
	return nil
}

func (m *ErrorMonitor) TotalErrorCount() int       { return m.totalErrorCount }
func (m *ErrorMonitor) SuccessCount() int          { return m.successCount }
func (m *ErrorMonitor) ConsecutiveErrorCount() int { return m.consecutiveErrorCount }

// LastError returns the most recent document error, nil if none occurred.
func (m *ErrorMonitor) LastError() *DocumentError {
	return m.lastError
}

// Errors returns the bounded rolling queue of recent document errors, oldest
// first.
func (m *ErrorMonitor) Errors() []DocumentError {
	out := make([]DocumentError, len(m.errorQueue))
	copy(out, m.errorQueue)
	return out
}

func (m *ErrorMonitor) recordOutcome(failed bool) {
	m.window[m.windowIndex] = failed
	m.windowIndex = (m.windowIndex + 1) % len(m.window)
	if m.windowFill < len(m.window) {
		m.windowFill++
	}
}

func (m *ErrorMonitor) windowErrorRatio() (ratio float64, full bool) {
	if m.windowFill < len(m.window) {
		return 0, false
	}
	failed := 0
	for _, slot := range m.window {
		if slot {
			failed++
		}
	}
	return float64(failed) / float64(len(m.window)), true
}

func (m *ErrorMonitor) pushError(docErr DocumentError) {
	if len(m.errorQueue) >= m.config.ErrorQueueSize {
		m.errorQueue = m.errorQueue[1:]
	}
	m.errorQueue = append(m.errorQueue, docErr)
	m.lastError = &docErr
}
