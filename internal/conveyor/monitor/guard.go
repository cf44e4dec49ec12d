package monitor

import (
	log "github.com/sirupsen/logrus"
)

// Guard wraps a single document's extraction and routes the outcome into an
// ErrorMonitor. Fatal failures short-circuit; tolerable ones are recorded
// and only surface if they trip a monitor threshold.
type Guard struct {
	monitor *ErrorMonitor
}

func NewGuard(monitor *ErrorMonitor) *Guard {
	return &Guard{monitor: monitor}
}

// YieldSingleDocument runs extract for one document. On success the monitor
// notes a success and nil is returned. On failure the error is tagged with a
// correlation id if it has none; errors whose kind is in the fatal set are
// returned immediately without consulting the monitor further, everything
// else is delegated to the monitor, which may itself return a fatal
// threshold trip.
func (g *Guard) YieldSingleDocument(documentID string, extract func() error) error {
	err := extract()
	if err == nil {
		g.monitor.NoteSuccess()
		return nil
	}

	wrapped := Wrap(err)
	fields := log.Fields{
		"documentId":    documentID,
		"correlationId": wrapped.CorrelationID,
		"kind":          wrapped.Kind.String(),
	}
	if wrapped.Kind.Fatal() {
		log.WithError(wrapped).WithFields(fields).Error("Fatal error extracting document")
		return wrapped
	}
	log.WithError(wrapped).WithFields(fields).Warn("Tolerable error extracting document")
	return g.monitor.NoteError(wrapped, documentID)
}
