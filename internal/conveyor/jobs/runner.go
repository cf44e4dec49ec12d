package jobs

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/clock"

	"github.com/conveyorproject/conveyor/internal/common/util"
	"github.com/conveyorproject/conveyor/internal/conveyor/connectors"
	"github.com/conveyorproject/conveyor/internal/conveyor/ingest"
	"github.com/conveyorproject/conveyor/internal/conveyor/model"
	"github.com/conveyorproject/conveyor/internal/conveyor/monitor"
	"github.com/conveyorproject/conveyor/internal/conveyor/repository"
	"github.com/conveyorproject/conveyor/internal/conveyor/schedule"
)

const (
	DefaultCheckpointEvery   = 100
	DefaultCompletionTimeout = 30 * time.Second
)

// errSyncNotDue marks the post-claim schedule re-check failing: the job was
// enqueued but by execution time the connector is no longer due, e.g.
// because an earlier job already synced it. The job finalizes as canceled.
var errSyncNotDue = errors.New("sync not due at execution time")

type RunnerConfig struct {
	Monitor monitor.Config
	Sink    ingest.SinkConfig
	// CheckpointEvery is the number of stream elements between checkpoints.
	// A checkpoint flushes the sink, honours cancelation requests and
	// persists progress.
	CheckpointEvery int
	// CompletionTimeout bounds the terminal-state write, which runs on its
	// own context so that a canceled run context cannot lose the outcome.
	CompletionTimeout time.Duration
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = DefaultCheckpointEvery
	}
	if c.CompletionTimeout <= 0 {
		c.CompletionTimeout = DefaultCompletionTimeout
	}
	return c
}

// Runner executes one claimed sync job end to end: claim, validate, stream
// documents from the connector through the sink, and finalize. Safe for
// concurrent use; all per-job state lives in Execute.
type Runner struct {
	repo       repository.Repository
	registry   *connectors.Registry
	bulkClient ingest.BulkClient
	config     RunnerConfig
	clock      clock.Clock
}

func NewRunner(
	repo repository.Repository,
	registry *connectors.Registry,
	bulkClient ingest.BulkClient,
	config RunnerConfig,
) *Runner {
	return &Runner{
		repo:       repo,
		registry:   registry,
		bulkClient: bulkClient,
		config:     config.withDefaults(),
		clock:      clock.RealClock{},
	}
}

// WithClock replaces the runner clock, for tests.
func (r *Runner) WithClock(c clock.Clock) *Runner {
	r.clock = c
	return r
}

// Execute claims and runs one job. Claim losses are returned to the caller
// unwrapped so it can tell benign races from real failures; once the claim
// succeeds the job always reaches a terminal (or suspended) status and
// Execute only errors if that terminal write itself fails.
func (r *Runner) Execute(ctx context.Context, jobID string, connectorID string, expectedVersion int64) error {
	settings, job, err := r.repo.ClaimJob(ctx, jobID, connectorID, expectedVersion)
	if err != nil {
		return err
	}
	logger := log.WithFields(log.Fields{
		"jobId":       job.ID,
		"connectorId": settings.ID,
		"serviceType": settings.ServiceType,
	})
	logger.Info("Claimed sync job")

	outcome := r.run(ctx, logger, settings, job)
	completion := completionFor(outcome)

	completionCtx, cancel := context.WithTimeout(context.Background(), r.config.CompletionTimeout)
	defer cancel()
	if err := r.repo.CompleteJob(completionCtx, job.ID, completion); err != nil {
		logger.WithError(err).Error("Failed to persist job outcome")
		return err
	}
	jobsFinished.WithLabelValues(string(completion.Status)).Inc()

	resultLogger := logger.WithFields(log.Fields{
		"status":  completion.Status,
		"indexed": completion.Stats.IndexedCount,
		"deleted": completion.Stats.DeletedCount,
	})
	if completion.Status == model.JobError {
		resultLogger.WithField("error", completion.TerminalError).Warn("Sync job failed")
	} else {
		resultLogger.Info("Sync job finished")
	}
	return nil
}

type runOutcome struct {
	err     error
	stats   model.IngestionStats
	cursors map[string]string
}

func (r *Runner) run(
	ctx context.Context,
	logger *log.Entry,
	settings *model.ConnectorSettings,
	job *model.SyncJob,
) runOutcome {
	connector, ok := r.registry.Lookup(settings.ServiceType)
	if !ok {
		return runOutcome{
			err: monitor.NewError(monitor.KindConnectorNotFound,
				errors.Errorf("no connector registered for service type %q", settings.ServiceType)),
			cursors: job.Cursors,
		}
	}
	if err := validateConfiguration(settings, connector); err != nil {
		return runOutcome{err: err, cursors: job.Cursors}
	}
	if !schedule.Due(settings.Scheduling, r.clock.Now()) {
		return runOutcome{err: errSyncNotDue, cursors: job.Cursors}
	}

	source, err := connector.Open(ctx, settings, job.Cursors)
	if err != nil {
		return runOutcome{err: monitor.Wrap(err), cursors: job.Cursors}
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.WithError(err).Warn("Error closing document source")
		}
	}()

	errorMonitor := monitor.NewErrorMonitor(r.config.Monitor)
	guard := monitor.NewGuard(errorMonitor)
	sink := ingest.NewSink(r.bulkClient, settings.IndexName, settings.Pipeline, r.config.Sink)

	fail := func(err error) runOutcome {
		return runOutcome{err: err, stats: sink.Stats(), cursors: source.Cursors()}
	}

	processed := 0
	for {
		doc, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			wrapped := monitor.Wrap(err)
			if wrapped.Kind.Fatal() {
				return fail(wrapped)
			}
			if tripErr := errorMonitor.NoteError(wrapped, ""); tripErr != nil {
				return fail(tripErr)
			}
			continue
		}

		if err := guard.YieldSingleDocument(documentID(doc), func() error {
			return r.apply(ctx, sink, doc)
		}); err != nil {
			return fail(err)
		}

		processed++
		if processed%r.config.CheckpointEvery == 0 {
			if err := r.checkpoint(ctx, logger, job.ID, sink, source); err != nil {
				return fail(err)
			}
		}
	}

	if err := sink.Flush(ctx); err != nil {
		return fail(err)
	}
	if err := errorMonitor.Finalize(); err != nil {
		return fail(err)
	}
	return runOutcome{stats: sink.Stats(), cursors: source.Cursors()}
}

// checkpoint runs between batches of stream elements: it honours context
// closure and external cancelation requests, flushes buffered writes and
// persists progress. A failed progress write is tolerable, a failed flush is
// not.
func (r *Runner) checkpoint(
	ctx context.Context,
	logger *log.Entry,
	jobID string,
	sink *ingest.Sink,
	source connectors.DocumentSource,
) error {
	if err := ctx.Err(); err != nil {
		return monitor.NewError(monitor.KindJobCanceled, errors.WithMessage(err, "run context closed"))
	}
	canceled, err := r.repo.IsCancelRequested(ctx, jobID)
	if err != nil {
		var notFound *repository.ErrNotFound
		if errors.As(err, &notFound) {
			return monitor.NewError(monitor.KindJobNotFound, err)
		}
		logger.WithError(err).Warn("Could not read cancelation flag, continuing")
		canceled = false
	}

	// Buffered work is flushed even when stopping: cancelation stops pulling
	// further documents, it does not discard what was already extracted.
	if err := sink.Flush(ctx); err != nil {
		return err
	}
	if canceled {
		return monitor.NewError(monitor.KindJobCanceled, errors.New("cancelation requested"))
	}
	if err := r.repo.UpdateJobProgress(ctx, jobID, sink.Stats(), source.Cursors()); err != nil {
		logger.WithError(err).Warn("Could not persist job progress, continuing")
	}
	return nil
}

func (r *Runner) apply(ctx context.Context, sink *ingest.Sink, doc connectors.Doc) error {
	switch doc.Action {
	case connectors.ActionDelete:
		return sink.Delete(ctx, documentID(doc))
	default:
		fields := doc.Fields
		if doc.ID != "" && fields.ID() == "" {
			fields = withID(fields, doc.ID)
		}
		return sink.Ingest(ctx, fields)
	}
}

func documentID(doc connectors.Doc) string {
	if doc.ID != "" {
		return doc.ID
	}
	return doc.Fields.ID()
}

func withID(fields ingest.Document, id string) ingest.Document {
	out := make(ingest.Document, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["id"] = id
	return out
}

func validateConfiguration(settings *model.ConnectorSettings, connector connectors.Connector) error {
	stored := make([]string, 0, len(settings.Configuration))
	for key := range settings.Configuration {
		stored = append(stored, key)
	}
	if !util.StringListsEqualIgnoringOrder(stored, connector.ConfigurableFields()) {
		return monitor.NewError(monitor.KindConfigMismatch, errors.Errorf(
			"connector %q configuration keys %v do not match the %q connector's expected fields %v",
			settings.ID, stored, connector.ServiceType(), connector.ConfigurableFields()))
	}
	return nil
}

func completionFor(outcome runOutcome) repository.JobCompletion {
	completion := repository.JobCompletion{
		Stats:   outcome.stats,
		Cursors: outcome.cursors,
	}
	switch {
	case outcome.err == nil:
		completion.Status = model.JobCompleted
	case errors.Is(outcome.err, errSyncNotDue):
		completion.Status = model.JobCanceled
		completion.TerminalError = outcome.err.Error()
	default:
		wrapped := monitor.Wrap(outcome.err)
		completion.TerminalError = wrapped.Error()
		switch wrapped.Kind {
		case monitor.KindSuspend:
			completion.Status = model.JobSuspended
			completion.RetryAfter = wrapped.RetryAfter
		case monitor.KindJobCanceled:
			completion.Status = model.JobCanceled
		default:
			completion.Status = model.JobError
		}
	}
	return completion
}
