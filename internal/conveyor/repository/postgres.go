package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/conveyorproject/conveyor/internal/conveyor/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS connector (
	id text PRIMARY KEY,
	version bigint NOT NULL DEFAULT 1,
	service_type text NOT NULL,
	configuration jsonb NOT NULL DEFAULT '{}',
	scheduling_enabled boolean NOT NULL DEFAULT false,
	sync_interval text NOT NULL DEFAULT '',
	last_synced_at timestamptz,
	sync_now boolean NOT NULL DEFAULT false,
	index_name text NOT NULL,
	pipeline text NOT NULL DEFAULT '',
	status text NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_job (
	id text PRIMARY KEY,
	connector_id text NOT NULL REFERENCES connector (id),
	job_type text NOT NULL DEFAULT 'sync',
	status text NOT NULL,
	cursors jsonb NOT NULL DEFAULT '{}',
	stats jsonb NOT NULL DEFAULT '{}',
	terminal_error text NOT NULL DEFAULT '',
	cancel_requested boolean NOT NULL DEFAULT false,
	retry_after timestamptz,
	created_at timestamptz NOT NULL DEFAULT now(),
	started_at timestamptz,
	completed_at timestamptz
);

CREATE INDEX IF NOT EXISTS idx_sync_job_connector_status ON sync_job (connector_id, status);
`

var psql = goqu.Dialect("postgres")

var (
	connectorTable = goqu.T("connector")
	syncJobTable   = goqu.T("sync_job")

	connectorColumns = []interface{}{
		"id", "version", "service_type", "configuration", "scheduling_enabled",
		"sync_interval", "last_synced_at", "sync_now", "index_name", "pipeline", "status",
	}
	syncJobColumns = []interface{}{
		"id", "connector_id", "job_type", "status", "cursors", "stats", "terminal_error",
		"cancel_requested", "retry_after", "created_at", "started_at", "completed_at",
	}
)

// PostgresRepository persists connectors and jobs in Postgres. The claim
// protocol relies on conditional updates, so it is correct with any number
// of consumer processes sharing the database.
type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Setup creates the schema if it does not exist yet.
func (r *PostgresRepository) Setup(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return errors.WithMessage(err, "error creating conveyor schema")
}

func (r *PostgresRepository) ListConnectors(ctx context.Context, serviceTypes []string) ([]*model.ConnectorSettings, error) {
	ds := psql.From(connectorTable).Select(connectorColumns...)
	if len(serviceTypes) > 0 {
		ds = ds.Where(goqu.C("service_type").In(serviceTypes))
	}
	return r.queryConnectors(ctx, ds)
}

func (r *PostgresRepository) ReadyConnectors(ctx context.Context) ([]*model.ConnectorSettings, error) {
	ds := psql.From(connectorTable).Select(connectorColumns...).
		Where(goqu.And(
			goqu.C("scheduling_enabled").IsTrue(),
			goqu.C("status").In(string(model.ConnectorConfigured), string(model.ConnectorConnected)),
		))
	return r.queryConnectors(ctx, ds)
}

func (r *PostgresRepository) GetConnector(ctx context.Context, id string) (*model.ConnectorSettings, error) {
	ds := psql.From(connectorTable).Select(connectorColumns...).Where(goqu.C("id").Eq(id))
	connectors, err := r.queryConnectors(ctx, ds)
	if err != nil {
		return nil, err
	}
	if len(connectors) == 0 {
		return nil, &ErrNotFound{Type: "connector", Value: id}
	}
	return connectors[0], nil
}

func (r *PostgresRepository) CreateConnector(ctx context.Context, settings *model.ConnectorSettings) error {
	configuration, err := json.Marshal(settings.Configuration)
	if err != nil {
		return errors.WithStack(err)
	}
	version := settings.Version
	if version == 0 {
		version = 1
	}
	sql, args, err := psql.Insert(connectorTable).Prepared(true).Rows(goqu.Record{
		"id":                 settings.ID,
		"version":            version,
		"service_type":       settings.ServiceType,
		"configuration":      string(configuration),
		"scheduling_enabled": settings.Scheduling.Enabled,
		"sync_interval":      settings.Scheduling.Interval,
		"last_synced_at":     settings.Scheduling.LastSyncedAt,
		"sync_now":           settings.Scheduling.SyncNow,
		"index_name":         settings.IndexName,
		"pipeline":           settings.Pipeline,
		"status":             string(settings.Status),
	}).ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = r.db.Exec(ctx, sql, args...)
	return errors.WithMessagef(err, "error creating connector %s", settings.ID)
}

func (r *PostgresRepository) SetSyncNow(ctx context.Context, connectorID string) error {
	tag, err := r.db.Exec(ctx, "UPDATE connector SET sync_now = true WHERE id = $1", connectorID)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Type: "connector", Value: connectorID}
	}
	return nil
}

func (r *PostgresRepository) CreateJob(ctx context.Context, job *model.SyncJob) error {
	cursors, err := json.Marshal(job.Cursors)
	if err != nil {
		return errors.WithStack(err)
	}
	stats, err := json.Marshal(job.Stats)
	if err != nil {
		return errors.WithStack(err)
	}
	sql, args, err := psql.Insert(syncJobTable).Prepared(true).Rows(goqu.Record{
		"id":           job.ID,
		"connector_id": job.ConnectorID,
		"job_type":     job.JobType,
		"status":       string(job.Status),
		"cursors":      string(cursors),
		"stats":        string(stats),
	}).ToSQL()
	if err != nil {
		return errors.WithStack(err)
	}
	_, err = r.db.Exec(ctx, sql, args...)
	return errors.WithMessagef(err, "error creating job %s", job.ID)
}

func (r *PostgresRepository) GetJob(ctx context.Context, id string) (*model.SyncJob, error) {
	ds := psql.From(syncJobTable).Select(syncJobColumns...).Where(goqu.C("id").Eq(id))
	jobs, err := r.queryJobs(ctx, ds)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, &ErrNotFound{Type: "job", Value: id}
	}
	return jobs[0], nil
}

func (r *PostgresRepository) PendingJobs(ctx context.Context, connectorIDs []string) ([]*model.SyncJob, error) {
	if len(connectorIDs) == 0 {
		return nil, nil
	}
	ds := psql.From(syncJobTable).Select(syncJobColumns...).
		Where(goqu.And(
			goqu.C("connector_id").In(connectorIDs),
			goqu.Or(
				goqu.C("status").Eq(string(model.JobPending)),
				goqu.And(
					goqu.C("status").Eq(string(model.JobSuspended)),
					goqu.Or(
						goqu.C("retry_after").IsNull(),
						goqu.C("retry_after").Lte(goqu.L("now()")),
					),
				),
			),
		)).
		Order(goqu.C("created_at").Asc())
	return r.queryJobs(ctx, ds)
}

func (r *PostgresRepository) ClaimJob(
	ctx context.Context,
	jobID string,
	connectorID string,
	expectedVersion int64,
) (*model.ConnectorSettings, *model.SyncJob, error) {
	var settings *model.ConnectorSettings
	var job *model.SyncJob

	err := r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			"UPDATE connector SET version = version + 1 WHERE id = $1 AND version = $2",
			connectorID, expectedVersion)
		if err != nil {
			return errors.WithStack(err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				"SELECT EXISTS (SELECT 1 FROM connector WHERE id = $1)", connectorID).Scan(&exists); err != nil {
				return errors.WithStack(err)
			}
			if !exists {
				return &ErrNotFound{Type: "connector", Value: connectorID}
			}
			return &ErrVersionConflict{ConnectorID: connectorID, ExpectedVersion: expectedVersion}
		}

		// The NOT EXISTS guard keeps the per-connector invariant: at most
		// one in-flight job, even when the claim targets a sibling job.
		tag, err = tx.Exec(ctx, `
			UPDATE sync_job SET status = $1, started_at = now()
			WHERE id = $2 AND status IN ($3, $4)
			AND NOT EXISTS (
				SELECT 1 FROM sync_job WHERE connector_id = $5 AND status = $1
			)`,
			string(model.JobInProgress), jobID, string(model.JobPending), string(model.JobSuspended), connectorID)
		if err != nil {
			return errors.WithStack(err)
		}
		if tag.RowsAffected() == 0 {
			var status string
			err := tx.QueryRow(ctx, "SELECT status FROM sync_job WHERE id = $1", jobID).Scan(&status)
			if err == pgx.ErrNoRows {
				return &ErrNotFound{Type: "job", Value: jobID}
			}
			if err != nil {
				return errors.WithStack(err)
			}
			if model.JobStatus(status) == model.JobInProgress {
				return &ErrJobAlreadyRunning{JobID: jobID}
			}
			var runningJobID string
			err = tx.QueryRow(ctx,
				"SELECT id FROM sync_job WHERE connector_id = $1 AND status = $2 LIMIT 1",
				connectorID, string(model.JobInProgress)).Scan(&runningJobID)
			if err == nil {
				return &ErrJobAlreadyRunning{JobID: runningJobID}
			}
			if err != pgx.ErrNoRows {
				return errors.WithStack(err)
			}
			return &ErrJobNotClaimable{JobID: jobID, Status: model.JobStatus(status)}
		}

		settings, err = r.getConnectorTx(ctx, tx, connectorID)
		if err != nil {
			return err
		}
		job, err = r.getJobTx(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return settings, job, nil
}

func (r *PostgresRepository) UpdateJobProgress(
	ctx context.Context,
	jobID string,
	stats model.IngestionStats,
	cursors map[string]string,
) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return errors.WithStack(err)
	}
	cursorsJSON, err := json.Marshal(cursors)
	if err != nil {
		return errors.WithStack(err)
	}
	tag, err := r.db.Exec(ctx,
		"UPDATE sync_job SET stats = $1, cursors = $2 WHERE id = $3",
		string(statsJSON), string(cursorsJSON), jobID)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Type: "job", Value: jobID}
	}
	return nil
}

func (r *PostgresRepository) CompleteJob(ctx context.Context, jobID string, completion JobCompletion) error {
	statsJSON, err := json.Marshal(completion.Stats)
	if err != nil {
		return errors.WithStack(err)
	}
	cursorsJSON, err := json.Marshal(completion.Cursors)
	if err != nil {
		return errors.WithStack(err)
	}

	return r.db.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		var connectorID string
		err := tx.QueryRow(ctx, `
			UPDATE sync_job
			SET status = $1, stats = $2, cursors = $3, terminal_error = $4, retry_after = $5, completed_at = now()
			WHERE id = $6
			RETURNING connector_id`,
			string(completion.Status), string(statsJSON), string(cursorsJSON), completion.TerminalError,
			completion.RetryAfter, jobID).Scan(&connectorID)
		if err == pgx.ErrNoRows {
			return &ErrNotFound{Type: "job", Value: jobID}
		}
		if err != nil {
			return errors.WithStack(err)
		}

		switch completion.Status {
		case model.JobCompleted:
			_, err = tx.Exec(ctx, `
				UPDATE connector
				SET last_synced_at = now(), sync_now = false, status = $1
				WHERE id = $2`,
				string(model.ConnectorConnected), connectorID)
		case model.JobError:
			_, err = tx.Exec(ctx,
				"UPDATE connector SET status = $1 WHERE id = $2",
				string(model.ConnectorError), connectorID)
		}
		return errors.WithStack(err)
	})
}

func (r *PostgresRepository) RequestCancel(ctx context.Context, jobID string) error {
	tag, err := r.db.Exec(ctx, "UPDATE sync_job SET cancel_requested = true WHERE id = $1", jobID)
	if err != nil {
		return errors.WithStack(err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Type: "job", Value: jobID}
	}
	return nil
}

func (r *PostgresRepository) IsCancelRequested(ctx context.Context, jobID string) (bool, error) {
	var cancelRequested bool
	err := r.db.QueryRow(ctx,
		"SELECT cancel_requested FROM sync_job WHERE id = $1", jobID).Scan(&cancelRequested)
	if err == pgx.ErrNoRows {
		return false, &ErrNotFound{Type: "job", Value: jobID}
	}
	if err != nil {
		return false, errors.WithStack(err)
	}
	return cancelRequested, nil
}

type pgxQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (r *PostgresRepository) queryConnectors(ctx context.Context, ds *goqu.SelectDataset) ([]*model.ConnectorSettings, error) {
	return queryConnectors(ctx, r.db, ds)
}

func (r *PostgresRepository) getConnectorTx(ctx context.Context, tx pgx.Tx, id string) (*model.ConnectorSettings, error) {
	ds := psql.From(connectorTable).Select(connectorColumns...).Where(goqu.C("id").Eq(id))
	connectors, err := queryConnectors(ctx, tx, ds)
	if err != nil {
		return nil, err
	}
	if len(connectors) == 0 {
		return nil, &ErrNotFound{Type: "connector", Value: id}
	}
	return connectors[0], nil
}

func (r *PostgresRepository) queryJobs(ctx context.Context, ds *goqu.SelectDataset) ([]*model.SyncJob, error) {
	return queryJobs(ctx, r.db, ds)
}

func (r *PostgresRepository) getJobTx(ctx context.Context, tx pgx.Tx, id string) (*model.SyncJob, error) {
	ds := psql.From(syncJobTable).Select(syncJobColumns...).Where(goqu.C("id").Eq(id))
	jobs, err := queryJobs(ctx, tx, ds)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, &ErrNotFound{Type: "job", Value: id}
	}
	return jobs[0], nil
}

func queryConnectors(ctx context.Context, querier pgxQuerier, ds *goqu.SelectDataset) ([]*model.ConnectorSettings, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []*model.ConnectorSettings
	for rows.Next() {
		var settings model.ConnectorSettings
		var configuration []byte
		var status string
		err := rows.Scan(
			&settings.ID, &settings.Version, &settings.ServiceType, &configuration,
			&settings.Scheduling.Enabled, &settings.Scheduling.Interval,
			&settings.Scheduling.LastSyncedAt, &settings.Scheduling.SyncNow,
			&settings.IndexName, &settings.Pipeline, &status)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err := json.Unmarshal(configuration, &settings.Configuration); err != nil {
			return nil, errors.WithStack(err)
		}
		settings.Status = model.ConnectorStatus(status)
		out = append(out, &settings)
	}
	return out, errors.WithStack(rows.Err())
}

func queryJobs(ctx context.Context, querier pgxQuerier, ds *goqu.SelectDataset) ([]*model.SyncJob, error) {
	sql, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	rows, err := querier.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var out []*model.SyncJob
	for rows.Next() {
		var job model.SyncJob
		var cursors, stats []byte
		var status string
		var createdAt time.Time
		err := rows.Scan(
			&job.ID, &job.ConnectorID, &job.JobType, &status, &cursors, &stats,
			&job.TerminalError, &job.CancelRequested, &job.RetryAfter,
			&createdAt, &job.StartedAt, &job.CompletedAt)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err := json.Unmarshal(cursors, &job.Cursors); err != nil {
			return nil, errors.WithStack(err)
		}
		if err := json.Unmarshal(stats, &job.Stats); err != nil {
			return nil, errors.WithStack(err)
		}
		job.Status = model.JobStatus(status)
		job.CreatedAt = createdAt
		out = append(out, &job)
	}
	return out, errors.WithStack(rows.Err())
}
