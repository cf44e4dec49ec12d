// Package conveyor wires the sync service together: repository, search
// client, scheduler and consumer, running until a shutdown signal arrives.
package conveyor

import (
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/conveyorproject/conveyor/internal/common"
	"github.com/conveyorproject/conveyor/internal/common/app"
	"github.com/conveyorproject/conveyor/internal/common/database"
	"github.com/conveyorproject/conveyor/internal/common/util"
	"github.com/conveyorproject/conveyor/internal/conveyor/configuration"
	"github.com/conveyorproject/conveyor/internal/conveyor/connectors"
	"github.com/conveyorproject/conveyor/internal/conveyor/jobs"
	"github.com/conveyorproject/conveyor/internal/conveyor/repository"
	"github.com/conveyorproject/conveyor/internal/conveyor/scheduler"
	"github.com/conveyorproject/conveyor/internal/conveyor/search"
)

// Run starts the sync service with the given connector registry and blocks
// until a SIGINT or SIGTERM is received.
func Run(config *configuration.ConveyorConfiguration, registry *connectors.Registry) error {
	ctx := app.CreateContextWithShutdown()

	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	var repo repository.Repository
	if config.Local {
		log.Info("Running in local mode with an in-memory store")
		repo = repository.NewInMemoryRepository()
	} else {
		var db *pgxpool.Pool
		util.RetryUntilSuccess(ctx, func() error {
			var err error
			db, err = database.OpenPgxPool(config.Postgres)
			return err
		}, func(err error) {
			log.WithError(err).Warn("Could not connect to postgres, retrying")
			time.Sleep(5 * time.Second)
		})
		if db == nil {
			return errors.New("shut down before a postgres connection was established")
		}
		defer db.Close()
		postgresRepo := repository.NewPostgresRepository(db)
		if err := postgresRepo.Setup(ctx); err != nil {
			return err
		}
		repo = postgresRepo
	}

	searchClient := search.NewClient(config.Search)
	provisioner := search.NewProvisioner(searchClient, config.IndexCacheExpiry)
	producer := jobs.NewProducer(repo)
	runner := jobs.NewRunner(repo, registry, searchClient, config.Runner)
	consumer := jobs.NewConsumer(repo, registry, runner, provisioner, config.Consumer)
	syncScheduler := scheduler.NewScheduler(repo, registry, producer, config.Scheduler)

	syncScheduler.Start(ctx)
	consumer.Start(ctx)
	log.WithField("serviceTypes", registry.ServiceTypes()).Info("Conveyor is up")

	<-ctx.Done()
	log.Info("Shutting down")
	if syncScheduler.Stop() {
		log.Warn("Scheduler did not stop within the shutdown timeout")
	}
	if consumer.Stop() {
		log.Warn("Consumer did not stop within the shutdown timeout, abandoning running jobs")
	}
	return nil
}
