package configuration

import (
	"time"

	"github.com/conveyorproject/conveyor/internal/common/database"
	"github.com/conveyorproject/conveyor/internal/conveyor/jobs"
	"github.com/conveyorproject/conveyor/internal/conveyor/scheduler"
	"github.com/conveyorproject/conveyor/internal/conveyor/search"
)

type ConveyorConfiguration struct {
	// Port the prometheus metrics endpoint listens on
	MetricsPort uint16
	// Local runs against an in-memory store instead of Postgres, for
	// development and demos
	Local bool
	// Database configuration
	Postgres database.PostgresConfig
	// Search engine configuration
	Search search.Config
	// How long a successfully provisioned index is remembered before the
	// consumer re-asserts it
	IndexCacheExpiry time.Duration
	// Scheduler heartbeat configuration
	Scheduler scheduler.Config
	// Consumer polling and concurrency configuration
	Consumer jobs.ConsumerConfig
	// Per-job execution configuration: error thresholds, sink buffering,
	// checkpointing
	Runner jobs.RunnerConfig
}
