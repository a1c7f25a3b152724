package redistrict

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/giants/redistrict/internal/common"
	"github.com/giants/redistrict/internal/common/database"
	"github.com/giants/redistrict/internal/common/health"
	"github.com/giants/redistrict/internal/common/logging"
	"github.com/giants/redistrict/internal/common/task"
	"github.com/giants/redistrict/internal/common/util"
	"github.com/giants/redistrict/internal/redistrict/backend"
	"github.com/giants/redistrict/internal/redistrict/backend/fake"
	"github.com/giants/redistrict/internal/redistrict/configuration"
	"github.com/giants/redistrict/internal/redistrict/dispatch"
	"github.com/giants/redistrict/internal/redistrict/ingest"
	"github.com/giants/redistrict/internal/redistrict/reconciler"
	"github.com/giants/redistrict/internal/redistrict/repository"
	"github.com/giants/redistrict/internal/redistrict/service"
)

const shutdownTimeout = time.Minute

// Components is everything a process needs to serve client operations.
type Components struct {
	Repository repository.JobRepository
	Backends   *backend.Registry
	Reconciler *reconciler.Reconciler
	Service    *service.Service
	closers    []func()
}

// Close releases the store connection.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

// NewComponents connects to the configured store, bringing its schema up to date, and wires the backends,
// dispatcher, reconciler and service on top of it.
func NewComponents(ctx context.Context, config *configuration.RedistrictConfiguration, clock clock.Clock) (*Components, error) {
	c := &Components{}
	repo, err := c.openRepository(ctx, config.Database, clock)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Repository = repo
	c.Backends = createBackends(config, clock)

	retryPolicy := repository.RetryPolicy{Attempts: config.PersistRetries, Delay: config.PersistRetryDelay}
	c.Reconciler = reconciler.NewReconciler(repo, c.Backends, ingest.NewIngestor(), clock, config.CancelGracePeriod, retryPolicy)
	dispatcher := dispatch.NewDispatcher(repo, c.Backends, clock, config.ClusterThreshold, retryPolicy)
	c.Service, err = service.NewService(repo, dispatcher, c.Reconciler, c.Backends, clock, config.GeographyCacheSize)
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) openRepository(
	ctx context.Context,
	config configuration.DatabaseConfig,
	clock clock.Clock,
) (repository.JobRepository, error) {
	switch config.Type {
	case "redis":
		client := redis.NewClient(config.Redis.AsOptions())
		c.closers = append(c.closers, func() { util.CloseResource("redis", client) })
		return repository.NewRedisJobRepository(client, clock), nil
	case "postgres":
		db, err := database.Open(ctx, database.DialectPostgres, database.CreateConnectionString(config.Connection))
		if err != nil {
			return nil, err
		}
		return c.migrated(ctx, db, database.DialectPostgres, clock)
	case "sqlite":
		db, err := database.Open(ctx, database.DialectSqlite, config.Path)
		if err != nil {
			return nil, err
		}
		return c.migrated(ctx, db, database.DialectSqlite, clock)
	default:
		return nil, errors.Errorf("unknown database type %q", config.Type)
	}
}

func (c *Components) migrated(ctx context.Context, db *sql.DB, dialect string, clock clock.Clock) (repository.JobRepository, error) {
	c.closers = append(c.closers, func() { util.CloseResource("database", db) })
	repo := repository.NewSQLJobRepository(db, dialect, clock)
	if err := repo.Migrate(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func createBackends(config *configuration.RedistrictConfiguration, clock clock.Clock) *backend.Registry {
	var generator backend.Generator = backend.SyntheticGenerator{}
	if config.Local.Command != "" {
		generator = &backend.CommandGenerator{Command: config.Local.Command, Args: config.Local.Args}
	} else {
		log.Warn("local.command is not set; local jobs will produce synthetic plans")
	}
	local := backend.NewLocalExecutor(config.Local.WorkDir, generator)

	var cluster backend.Backend
	if config.FakeCluster {
		log.Warnf("using an in-process fake cluster; cluster jobs complete after %s", config.FakeClusterRunTime)
		cluster = fake.NewCluster(
			filepath.Join(config.Local.WorkDir, "fake-cluster"),
			backend.SyntheticGenerator{},
			clock,
			config.FakeClusterRunTime,
		)
	} else {
		cluster = backend.NewSlurmExecutor(backend.SlurmConfig{
			Sbatch:     config.Slurm.Sbatch,
			Scancel:    config.Slurm.Scancel,
			Sacct:      config.Slurm.Sacct,
			Script:     config.Slurm.Script,
			Partition:  config.Slurm.Partition,
			OutputRoot: config.Slurm.OutputRoot,
		}, backend.ExecCommandRunner)
	}
	return backend.NewRegistry(
		backend.Bounded(local, config.PollTimeout, config.CancelTimeout),
		backend.Bounded(cluster, config.PollTimeout, config.CancelTimeout),
	)
}

// StartUp runs the reconciliation loop together with the health and metrics endpoints until ctx is cancelled.
func StartUp(ctx context.Context, config *configuration.RedistrictConfiguration) error {
	log := log.WithField("service", "redistrict")

	components, err := NewComponents(ctx, config, clock.RealClock{})
	if err != nil {
		return err
	}
	defer components.Close()

	checker := health.NewMultiChecker(
		health.NewTimeoutChecker("repository", config.Database.HealthCheckTimeout, components.Repository.HealthCheck),
	)
	shutdownHealth := common.ServeHealth(config.HealthPort, checker)
	defer shutdownHealth()
	shutdownMetrics := common.ServeMetrics(config.MetricsPort)
	defer shutdownMetrics()

	taskManager := task.NewBackgroundTaskManager("redistrict_")
	taskManager.Register(components.Reconciler.Run, config.ReconcileInterval, "reconcile")
	log.Infof("reconciling active jobs every %s", config.ReconcileInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down; waiting for the current reconciliation cycle to finish")
		if taskManager.StopAll(shutdownTimeout) {
			return errors.Errorf("reconciliation did not stop within %s", shutdownTimeout)
		}
		return nil
	})
	g.Go(func() error {
		if err := checker.Check(); err != nil {
			logging.WithStacktrace(log, err).Warn("store is not healthy at startup")
		}
		return nil
	})
	return g.Wait()
}
