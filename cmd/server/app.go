package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/phrazzld/melody-api/internal/config"
	"github.com/phrazzld/melody-api/internal/events"
	"github.com/phrazzld/melody-api/internal/platform/filestore"
	"github.com/phrazzld/melody-api/internal/platform/redisstore"
	"github.com/phrazzld/melody-api/internal/platform/sqlstore"
	"github.com/phrazzld/melody-api/internal/service"
	"github.com/phrazzld/melody-api/internal/store"
	"github.com/phrazzld/melody-api/internal/task"
)

// closer is a resource released on shutdown, in reverse order of opening.
type closer struct {
	name string
	c    io.Closer
}

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	// Persistence
	db      *sqlstore.DB
	results store.ResultStore

	// Task handling
	producer    task.Producer
	emitter     *events.InMemoryEventEmitter
	registry    *task.Registry
	runner      *task.Runner
	broadcaster *task.Broadcaster
	sweeper     *task.Sweeper

	generationService service.GenerationService

	closers []closer
}

// newApplication creates a new application instance with all dependencies
// initialized. Resources opened before a failure are released again.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}
	if err := app.init(ctx); err != nil {
		if cerr := app.close(); cerr != nil {
			logger.Error("failed to release resources after init failure", "error", cerr)
		}
		return nil, err
	}

	logger.Info("application initialized successfully")
	return app, nil
}

func (app *application) init(ctx context.Context) error {
	cfg := app.config
	logger := app.logger

	if cfg.Database.Driver != config.DriverNone {
		if err := app.openDatabase(ctx); err != nil {
			return err
		}
	}

	if err := app.setupResultStore(ctx); err != nil {
		return err
	}

	producer, producerCloser, err := newProducer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize producer: %w", err)
	}
	app.producer = producer
	if producerCloser != nil {
		app.closers = append(app.closers, closer{name: "producer", c: producerCloser})
	}
	logger.Info("producer initialized", "kind", cfg.Producer.Kind)

	app.emitter = events.NewInMemoryEventEmitter(logger)
	app.registry = task.NewRegistry(app.emitter, logger)
	app.runner = task.NewRunner(app.registry, app.producer, app.results, task.RunnerConfig{
		WorkerCount:     cfg.Task.WorkerCount,
		QueueSize:       cfg.Task.QueueSize,
		CheckpointDelay: cfg.Task.CheckpointDelay,
	}, logger)

	if app.db != nil {
		journal := sqlstore.NewTaskStore(app.db, logger)
		app.emitter.RegisterHandler(task.NewJournalHandler(journal, logger))
		app.runner.SetJournal(journal)
		logger.Info("task journal enabled", "driver", cfg.Database.Driver)
	}

	app.broadcaster = task.NewBroadcaster(app.registry, task.BroadcasterConfig{
		Interval:   cfg.Task.BroadcastInterval,
		BufferSize: cfg.Task.SubscriberBuffer,
	}, logger)

	if cfg.Task.Retention > 0 {
		app.sweeper, err = task.NewSweeper(app.registry, app.results, task.SweeperConfig{
			Retention: cfg.Task.Retention,
			Schedule:  cfg.Task.SweepSchedule,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create retention sweeper: %w", err)
		}
	}

	app.generationService, err = service.NewGenerationService(app.runner, app.registry, app.results,
		service.GenerationServiceConfig{
			Producer:   cfg.Producer.Kind,
			PreviewTTL: cfg.Storage.PreviewCacheTTL,
		}, logger)
	if err != nil {
		return fmt.Errorf("failed to create generation service: %w", err)
	}
	return nil
}

// openDatabase connects to the configured database and brings its schema up
// to date.
func (app *application) openDatabase(ctx context.Context) error {
	cfg := app.config.Database
	db, err := sqlstore.Open(ctx, cfg.Driver, cfg.URL)
	if err != nil {
		return fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	app.db = db
	app.closers = append(app.closers, closer{name: "database", c: db})

	if err := sqlstore.Migrate(ctx, db, sqlstore.MigrateUp, app.logger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	app.logger.Info("database connection established",
		"driver", cfg.Driver,
		"url", sqlstore.MaskDSN(cfg.URL))
	return nil
}

// setupResultStore creates the configured result store, wrapped in an LRU
// cache unless the cache size is zero.
func (app *application) setupResultStore(ctx context.Context) error {
	cfg := app.config

	var results store.ResultStore
	switch cfg.Storage.Results {
	case config.ResultsFile:
		fs, err := filestore.New(cfg.Storage.Dir, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create file result store: %w", err)
		}
		results = fs

	case config.ResultsSQL:
		if app.db == nil {
			return fmt.Errorf("sql result store requires a database")
		}
		results = sqlstore.NewResultStore(app.db, app.logger)

	case config.ResultsRedis:
		rs, err := redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Storage.ResultTTL,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("failed to create redis result store: %w", err)
		}
		app.closers = append(app.closers, closer{name: "redis", c: rs})
		results = rs

	default:
		return fmt.Errorf("unsupported result store %q", cfg.Storage.Results)
	}

	if cfg.Storage.CacheSize > 0 {
		cached, err := store.NewCachedResultStore(results, cfg.Storage.CacheSize)
		if err != nil {
			return err
		}
		results = cached
	}

	app.results = results
	app.logger.Info("result store initialized",
		"backend", cfg.Storage.Results,
		"cache_size", cfg.Storage.CacheSize)
	return nil
}

// start recovers journaled tasks, starts the workers and the retention
// sweep, and marks the producer ready.
func (app *application) start(ctx context.Context) error {
	if err := app.runner.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task runner: %w", err)
	}
	if app.sweeper != nil {
		app.sweeper.Start()
	}
	app.generationService.MarkReady(app.config.Producer.Kind != config.ProducerFailing)
	return nil
}

// close releases every opened resource in reverse order and aggregates the
// failures.
func (app *application) close() error {
	var result *multierror.Error
	for i := len(app.closers) - 1; i >= 0; i-- {
		c := app.closers[i]
		if err := c.c.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close %s: %w", c.name, err))
		}
	}
	app.closers = nil
	return result.ErrorOrNil()
}
