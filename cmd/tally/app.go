package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/livinlefevreloca/tally/internal/config"
	"github.com/livinlefevreloca/tally/internal/db"
	"github.com/livinlefevreloca/tally/internal/logging"
	"github.com/livinlefevreloca/tally/internal/source"
	"github.com/livinlefevreloca/tally/internal/state"
	"github.com/livinlefevreloca/tally/internal/stats"
	"github.com/livinlefevreloca/tally/internal/store"
	"github.com/livinlefevreloca/tally/internal/syncer"
	"github.com/livinlefevreloca/tally/internal/telemetry"
	"github.com/livinlefevreloca/tally/internal/worker"
)

// loadConfig reads the config file named by --config, applies flag
// overrides, validates it and installs the process logger
func loadConfig(command *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadConfig(command.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if level := command.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens the configured store backend. The returned database is
// nil unless the sql backend is selected.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, *db.DB, error) {
	var database *db.DB
	if cfg.Store.Backend == store.BackendSQL || cfg.Store.Backend == "" {
		logger.Info("connecting to database", "driver", cfg.Database.Driver)
		var err error
		database, err = db.OpenWithConfig(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if version, err := database.SchemaVersion(); err == nil {
			logger.Info("database schema ready", "version", version)
		}
	}

	st, err := store.Open(ctx, cfg.Store, database)
	if err != nil {
		if database != nil {
			database.Close()
		}
		return nil, nil, err
	}
	logger.Info("metric store ready", "backend", cfg.Store.Backend)
	return st, database, nil
}

// application is the wired set of components shared by run and once
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	database  *db.DB
	store     store.Store
	registry  *source.Registry
	publisher *state.Publisher
	syncer    *syncer.Syncer
	stats     *stats.StatsCollector
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	worker    *worker.Worker

	shutdownTracer telemetry.ShutdownFunc
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	a := &application{cfg: cfg, logger: logger}

	var err error
	a.store, a.database, err = openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := a.wire(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *application) wire(ctx context.Context) error {
	var err error

	a.registry, err = source.NewRegistryFromConfig(a.cfg.Sources)
	if err != nil {
		return fmt.Errorf("failed to build source registry: %w", err)
	}
	a.logger.Info("source executors registered", "types", a.registry.Types())

	clock := clockwork.NewRealClock()
	a.publisher = state.NewPublisher(clock, logging.WithModule(a.logger, "state"))

	a.syncer, err = syncer.NewSyncer(a.cfg.Syncer, a.store, logging.WithModule(a.logger, "syncer"))
	if err != nil {
		return fmt.Errorf("failed to create syncer: %w", err)
	}

	var history stats.DatabaseWriter
	if a.database != nil {
		history = stats.NewDBAdapter(a.database)
	}
	a.stats, err = stats.NewStatsCollector(a.cfg.Stats, history, logging.WithModule(a.logger, "stats"))
	if err != nil {
		return fmt.Errorf("failed to create stats collector: %w", err)
	}
	a.stats.Start()

	a.metrics = telemetry.NewMetrics()

	a.tracer, a.shutdownTracer, err = telemetry.NewTracer(ctx, a.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	a.worker, err = worker.NewWorker(a.cfg.Worker, worker.Dependencies{
		Store:     a.store,
		Registry:  a.registry,
		Publisher: a.publisher,
		Syncer:    a.syncer,
		Stats:     a.stats,
		Metrics:   a.metrics,
		Tracer:    a.tracer,
		Clock:     clock,
	}, logging.WithModule(a.logger, "worker"))
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}
	return nil
}

// Close releases everything newApplication acquired
func (a *application) Close(ctx context.Context) error {
	var errs []error

	if a.stats != nil {
		if err := a.stats.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stats: %w", err))
		}
	}
	if a.shutdownTracer != nil {
		if err := a.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer: %w", err))
		}
	}
	if closer, ok := a.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
