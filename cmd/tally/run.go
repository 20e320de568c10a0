package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gofiber/fiber/v3"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/tally/internal/api"
	"github.com/livinlefevreloca/tally/internal/events"
	"github.com/livinlefevreloca/tally/internal/logging"
	"github.com/livinlefevreloca/tally/internal/stats"
)

// shutdownTimeout bounds draining the servers and the worker on exit
const shutdownTimeout = 30 * time.Second

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the refresh worker with the HTTP control API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-start",
				Usage: "Serve the control API without starting the worker",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			cfg, logger, err := loadConfig(command)
			if err != nil {
				return err
			}

			logger.Info("starting tally",
				"store", cfg.Store.Backend,
				"continuous", cfg.Worker.Continuous,
				"sources", len(cfg.Sources))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApplication(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					logger.Error("failed to release resources", "error", err)
				}
			}()

			if cfg.Events.Enabled {
				shutdownEvents, err := a.startEvents(ctx)
				if err != nil {
					return err
				}
				defer shutdownEvents()
			}

			return a.serve(ctx, !command.Bool("no-start"))
		},
	}
}

// serve starts the worker and the configured servers and blocks until ctx
// is cancelled, then stops everything
func (a *application) serve(ctx context.Context, startWorker bool) error {
	if startWorker {
		if err := a.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.HTTP.Enabled {
		var history api.HistoryReader
		if a.database != nil {
			history = stats.NewDBAdapter(a.database)
		}
		server := api.NewServer(a.worker, a.publisher, a.stats, history, logging.WithModule(a.logger, "api"))
		serveApp(gctx, g, server.App(), a.cfg.HTTP.Addr(), a.logger.With("server", "api"))
	}

	if a.cfg.Metrics.Enabled {
		metricsApp := api.NewMetricsApp(a.cfg.Metrics.Path, a.metrics.Handler())
		serveApp(gctx, g, metricsApp, a.cfg.Metrics.Addr(), a.logger.With("server", "metrics"))
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down gracefully")
		a.worker.Stop()

		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.worker.Wait(waitCtx); err != nil {
			return fmt.Errorf("worker did not stop: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("tally stopped")
	return nil
}

// serveApp listens on addr until ctx is done
func serveApp(ctx context.Context, g *errgroup.Group, app *fiber.App, addr string, logger *slog.Logger) {
	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})
}

// startEvents forwards every published state snapshot onto an in-process
// watermill topic and logs what arrives there
func (a *application) startEvents(ctx context.Context) (func(), error) {
	logger := logging.WithModule(a.logger, "events")
	wmLogger := watermill.NewSlogLogger(logger)

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(a.cfg.Events.BufferSize),
	}, wmLogger)

	messages, err := pubSub.Subscribe(ctx, events.Topic)
	if err != nil {
		pubSub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", events.Topic, err)
	}
	go logSnapshots(messages, logger)

	forwarder, err := events.NewForwarder(a.cfg.Events, pubSub, logger)
	if err != nil {
		pubSub.Close()
		return nil, fmt.Errorf("failed to create event forwarder: %w", err)
	}
	forwarder.Start(a.publisher)

	return func() {
		forwarder.Stop()
		if err := pubSub.Close(); err != nil {
			logger.Error("failed to close event bus", "error", err)
		}
	}, nil
}

func logSnapshots(messages <-chan *message.Message, logger *slog.Logger) {
	for msg := range messages {
		snapshot, err := events.Decode(msg)
		if err != nil {
			logger.Warn("discarding malformed state event", "message_uuid", msg.UUID, "error", err)
			msg.Ack()
			continue
		}
		logger.Debug("state changed",
			"pass_id", snapshot.PassID,
			"status", snapshot.Status,
			"processed", snapshot.ProcessedCount,
			"total", snapshot.TotalCount,
			"message", snapshot.LastMessage)
		msg.Ack()
	}
}
