// Package worker implements the refresh worker: a single sequential loop
// that runs every metric's query in turn, records the result, and
// publishes its progress.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/livinlefevreloca/tally/internal/cron"
	"github.com/livinlefevreloca/tally/internal/metric"
	"github.com/livinlefevreloca/tally/internal/queue"
	"github.com/livinlefevreloca/tally/internal/source"
	"github.com/livinlefevreloca/tally/internal/state"
	"github.com/livinlefevreloca/tally/internal/stats"
	"github.com/livinlefevreloca/tally/internal/store"
	"github.com/livinlefevreloca/tally/internal/syncer"
	"github.com/livinlefevreloca/tally/internal/telemetry"
)

// Dependencies are the collaborators of the worker. Store, Registry and
// Publisher are required; the rest fall back to no-op or default values.
type Dependencies struct {
	Store     store.Store
	Registry  *source.Registry
	Publisher *state.Publisher
	Syncer    *syncer.Syncer
	Stats     stats.Recorder
	Metrics   *telemetry.Metrics
	Tracer    trace.Tracer
	Clock     clockwork.Clock
}

// Status is the worker control surface view
type Status struct {
	IsRunning bool `json:"isRunning"`
}

// Worker owns the refresh loop. At most one loop runs at a time.
type Worker struct {
	config   Config
	schedule *cron.Schedule

	store     store.Store
	registry  *source.Registry
	publisher *state.Publisher
	syncer    *syncer.Syncer
	stats     stats.Recorder
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	clock     clockwork.Clock
	logger    *slog.Logger

	mu            sync.Mutex
	running       bool
	stopRequested bool
	stopCh        chan struct{}
	done          chan struct{}
	cancelLoop    context.CancelFunc
	cancelCall    context.CancelFunc
}

// NewWorker creates an idle worker
func NewWorker(config Config, deps Dependencies, logger *slog.Logger) (*Worker, error) {
	schedule, err := validateConfig(config)
	if err != nil {
		return nil, err
	}

	if deps.Store == nil {
		return nil, errors.New("worker: store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("worker: source registry is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("worker: state publisher is required")
	}

	if deps.Syncer == nil {
		deps.Syncer, err = syncer.NewSyncer(syncer.DefaultConfig(), deps.Store, logger)
		if err != nil {
			return nil, err
		}
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("tally")
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	return &Worker{
		config:    config,
		schedule:  schedule,
		store:     deps.Store,
		registry:  deps.Registry,
		publisher: deps.Publisher,
		syncer:    deps.Syncer,
		stats:     deps.Stats,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		clock:     deps.Clock,
		logger:    logger,
	}, nil
}

// Start loads the metric set and spawns the refresh loop. Calling Start
// while a loop is running does nothing. A failure to load the initial
// metric set moves the published state to error and is returned.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Debug("start ignored, worker already running")
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopCh := make(chan struct{})
	w.running = true
	w.stopRequested = false
	w.stopCh = stopCh
	w.done = make(chan struct{})
	w.cancelLoop = cancel
	w.mu.Unlock()

	w.logger.Info("starting refresh worker",
		"continuous", w.config.Continuous,
		"pacing_delay", w.config.PacingDelay)

	definitions, err := w.store.LoadAll(ctx)
	if err != nil {
		w.logger.Error("failed to load metrics", "error", err)
		w.publisher.Fail(fmt.Sprintf("failed to load metrics: %v", err))
		w.finish()
		return fmt.Errorf("failed to load metrics: %w", err)
	}

	w.metrics.SetRunning(true)
	go w.run(loopCtx, stopCh, definitions)
	return nil
}

// Stop asks the loop to exit after the metric in flight. With AbortOnStop
// the in-flight executor call is cancelled as well.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running || w.stopRequested {
		w.mu.Unlock()
		return
	}
	w.stopRequested = true
	close(w.stopCh)
	cancelCall := w.cancelCall
	w.mu.Unlock()

	w.logger.Info("stopping refresh worker", "abort_in_flight", w.config.AbortOnStop)
	w.publisher.Message("stopping after the current metric")

	if w.config.AbortOnStop && cancelCall != nil {
		cancelCall()
	}
}

// Wait blocks until the current loop exits or ctx is done
func (w *Worker) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports whether a loop is running
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{IsRunning: w.running}
}

// finish marks the loop as exited
func (w *Worker) finish() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.running = false
	w.cancelCall = nil
	if w.cancelLoop != nil {
		w.cancelLoop()
		w.cancelLoop = nil
	}
	close(w.done)
}

// run is the main refresh loop
func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}, definitions []metric.Definition) {
	defer w.finish()
	defer w.metrics.SetRunning(false)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("refresh worker panic recovered", "panic", r)
			w.publisher.Fail(fmt.Sprintf("worker crashed: %v", r))
		}
	}()

	for {
		summary := w.runPass(ctx, stopCh, definitions)

		if summary.Stopped {
			w.publisher.Idle("stopped")
			w.logger.Info("refresh worker stopped", "pass_id", summary.PassID)
			return
		}

		if !w.config.Continuous {
			w.publisher.Complete(fmt.Sprintf("refreshed %d metrics, %d failed", summary.Total, summary.Failed))
			w.logger.Info("refresh worker complete", "pass_id", summary.PassID)
			return
		}

		for {
			if !w.waitNextPass(ctx, stopCh) {
				w.publisher.Idle("stopped")
				w.logger.Info("refresh worker stopped between passes")
				return
			}

			var err error
			definitions, err = w.store.LoadAll(ctx)
			if err == nil {
				break
			}
			w.logger.Error("failed to reload metrics, retrying next cycle", "error", err)
			w.publisher.Pause(fmt.Sprintf("failed to reload metrics: %v", err))
		}
	}
}

// runPass processes one queue built from definitions
func (w *Worker) runPass(ctx context.Context, stopCh <-chan struct{}, definitions []metric.Definition) stats.PassSummary {
	if dups := queue.Duplicates(definitions); len(dups) > 0 {
		w.logger.Warn("skipping repeated metric ids", "ids", dups)
	}
	q := queue.Build(definitions)
	summary := stats.PassSummary{
		PassID:    uuid.NewString(),
		StartedAt: w.clock.Now(),
		Total:     q.Total(),
	}

	ctx, span := w.tracer.Start(ctx, "tally.pass", trace.WithAttributes(
		attribute.String(telemetry.PassIDKey, summary.PassID),
		attribute.Int("tally.pass.total", summary.Total),
	))
	defer span.End()

	w.logger.Info("starting refresh pass",
		"pass_id", summary.PassID,
		"runnable", summary.Total,
		"loaded", len(definitions))
	w.publisher.BeginPass(summary.PassID, q.Pending(), fmt.Sprintf("starting pass with %d metrics", summary.Total))

	for {
		if stopping(stopCh) {
			summary.Stopped = true
			break
		}

		def, ok := q.TakeNext()
		if !ok {
			break
		}

		if w.refresh(ctx, def) {
			summary.Succeeded++
		} else {
			summary.Failed++
		}

		if q.Empty() {
			break
		}
		if !w.sleep(ctx, stopCh, w.config.PacingDelay) {
			summary.Stopped = true
			break
		}
	}

	if remaining := w.syncer.Flush(ctx); remaining > 0 {
		w.logger.Warn("metric values still waiting to be persisted", "buffered", remaining)
	}

	summary.EndedAt = w.clock.Now()
	summary.Duration = summary.EndedAt.Sub(summary.StartedAt)
	span.SetAttributes(
		attribute.Int("tally.pass.succeeded", summary.Succeeded),
		attribute.Int("tally.pass.failed", summary.Failed),
		attribute.Bool("tally.pass.stopped", summary.Stopped),
	)

	w.metrics.ObservePass(summary.Stopped)
	if w.stats != nil {
		w.stats.RecordPass(summary)
	}

	w.logger.Info("refresh pass finished",
		"pass_id", summary.PassID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"stopped", summary.Stopped,
		"duration", summary.Duration)

	return summary
}

// refresh runs one metric and records the outcome on def.
// Returns true when a new value was obtained and persisted.
func (w *Worker) refresh(ctx context.Context, def *metric.Definition) bool {
	ctx, span := w.tracer.Start(ctx, "tally.metric", trace.WithAttributes(
		attribute.String(telemetry.MetricIDKey, def.ID),
		attribute.String(telemetry.SourceTypeKey, string(def.SourceType)),
	))
	defer span.End()

	w.publisher.Activate(def, fmt.Sprintf("processing %s", def.Label()))

	start := w.clock.Now()
	value, err := w.execute(ctx, def)
	now := w.clock.Now()
	w.metrics.ObserveRefresh(def.SourceType, now.Sub(start), err)

	if err != nil {
		failure := metric.Classify(err)
		def.RecordFailure(failure.Error())
		telemetry.SetError(span, failure, attribute.String(telemetry.FailureKey, string(failure.Kind)))

		w.logger.Warn("metric refresh failed",
			"metric_id", def.ID,
			"source_type", def.SourceType,
			"kind", failure.Kind,
			"error", failure.Err)

		_ = w.syncer.PersistFailure(ctx, def.ID, def.LastError, now)
		w.publisher.Finish(def, metric.StatusErrored, fmt.Sprintf("%s failed: %s", def.Label(), def.LastError))
		return false
	}

	def.RecordSuccess(value, now)
	w.metrics.SetValue(*def, value)

	// the new value is kept even when the write fails; the syncer retries it
	if err := w.syncer.PersistValue(ctx, def.ID, value, now); err != nil {
		failure := metric.Classify(err)
		def.RecordFailure(failure.Error())
		telemetry.SetError(span, failure, attribute.String(telemetry.FailureKey, string(failure.Kind)))

		w.logger.Warn("metric refreshed but not persisted",
			"metric_id", def.ID,
			"value", value,
			"error", failure.Err)
		w.publisher.Finish(def, metric.StatusErrored, fmt.Sprintf("%s failed: %s", def.Label(), def.LastError))
		return false
	}

	w.logger.Debug("metric refreshed",
		"metric_id", def.ID,
		"source_type", def.SourceType,
		"value", value)
	w.publisher.Finish(def, metric.StatusCompleted, fmt.Sprintf("refreshed %s", def.Label()))
	return true
}

// execute resolves the executor for def and runs its query
func (w *Worker) execute(ctx context.Context, def *metric.Definition) (float64, error) {
	executor, ok := w.registry.Lookup(def.SourceType)
	if !ok {
		return 0, &metric.Failure{Kind: metric.KindUnknownSourceType}
	}

	var callCtx context.Context
	var cancel context.CancelFunc
	if w.config.ExecutionTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, w.config.ExecutionTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	w.mu.Lock()
	w.cancelCall = cancel
	abort := w.stopRequested && w.config.AbortOnStop
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.cancelCall = nil
		w.mu.Unlock()
	}()

	if abort {
		cancel()
	}

	return callExecutor(callCtx, executor, def.QueryText)
}

// callExecutor runs one query, turning a panic or a non-finite result
// into a failure of this metric only
func callExecutor(ctx context.Context, executor source.Executor, queryText string) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = 0, metric.Failf(metric.KindExecutionFailure, "executor panic: %v", r)
		}
	}()

	value, err = executor.Execute(ctx, queryText)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, metric.Failf(metric.KindNonNumericResult, "value %v is not a finite number", value)
	}
	return value, nil
}

// waitNextPass waits for the later of the pacing delay and the next cycle
// occurrence. Returns false if the worker was stopped meanwhile.
func (w *Worker) waitNextPass(ctx context.Context, stopCh <-chan struct{}) bool {
	delay := w.config.PacingDelay
	if w.schedule != nil {
		now := w.clock.Now()
		if next := w.schedule.Next(now); !next.IsZero() {
			if untilNext := next.Sub(now); untilNext > delay {
				delay = untilNext
			}
		}
	}

	w.publisher.Pause(fmt.Sprintf("next pass in %s", delay))
	return w.sleep(ctx, stopCh, delay)
}

// sleep waits for d on the worker clock. Returns false if the worker was
// stopped or ctx was cancelled first.
func (w *Worker) sleep(ctx context.Context, stopCh <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return !stopping(stopCh) && ctx.Err() == nil
	}

	timer := w.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.Chan():
		return true
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func stopping(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}
