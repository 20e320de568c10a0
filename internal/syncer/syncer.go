// Package syncer writes refreshed values to the metric store and keeps
// failed writes for retry, so a transient store outage does not lose the
// latest value of a metric.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/tally/internal/metric"
	"github.com/livinlefevreloca/tally/internal/store"
)

// Syncer handles all store writes made by the refresh worker
type Syncer struct {
	config Config
	store  store.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*ValueUpdate // by metric id
	order   []string                // metric ids, oldest failure first
	retried int
	dropped int
}

// NewSyncer creates a new syncer writing to st
func NewSyncer(config Config, st store.Store, logger *slog.Logger) (*Syncer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &Syncer{
		config:  config,
		store:   st,
		logger:  logger,
		pending: make(map[string]*ValueUpdate),
	}, nil
}

// PersistValue writes a refreshed value. A failed write is buffered for
// retry and reported as a PersistFailure. A newer value for the same
// metric, written or buffered, supersedes any older buffered value.
func (s *Syncer) PersistValue(ctx context.Context, id string, value float64, at time.Time) error {
	update := ValueUpdate{
		UpdateID: uuid.NewString(),
		MetricID: id,
		Value:    value,
		At:       at,
	}

	if err := s.store.PersistValue(ctx, id, value, at); err != nil {
		s.buffer(update)
		s.logger.Warn("failed to persist metric value, buffered for retry",
			"update_id", update.UpdateID,
			"metric_id", id,
			"error", err)
		return metric.NewFailure(metric.KindPersistFailure, err)
	}

	s.mu.Lock()
	s.remove(id)
	s.mu.Unlock()
	return nil
}

// PersistFailure records the last error of a metric when the store
// supports it. Errors are logged and returned but never buffered.
func (s *Syncer) PersistFailure(ctx context.Context, id string, message string, at time.Time) error {
	recorder, ok := s.store.(store.FailureRecorder)
	if !ok {
		return nil
	}

	if err := recorder.PersistFailure(ctx, id, message, at); err != nil {
		s.logger.Warn("failed to persist metric error",
			"metric_id", id,
			"error", err)
		return metric.NewFailure(metric.KindPersistFailure, err)
	}
	return nil
}

// Flush retries every buffered write once, oldest first, and returns the
// number still buffered. Writes that reach MaxAttempts are dropped.
func (s *Syncer) Flush(ctx context.Context) int {
	s.mu.Lock()
	batch := make([]ValueUpdate, 0, len(s.order))
	for _, id := range s.order {
		batch = append(batch, *s.pending[id])
	}
	s.mu.Unlock()

	for _, update := range batch {
		if ctx.Err() != nil {
			break
		}

		err := s.store.PersistValue(ctx, update.MetricID, update.Value, update.At)

		s.mu.Lock()
		current, ok := s.pending[update.MetricID]
		if !ok || current.UpdateID != update.UpdateID {
			// superseded while we were writing
			s.mu.Unlock()
			continue
		}
		s.retried++
		if err == nil {
			s.remove(update.MetricID)
			s.mu.Unlock()
			s.logger.Debug("persisted buffered metric value",
				"update_id", update.UpdateID,
				"metric_id", update.MetricID)
			continue
		}

		current.Attempts++
		if current.Attempts >= s.config.MaxAttempts {
			s.remove(update.MetricID)
			s.dropped++
			s.mu.Unlock()
			s.logger.Error("dropping metric value after repeated persist failures",
				"update_id", update.UpdateID,
				"metric_id", update.MetricID,
				"attempts", current.Attempts,
				"error", err)
			continue
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// GetStats returns current syncer statistics
func (s *Syncer) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Buffered: len(s.order),
		Retried:  s.retried,
		Dropped:  s.dropped,
	}
}

func (s *Syncer) buffer(update ValueUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(update.MetricID)
	if len(s.order) >= s.config.MaxBuffered {
		oldest := s.order[0]
		s.remove(oldest)
		s.dropped++
		s.logger.Error("persist buffer full, dropping oldest value",
			"metric_id", oldest,
			"max_buffered", s.config.MaxBuffered)
	}

	s.pending[update.MetricID] = &update
	s.order = append(s.order, update.MetricID)
}

// remove deletes the buffered write for id; callers hold mu
func (s *Syncer) remove(id string) {
	if _, ok := s.pending[id]; !ok {
		return
	}
	delete(s.pending, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
