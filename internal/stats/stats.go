// Package stats keeps per-pass refresh summaries, in memory and, when a
// database writer is configured, in the refresh_passes table.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/tally/internal/inbox"
)

// StatsCollector receives pass summaries from the worker without blocking
// it and writes them to the database in batches
type StatsCollector struct {
	db     DatabaseWriter
	inbox  *inbox.Inbox[PassSummary]
	config Config
	logger *slog.Logger

	// Mutex protects all mutable fields below
	mu      sync.Mutex
	totals  Totals
	pending []PassSummary

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewStatsCollector creates a new stats collector. db may be nil, in
// which case summaries are only kept as in-memory totals.
func NewStatsCollector(config Config, db DatabaseWriter, logger *slog.Logger) (*StatsCollector, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return &StatsCollector{
		db:     db,
		inbox:  inbox.New[PassSummary](config.InboxBufferSize, config.InboxSendTimeout, logger),
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Start begins the collection loop
func (sc *StatsCollector) Start() {
	sc.logger.Info("starting stats collector")
	sc.wg.Add(1)
	go sc.run()
}

// Stop drains pending summaries, flushes them and stops the loop
func (sc *StatsCollector) Stop() error {
	var stopErr error
	sc.stopOnce.Do(func() {
		sc.logger.Info("stopping stats collector")

		close(sc.done)
		sc.wg.Wait()

		sc.inbox.Close()
		for summary := range sc.inbox.C() {
			sc.inbox.Ack()
			sc.process(summary)
		}

		if err := sc.flush(context.Background()); err != nil {
			sc.logger.Error("final flush failed", "error", err)
			stopErr = err
			return
		}

		sc.logger.Info("stats collector stopped")
	})
	return stopErr
}

// RecordPass hands a summary to the collector. It never blocks longer
// than the inbox send timeout.
func (sc *StatsCollector) RecordPass(summary PassSummary) {
	if !sc.inbox.Send(summary) {
		sc.logger.Warn("dropped pass summary", "pass_id", summary.PassID)
	}
}

// Totals returns a copy of the accumulated totals
func (sc *StatsCollector) Totals() Totals {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := sc.totals
	if out.LastPass != nil {
		last := *out.LastPass
		out.LastPass = &last
	}
	return out
}

func (sc *StatsCollector) run() {
	defer sc.wg.Done()

	ticker := time.NewTicker(sc.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.done:
			sc.logger.Debug("shutdown signal received")
			return

		case <-ticker.C:
			if err := sc.flush(context.Background()); err != nil {
				sc.logger.Error("flush failed", "error", err)
			}

		case summary := <-sc.inbox.C():
			sc.inbox.Ack()
			if sc.process(summary) {
				if err := sc.flush(context.Background()); err != nil {
					sc.logger.Error("threshold flush failed", "error", err)
				}
			}
		}
	}
}

// process records a summary and reports whether the flush threshold is reached
func (sc *StatsCollector) process(summary PassSummary) bool {
	if summary.Duration == 0 {
		summary.Duration = summary.EndedAt.Sub(summary.StartedAt)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.totals.Add(summary)
	if sc.db == nil {
		return false
	}
	sc.pending = append(sc.pending, summary)
	return len(sc.pending) >= sc.config.FlushThreshold
}

// flush writes pending summaries. On failure they stay pending for the
// next flush.
func (sc *StatsCollector) flush(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.db == nil || len(sc.pending) == 0 {
		return nil
	}

	sc.logger.Debug("flushing pass summaries", "count", len(sc.pending))
	if err := sc.db.WritePassSummaries(ctx, sc.pending); err != nil {
		return fmt.Errorf("write pass summaries failed: %w", err)
	}
	sc.pending = nil
	return nil
}
