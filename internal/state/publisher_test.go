package state

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/livinlefevreloca/tally/internal/metric"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==============================================================================
// Test Helpers
// ==============================================================================

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestPublisher() (*Publisher, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewPublisher(clock, createTestLogger()), clock
}

// recorder collects every snapshot a listener receives
type recorder struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

func (r *recorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		out = append(out, s.Status)
	}
	return out
}

// ==============================================================================
// Lifecycle Tests
// ==============================================================================

func TestNewPublisher_StartsIdle(t *testing.T) {
	p, _ := newTestPublisher()

	s := p.State()
	assert.Equal(t, StatusIdle, s.Status)
	assert.Empty(t, s.ActiveMetricID)
	assert.Zero(t, s.TotalCount)
	assert.Zero(t, s.ProcessedCount)
	assert.NotNil(t, s.Metrics)
}

func TestPublisher_PassLifecycle(t *testing.T) {
	p, _ := newTestPublisher()
	rec := &recorder{}
	p.Subscribe(rec.listen)

	m1 := &metric.Definition{ID: "m1", SourceType: "A", QueryText: "Q1"}
	m2 := &metric.Definition{ID: "m2", SourceType: "B", QueryText: "Q2"}

	p.BeginPass("pass-1", []*metric.Definition{m1, m2}, "starting")
	s := p.State()
	assert.Equal(t, StatusRunning, s.Status)
	assert.Equal(t, 2, s.TotalCount)
	assert.Equal(t, "pass-1", s.PassID)
	assert.Equal(t, metric.StatusQueued, s.Metrics["m1"].Status)

	p.Activate(m1, "processing m1")
	s = p.State()
	assert.Equal(t, "m1", s.ActiveMetricID)
	assert.Equal(t, metric.StatusActive, s.Metrics["m1"].Status)

	m1.RecordSuccess(10, time.Now())
	p.Finish(m1, metric.StatusCompleted, "m1 done")
	s = p.State()
	assert.Equal(t, 1, s.ProcessedCount)
	require.NotNil(t, s.Metrics["m1"].Value)
	assert.Equal(t, 10.0, *s.Metrics["m1"].Value)

	p.Complete("done")
	s = p.State()
	assert.Equal(t, StatusComplete, s.Status)
	assert.Empty(t, s.ActiveMetricID)

	assert.Equal(t, []Status{StatusRunning, StatusRunning, StatusRunning, StatusComplete}, rec.statuses())
}

func TestPublisher_BeginPassResetsCounters(t *testing.T) {
	p, _ := newTestPublisher()
	m1 := &metric.Definition{ID: "m1", QueryText: "Q1"}

	p.BeginPass("pass-1", []*metric.Definition{m1}, "")
	p.Activate(m1, "")
	p.Finish(m1, metric.StatusCompleted, "")
	assert.Equal(t, 1, p.State().ProcessedCount)

	p.BeginPass("pass-2", []*metric.Definition{m1}, "")
	s := p.State()
	assert.Zero(t, s.ProcessedCount)
	assert.Equal(t, 1, s.TotalCount)
	assert.Equal(t, "pass-2", s.PassID)
}

func TestPublisher_IdleAndFailClearActiveMetric(t *testing.T) {
	p, _ := newTestPublisher()
	m1 := &metric.Definition{ID: "m1", QueryText: "Q1"}

	p.Activate(m1, "")
	p.Idle("stopped")
	assert.Equal(t, StatusIdle, p.State().Status)
	assert.Empty(t, p.State().ActiveMetricID)

	p.Activate(m1, "")
	p.Fail("load failed")
	assert.Equal(t, StatusError, p.State().Status)
	assert.Empty(t, p.State().ActiveMetricID)
	assert.Equal(t, "load failed", p.State().LastMessage)
}

func TestPublisher_EmptyPassIsCompleteImmediately(t *testing.T) {
	p, _ := newTestPublisher()
	rec := &recorder{}
	p.Subscribe(rec.listen)

	p.BeginPass("pass-1", nil, "nothing to refresh")

	assert.Equal(t, []Status{StatusComplete}, rec.statuses())
	assert.Equal(t, 0, p.State().TotalCount)
	assert.Equal(t, 0, p.State().ProcessedCount)
}

func TestPublisher_PauseKeepsRunning(t *testing.T) {
	p, _ := newTestPublisher()
	m1 := &metric.Definition{ID: "m1", QueryText: "Q1"}

	p.BeginPass("pass-1", []*metric.Definition{m1}, "")
	p.Activate(m1, "")
	p.Finish(m1, metric.StatusCompleted, "")
	p.Pause("waiting for next pass")

	s := p.State()
	assert.Equal(t, StatusRunning, s.Status)
	assert.Empty(t, s.ActiveMetricID)
	assert.Equal(t, 1, s.ProcessedCount)
	assert.Equal(t, "waiting for next pass", s.LastMessage)
}

// ==============================================================================
// Subscription Tests
// ==============================================================================

func TestPublisher_Unsubscribe(t *testing.T) {
	p, _ := newTestPublisher()
	first := &recorder{}
	second := &recorder{}

	unsubscribe := p.Subscribe(first.listen)
	p.Subscribe(second.listen)

	p.Message("one")
	unsubscribe()
	unsubscribe()
	p.Message("two")

	assert.Len(t, first.snapshots, 1)
	assert.Len(t, second.snapshots, 2)
}

func TestPublisher_ListenersGetIndependentCopies(t *testing.T) {
	p, _ := newTestPublisher()
	m1 := &metric.Definition{ID: "m1", QueryText: "Q1"}
	m1.RecordSuccess(1, time.Now())

	var received Snapshot
	p.Subscribe(func(s Snapshot) {
		received = s
		*s.Metrics["m1"].Value = 1000
		s.Metrics["intruder"] = MetricState{ID: "intruder"}
	})

	p.BeginPass("pass-1", []*metric.Definition{m1}, "")

	s := p.State()
	assert.Equal(t, 1.0, *s.Metrics["m1"].Value)
	_, exists := s.Metrics["intruder"]
	assert.False(t, exists)
	assert.Equal(t, "pass-1", received.PassID)
}

func TestPublisher_ListenerPanicDoesNotStopOthers(t *testing.T) {
	p, _ := newTestPublisher()
	rec := &recorder{}

	p.Subscribe(func(Snapshot) { panic("boom") })
	p.Subscribe(rec.listen)

	assert.NotPanics(t, func() { p.Message("hello") })
	assert.Len(t, rec.snapshots, 1)
}

func TestPublisher_UpdatedAtFollowsClock(t *testing.T) {
	p, clock := newTestPublisher()

	clock.Advance(5 * time.Minute)
	p.Message("later")

	assert.Equal(t, time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC), p.State().UpdatedAt)
}

func TestSnapshot_Metric(t *testing.T) {
	p, _ := newTestPublisher()
	m1 := &metric.Definition{ID: "m1", QueryText: "Q1"}
	p.BeginPass("pass-1", []*metric.Definition{m1}, "")

	got, ok := p.State().Metric("m1")
	assert.True(t, ok)
	assert.Equal(t, "m1", got.ID)

	_, ok = p.State().Metric("missing")
	assert.False(t, ok)
}
