package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livinlefevreloca/tally/internal/metric"
	"github.com/livinlefevreloca/tally/internal/testutil"
)

// =============================================================================
// Test Helpers
// =============================================================================

var errStoreDown = errors.New("store unavailable")

func newTestSyncer(t *testing.T, config Config) (*Syncer, *testutil.MockStore, *testutil.TestLogger) {
	t.Helper()
	logger := testutil.NewTestLogger()
	st := testutil.NewMockStore(
		metric.Definition{ID: "m1", SourceType: "A", QueryText: "Q1"},
		metric.Definition{ID: "m2", SourceType: "A", QueryText: "Q2"},
		metric.Definition{ID: "m3", SourceType: "A", QueryText: "Q3"},
	)
	s, err := NewSyncer(config, st, logger.Logger())
	if err != nil {
		t.Fatalf("failed to create syncer: %v", err)
	}
	return s, st, logger
}

var at = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// =============================================================================
// Config Tests
// =============================================================================

func TestNewSyncer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"zero max buffered", Config{MaxBuffered: 0, MaxAttempts: 1}},
		{"negative attempts", Config{MaxBuffered: 1, MaxAttempts: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSyncer(tt.config, testutil.NewMockStore(), testutil.NewTestLogger().Logger()); err == nil {
				t.Error("expected error for invalid config")
			}
		})
	}
}

// =============================================================================
// Write-through Tests
// =============================================================================

func TestSyncer_PersistValue_Success(t *testing.T) {
	s, st, _ := newTestSyncer(t, DefaultConfig())

	if err := s.PersistValue(context.Background(), "m1", 10, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	values := st.PersistedValues()
	if len(values) != 1 || values[0].ID != "m1" || values[0].Value != 10 {
		t.Errorf("unexpected persisted values: %+v", values)
	}
	if stats := s.GetStats(); stats.Buffered != 0 {
		t.Errorf("expected empty buffer, got %d", stats.Buffered)
	}
}

func TestSyncer_PersistValue_FailureIsBuffered(t *testing.T) {
	s, st, logger := newTestSyncer(t, DefaultConfig())
	st.SetPersistError(errStoreDown)

	err := s.PersistValue(context.Background(), "m1", 10, at)
	if metric.KindOf(err) != metric.KindPersistFailure {
		t.Fatalf("expected PersistFailure, got %v", err)
	}
	if !errors.Is(err, errStoreDown) {
		t.Errorf("expected wrapped store error, got %v", err)
	}

	if stats := s.GetStats(); stats.Buffered != 1 {
		t.Errorf("expected 1 buffered write, got %d", stats.Buffered)
	}
	if !logger.HasWarning() {
		t.Error("expected a warning to be logged")
	}
}

func TestSyncer_NewerValueSupersedesBuffered(t *testing.T) {
	s, st, _ := newTestSyncer(t, DefaultConfig())
	ctx := context.Background()

	st.SetPersistError(errStoreDown)
	s.PersistValue(ctx, "m1", 10, at)
	s.PersistValue(ctx, "m1", 11, at.Add(time.Minute))

	if stats := s.GetStats(); stats.Buffered != 1 {
		t.Fatalf("expected one buffered write per metric, got %d", stats.Buffered)
	}

	st.SetPersistError(nil)
	if err := s.PersistValue(ctx, "m1", 12, at.Add(2*time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats := s.GetStats(); stats.Buffered != 0 {
		t.Errorf("successful write should clear the buffered value, got %d", stats.Buffered)
	}

	if remaining := s.Flush(ctx); remaining != 0 {
		t.Errorf("expected nothing to flush, got %d", remaining)
	}
	values := st.PersistedValues()
	if len(values) != 1 || values[0].Value != 12 {
		t.Errorf("stale value was written: %+v", values)
	}
}

func TestSyncer_BufferEvictsOldest(t *testing.T) {
	s, st, logger := newTestSyncer(t, Config{MaxBuffered: 2, MaxAttempts: 3})
	ctx := context.Background()
	st.SetPersistError(errStoreDown)

	s.PersistValue(ctx, "m1", 1, at)
	s.PersistValue(ctx, "m2", 2, at)
	s.PersistValue(ctx, "m3", 3, at)

	stats := s.GetStats()
	if stats.Buffered != 2 || stats.Dropped != 1 {
		t.Errorf("expected 2 buffered and 1 dropped, got %+v", stats)
	}
	if !logger.HasError() {
		t.Error("expected eviction to be logged as an error")
	}

	st.SetPersistError(nil)
	s.Flush(ctx)

	written := map[string]bool{}
	for _, v := range st.PersistedValues() {
		written[v.ID] = true
	}
	if written["m1"] || !written["m2"] || !written["m3"] {
		t.Errorf("unexpected writes after eviction: %v", written)
	}
}

// =============================================================================
// Flush Tests
// =============================================================================

func TestSyncer_Flush_RetriesBufferedWrites(t *testing.T) {
	s, st, _ := newTestSyncer(t, DefaultConfig())
	ctx := context.Background()

	st.SetPersistError(errStoreDown)
	s.PersistValue(ctx, "m1", 10, at)
	s.PersistValue(ctx, "m2", 20, at)

	st.SetPersistError(nil)
	if remaining := s.Flush(ctx); remaining != 0 {
		t.Fatalf("expected buffer to drain, %d remaining", remaining)
	}

	values := st.PersistedValues()
	if len(values) != 2 || values[0].ID != "m1" || values[1].ID != "m2" {
		t.Errorf("expected oldest-first retries, got %+v", values)
	}
	if stats := s.GetStats(); stats.Retried != 2 {
		t.Errorf("expected 2 retries, got %d", stats.Retried)
	}
	if def, _ := st.Definition("m2"); def.LastValue == nil || *def.LastValue != 20 {
		t.Errorf("expected store to hold retried value, got %+v", def.LastValue)
	}
}

func TestSyncer_Flush_DropsAfterMaxAttempts(t *testing.T) {
	s, st, logger := newTestSyncer(t, Config{MaxBuffered: 10, MaxAttempts: 2})
	ctx := context.Background()

	st.SetPersistError(errStoreDown)
	s.PersistValue(ctx, "m1", 10, at)

	if remaining := s.Flush(ctx); remaining != 1 {
		t.Errorf("expected write to stay buffered after first retry, got %d", remaining)
	}
	if remaining := s.Flush(ctx); remaining != 0 {
		t.Errorf("expected write to be dropped after max attempts, got %d", remaining)
	}

	stats := s.GetStats()
	if stats.Dropped != 1 {
		t.Errorf("expected 1 dropped write, got %d", stats.Dropped)
	}
	if len(logger.GetEntriesByLevel("ERROR")) == 0 {
		t.Error("expected drop to be logged")
	}
}

func TestSyncer_Flush_StopsOnCancelledContext(t *testing.T) {
	s, st, _ := newTestSyncer(t, DefaultConfig())

	st.SetPersistError(errStoreDown)
	s.PersistValue(context.Background(), "m1", 10, at)
	st.SetPersistError(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if remaining := s.Flush(ctx); remaining != 1 {
		t.Errorf("expected write to stay buffered, got %d", remaining)
	}
	if len(st.PersistedValues()) != 0 {
		t.Error("no writes expected with a cancelled context")
	}
}

// =============================================================================
// Failure Recording Tests
// =============================================================================

func TestSyncer_PersistFailure(t *testing.T) {
	s, st, _ := newTestSyncer(t, DefaultConfig())

	if err := s.PersistFailure(context.Background(), "m1", "EmptyResult", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	failures := st.PersistedFailures()
	if len(failures) != 1 || failures[0].Message != "EmptyResult" {
		t.Errorf("unexpected failures: %+v", failures)
	}
}

func TestSyncer_PersistFailure_StoreError(t *testing.T) {
	s, st, _ := newTestSyncer(t, DefaultConfig())
	st.SetPersistError(errStoreDown)

	err := s.PersistFailure(context.Background(), "m1", "EmptyResult", at)
	if metric.KindOf(err) != metric.KindPersistFailure {
		t.Errorf("expected PersistFailure, got %v", err)
	}
	if stats := s.GetStats(); stats.Buffered != 0 {
		t.Error("failure records must not be buffered")
	}
}

// valueOnlyStore does not implement store.FailureRecorder
type valueOnlyStore struct {
	calls int
}

func (v *valueOnlyStore) LoadAll(ctx context.Context) ([]metric.Definition, error) {
	return nil, nil
}

func (v *valueOnlyStore) PersistValue(ctx context.Context, id string, value float64, at time.Time) error {
	v.calls++
	return nil
}

func TestSyncer_PersistFailure_UnsupportedStore(t *testing.T) {
	st := &valueOnlyStore{}
	s, err := NewSyncer(DefaultConfig(), st, testutil.NewTestLogger().Logger())
	if err != nil {
		t.Fatalf("failed to create syncer: %v", err)
	}

	if err := s.PersistFailure(context.Background(), "m1", "EmptyResult", at); err != nil {
		t.Errorf("expected no error for stores without failure recording, got %v", err)
	}
}
