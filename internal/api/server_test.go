package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/tally/internal/metric"
	"github.com/livinlefevreloca/tally/internal/state"
	"github.com/livinlefevreloca/tally/internal/stats"
	"github.com/livinlefevreloca/tally/internal/telemetry"
	"github.com/livinlefevreloca/tally/internal/worker"
)

// ==============================================================================
// Test Helpers
// ==============================================================================

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type mockController struct {
	mu       sync.Mutex
	running  bool
	startErr error
	starts   int
	stops    int
}

func (m *mockController) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *mockController) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.running = false
}

func (m *mockController) Status() worker.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return worker.Status{IsRunning: m.running}
}

type staticTotals stats.Totals

func (s staticTotals) Totals() stats.Totals { return stats.Totals(s) }

func setupTestServer(t *testing.T) (*Server, *mockController, *state.Publisher) {
	t.Helper()
	controller := &mockController{}
	publisher := state.NewPublisher(clockwork.NewFakeClock(), createTestLogger())
	totals := staticTotals{Passes: 3, Succeeded: 7, Failed: 2}
	return NewServer(controller, publisher, totals, nil, createTestLogger()), controller, publisher
}

func do(t *testing.T, s *Server, method, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(method, path, nil))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

// ==============================================================================
// Handler Tests
// ==============================================================================

func TestHealth(t *testing.T) {
	s, _, _ := setupTestServer(t)

	resp, body := do(t, s, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestWorkerLifecycle(t *testing.T) {
	s, controller, _ := setupTestServer(t)

	resp, body := do(t, s, http.MethodGet, "/worker/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"isRunning":false}`, string(body))

	resp, body = do(t, s, http.MethodPost, "/worker/start")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"isRunning":true}`, string(body))

	resp, body = do(t, s, http.MethodPost, "/worker/stop")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"isRunning":false}`, string(body))

	assert.Equal(t, 1, controller.starts)
	assert.Equal(t, 1, controller.stops)
}

func TestStartWorker_LoadFailure(t *testing.T) {
	s, controller, _ := setupTestServer(t)
	controller.startErr = errors.New("failed to load metrics: database is locked")

	resp, body := do(t, s, http.MethodPost, "/worker/start")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "worker_start_failed", problem["type"])
	assert.Equal(t, "/worker/start", problem["instance"])
	assert.Contains(t, problem["detail"], "database is locked")
}

func TestGetState(t *testing.T) {
	s, _, publisher := setupTestServer(t)
	m1 := &metric.Definition{ID: "m1", DisplayName: "Orders", SourceType: "erp", QueryText: "Q1"}
	publisher.BeginPass("pass-1", []*metric.Definition{m1}, "starting")
	publisher.Activate(m1, "processing Orders")

	resp, body := do(t, s, http.MethodGet, "/state")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var snapshot state.Snapshot
	require.NoError(t, json.Unmarshal(body, &snapshot))
	assert.Equal(t, state.StatusRunning, snapshot.Status)
	assert.Equal(t, "m1", snapshot.ActiveMetricID)
	assert.Equal(t, 1, snapshot.TotalCount)
	assert.Equal(t, metric.StatusActive, snapshot.Metrics["m1"].Status)
}

func TestGetMetricState(t *testing.T) {
	s, _, publisher := setupTestServer(t)
	m1 := &metric.Definition{ID: "m1", SourceType: "erp", QueryText: "Q1"}
	publisher.BeginPass("pass-1", []*metric.Definition{m1}, "")
	m1.RecordFailure("EmptyResult")
	publisher.Finish(m1, metric.StatusErrored, "")

	resp, body := do(t, s, http.MethodGet, "/state/metrics/m1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got state.MetricState
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, metric.StatusErrored, got.Status)
	assert.Equal(t, "EmptyResult", got.Error)

	resp, body = do(t, s, http.MethodGet, "/state/metrics/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "not_found", problem["type"])
}

func TestGetStats(t *testing.T) {
	s, _, _ := setupTestServer(t)

	resp, body := do(t, s, http.MethodGet, "/stats")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var totals stats.Totals
	require.NoError(t, json.Unmarshal(body, &totals))
	assert.Equal(t, 3, totals.Passes)
	assert.Equal(t, 7, totals.Succeeded)
	assert.Equal(t, 2, totals.Failed)
}

func TestGetStats_NoCollector(t *testing.T) {
	publisher := state.NewPublisher(clockwork.NewFakeClock(), createTestLogger())
	s := NewServer(&mockController{}, publisher, nil, nil, createTestLogger())

	resp, body := do(t, s, http.MethodGet, "/stats")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"passes":0,"stopped":0,"succeeded":0,"failed":0}`, string(body))
}

type stubHistory struct {
	passes    []stats.PassSummary
	err       error
	lastLimit int
}

func (h *stubHistory) RecentPasses(ctx context.Context, limit int) ([]stats.PassSummary, error) {
	h.lastLimit = limit
	if h.err != nil {
		return nil, h.err
	}
	if limit < len(h.passes) {
		return h.passes[:limit], nil
	}
	return h.passes, nil
}

func TestGetPasses(t *testing.T) {
	history := &stubHistory{passes: []stats.PassSummary{
		{PassID: "p2", Total: 3, Succeeded: 3},
		{PassID: "p1", Total: 3, Succeeded: 2, Failed: 1},
	}}
	publisher := state.NewPublisher(clockwork.NewFakeClock(), createTestLogger())
	s := NewServer(&mockController{}, publisher, nil, history, createTestLogger())

	resp, body := do(t, s, http.MethodGet, "/stats/passes")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var passes []stats.PassSummary
	require.NoError(t, json.Unmarshal(body, &passes))
	require.Len(t, passes, 2)
	assert.Equal(t, "p2", passes[0].PassID)
	assert.Equal(t, 20, history.lastLimit)

	resp, body = do(t, s, http.MethodGet, "/stats/passes?limit=1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &passes))
	assert.Len(t, passes, 1)
	assert.Equal(t, 1, history.lastLimit)
}

func TestGetPasses_InvalidLimit(t *testing.T) {
	publisher := state.NewPublisher(clockwork.NewFakeClock(), createTestLogger())
	s := NewServer(&mockController{}, publisher, nil, &stubHistory{}, createTestLogger())

	for _, limit := range []string{"0", "-1", "abc", "501"} {
		resp, body := do(t, s, http.MethodGet, "/stats/passes?limit="+limit)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, limit)
		var problem map[string]any
		require.NoError(t, json.Unmarshal(body, &problem))
		assert.Equal(t, "bad_request", problem["type"], limit)
	}
}

func TestGetPasses_Errors(t *testing.T) {
	publisher := state.NewPublisher(clockwork.NewFakeClock(), createTestLogger())

	noHistory := NewServer(&mockController{}, publisher, nil, nil, createTestLogger())
	resp, _ := do(t, noHistory, http.MethodGet, "/stats/passes")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	failing := NewServer(&mockController{}, publisher, nil, &stubHistory{err: errors.New("database is locked")}, createTestLogger())
	resp, body := do(t, failing, http.MethodGet, "/stats/passes")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(body, &problem))
	assert.Equal(t, "pass_history_failed", problem["type"])
}

func TestMetricsApp(t *testing.T) {
	metrics := telemetry.NewMetrics()
	metrics.SetRunning(true)
	app := NewMetricsApp("/metrics", metrics.Handler())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tally_worker_running 1")
}
