package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/livinlefevreloca/tally/internal/metric"
)

// =============================================================================
// Metrics
// =============================================================================

func TestMetrics_ObserveRefresh(t *testing.T) {
	m := NewMetrics()

	m.ObserveRefresh("postgres", 20*time.Millisecond, nil)
	m.ObserveRefresh("postgres", 30*time.Millisecond, metric.Failf(metric.KindEmptyResult, "no rows"))
	m.ObserveRefresh("postgres", time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, promtest.ToFloat64(m.refresh.WithLabelValues("postgres", OutcomeSuccess)))
	assert.Equal(t, 2.0, promtest.ToFloat64(m.refresh.WithLabelValues("postgres", OutcomeFailure)))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.failures.WithLabelValues(string(metric.KindEmptyResult))))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.failures.WithLabelValues(string(metric.KindExecutionFailure))))
	assert.Equal(t, 1, promtest.CollectAndCount(m.duration))
}

func TestMetrics_SetValue(t *testing.T) {
	m := NewMetrics()
	def := metric.Definition{ID: "m1", DisplayGroup: "Sales", DisplayName: "Orders"}

	m.SetValue(def, 42)
	m.SetValue(def, 43)

	assert.Equal(t, 43.0, promtest.ToFloat64(m.value.WithLabelValues("m1", "Sales", "Orders")))
}

func TestMetrics_SetValue_FallsBackToID(t *testing.T) {
	m := NewMetrics()

	m.SetValue(metric.Definition{ID: "m1"}, 1)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.value.WithLabelValues("m1", "", "m1")))
}

func TestMetrics_RunningAndPasses(t *testing.T) {
	m := NewMetrics()

	m.SetRunning(true)
	assert.Equal(t, 1.0, promtest.ToFloat64(m.running))
	m.SetRunning(false)
	assert.Equal(t, 0.0, promtest.ToFloat64(m.running))

	m.ObservePass(false)
	m.ObservePass(true)
	m.ObservePass(false)
	assert.Equal(t, 2.0, promtest.ToFloat64(m.passes.WithLabelValues("completed")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.passes.WithLabelValues("stopped")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveRefresh("postgres", time.Second, nil)
		m.SetValue(metric.Definition{ID: "m1"}, 1)
		m.ObservePass(true)
		m.SetRunning(true)
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.SetValue(metric.Definition{ID: "m1", DisplayGroup: "g", DisplayName: "n"}, 7)
	m.SetRunning(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `tally_metric_value{group="g",metric_id="m1",name="n"} 7`)
	assert.Contains(t, string(body), "tally_worker_running 1")
}

// =============================================================================
// Tracing
// =============================================================================

func TestNewTracer_Disabled(t *testing.T) {
	tracer, shutdown, err := NewTracer(context.Background(), DefaultTracingConfig())
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "tally.metric")
	SetError(span, errors.New("connection refused"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "connection refused", spans[0].Status().Description)

	var names []string
	for _, ev := range spans[0].Events() {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "exception")
	assert.Contains(t, names, "error_occurred")
}
