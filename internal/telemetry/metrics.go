// Package telemetry exposes refresh metrics to Prometheus and configures
// OpenTelemetry tracing.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/livinlefevreloca/tally/internal/metric"
)

const namespace = "tally"

// Refresh outcomes used as the outcome label
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the collectors updated by the worker. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	value    *prometheus.GaugeVec
	refresh  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	passes   *prometheus.CounterVec
	running  prometheus.Gauge
}

// NewMetrics registers the collectors on a fresh registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		value: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_value",
			Help:      "Last refreshed value of each metric.",
		}, []string{"metric_id", "group", "name"}),
		refresh: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Metric refreshes by source type and outcome.",
		}, []string{"source_type", "outcome"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_failures_total",
			Help:      "Failed metric refreshes by failure kind.",
		}, []string{"kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent executing a metric's query.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source_type"}),
		passes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Refresh passes by how they ended.",
		}, []string{"result"}),
		running: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_running",
			Help:      "1 while the refresh worker is running.",
		}),
	}
}

// Registry returns the registry holding tally's collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRefresh records one executor call. err is nil on success.
func (m *Metrics) ObserveRefresh(sourceType metric.SourceType, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
		m.failures.WithLabelValues(string(metric.KindOf(err))).Inc()
	}
	m.refresh.WithLabelValues(string(sourceType), outcome).Inc()
	m.duration.WithLabelValues(string(sourceType)).Observe(elapsed.Seconds())
}

// SetValue publishes a metric's latest value
func (m *Metrics) SetValue(def metric.Definition, value float64) {
	if m == nil {
		return
	}
	m.value.WithLabelValues(def.ID, def.DisplayGroup, def.Label()).Set(value)
}

// ObservePass counts a finished pass
func (m *Metrics) ObservePass(stopped bool) {
	if m == nil {
		return
	}
	result := "completed"
	if stopped {
		result = "stopped"
	}
	m.passes.WithLabelValues(result).Inc()
}

// SetRunning flips the worker_running gauge
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
