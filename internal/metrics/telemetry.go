package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SuiteTelemetry exposes Prometheus-compatible counters for suite execution,
// for embedders that scrape crucible as part of a CI fleet. All metrics are
// namespaced with "crucible_".
type SuiteTelemetry struct {
	testsTotal   *prometheus.CounterVec
	testDuration *prometheus.HistogramVec
	suiteRunning prometheus.Gauge

	registry *prometheus.Registry
}

// NewSuiteTelemetry creates a telemetry set backed by its own registry.
func NewSuiteTelemetry() *SuiteTelemetry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &SuiteTelemetry{
		registry: registry,
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crucible_tests_total",
			Help: "Total test executions by terminal status.",
		}, []string{"status"}),
		testDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crucible_test_duration_seconds",
			Help:    "Test execution duration by severity.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"severity"}),
		suiteRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crucible_suite_running",
			Help: "1 while a suite run is in progress.",
		}),
	}
}

// SuiteStarted flags a suite run in progress.
func (t *SuiteTelemetry) SuiteStarted() {
	t.suiteRunning.Set(1)
}

// SuiteFinished clears the in-progress flag.
func (t *SuiteTelemetry) SuiteFinished() {
	t.suiteRunning.Set(0)
}

// ObserveTest records one finished test execution.
func (t *SuiteTelemetry) ObserveTest(status string, severity string, duration time.Duration) {
	t.testsTotal.WithLabelValues(status).Inc()
	t.testDuration.WithLabelValues(severity).Observe(duration.Seconds())
}

// Handler returns an HTTP handler serving the telemetry in Prometheus
// exposition format.
func (t *SuiteTelemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for programmatic gathering.
func (t *SuiteTelemetry) Registry() *prometheus.Registry {
	return t.registry
}
