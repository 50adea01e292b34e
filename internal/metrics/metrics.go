// Package metrics defines the Prometheus collectors stagehand exports and the
// HTTP server that exposes them for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	TransitionsTotal *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	TickErrorsTotal  *prometheus.CounterVec
	StageBacklog     *prometheus.GaugeVec
	UploadAttempts   *prometheus.CounterVec
	ManifestsTotal   *prometheus.CounterVec
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagehand",
				Name:      "transitions_total",
				Help:      "Entries moved out of a stage, by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "stagehand",
				Name:      "tick_duration_seconds",
				Help:      "Duration of one scan-decide-transition cycle.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
			[]string{"stage"},
		),
		TickErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagehand",
				Name:      "tick_errors_total",
				Help:      "Ticks that ended with an error, by stage.",
			},
			[]string{"stage"},
		),
		StageBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "stagehand",
				Name:      "stage_backlog_entries",
				Help:      "Entries seen by the most recent scan of a stage.",
			},
			[]string{"stage"},
		),
		UploadAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagehand",
				Name:      "upload_attempts_total",
				Help:      "Remote store put attempts by stage and result (success, error).",
			},
			[]string{"stage", "result"},
		),
		ManifestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "stagehand",
				Name:      "manifests_written_total",
				Help:      "Manifest documents written, by kind.",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.TransitionsTotal,
		m.TickDuration,
		m.TickErrorsTotal,
		m.StageBacklog,
		m.UploadAttempts,
		m.ManifestsTotal,
	)
	return m
}

// Registry exposes the underlying registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveTransition counts one entry leaving stage with outcome.
func (m *Metrics) ObserveTransition(stage, outcome string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveTick records a finished tick.
func (m *Metrics) ObserveTick(stage string, scanned int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.TickDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	m.StageBacklog.WithLabelValues(stage).Set(float64(scanned))
	if err != nil {
		m.TickErrorsTotal.WithLabelValues(stage).Inc()
	}
}

// ObserveUpload counts one remote put attempt.
func (m *Metrics) ObserveUpload(stage string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.UploadAttempts.WithLabelValues(stage, result).Inc()
}

// ObserveManifest counts one written manifest document.
func (m *Metrics) ObserveManifest(kind string) {
	if m == nil {
		return
	}
	m.ManifestsTotal.WithLabelValues(kind).Inc()
}
