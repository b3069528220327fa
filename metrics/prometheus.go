// Package metrics provides Prometheus metrics export for the decision loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter exports loop metrics in Prometheus format. A nil *Exporter is a
// valid no-op recorder.
type Exporter struct {
	registry *prometheus.Registry

	taskRuns          *prometheus.CounterVec
	triggerFires      *prometheus.CounterVec
	cycleFailures     *prometheus.CounterVec
	pipelineDuration  prometheus.Histogram
	embeddingRequests *prometheus.CounterVec
}

// Config configures the exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for the pipeline duration histogram (in seconds)
	DurationBuckets []float64
}

// DefaultConfig returns default exporter configuration.
func DefaultConfig() Config {
	return Config{
		DurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}
}

// NewExporter creates a metrics exporter.
func NewExporter(cfg Config) *Exporter {
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = DefaultConfig().DurationBuckets
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &Exporter{registry: registry}

	e.taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volition",
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Total number of scheduled task runs",
		},
		[]string{"task", "status"},
	)

	e.triggerFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volition",
			Subsystem: "monitor",
			Name:      "trigger_fires_total",
			Help:      "Total number of monitor trigger fires",
		},
		[]string{"trigger"},
	)

	e.cycleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volition",
			Subsystem: "engine",
			Name:      "cycle_failures_total",
			Help:      "Total number of failed decision cycles",
		},
		[]string{"unit"},
	)

	e.pipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "volition",
			Subsystem: "engine",
			Name:      "pipeline_duration_seconds",
			Help:      "Pipeline run duration in seconds",
			Buckets:   cfg.DurationBuckets,
		},
	)

	e.embeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "volition",
			Subsystem: "memory",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		e.taskRuns,
		e.triggerFires,
		e.cycleFailures,
		e.pipelineDuration,
		e.embeddingRequests,
	)

	return e
}

// RecordTaskRun records one scheduled task run.
func (e *Exporter) RecordTaskRun(task string, success bool) {
	if e == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	e.taskRuns.WithLabelValues(task, status).Inc()
}

// RecordTriggerFire records a monitor trigger fire.
func (e *Exporter) RecordTriggerFire(trigger string) {
	if e == nil {
		return
	}
	e.triggerFires.WithLabelValues(trigger).Inc()
}

// RecordCycleFailure records a failed decision cycle.
func (e *Exporter) RecordCycleFailure(unit string) {
	if e == nil {
		return
	}
	e.cycleFailures.WithLabelValues(unit).Inc()
}

// RecordPipelineDuration records a pipeline run duration.
func (e *Exporter) RecordPipelineDuration(d time.Duration) {
	if e == nil {
		return
	}
	e.pipelineDuration.Observe(d.Seconds())
}

// RecordEmbeddingRequest records an embedding backend request.
func (e *Exporter) RecordEmbeddingRequest(success bool) {
	if e == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	e.embeddingRequests.WithLabelValues(status).Inc()
}

// Handler returns the HTTP handler for the metrics endpoint.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}
