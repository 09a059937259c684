// Package metrics provides Prometheus metrics for the pipeline master.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pipeline"

var (
	globalMetrics     *Metrics
	globalMetricsOnce sync.Once
)

// Metrics holds all Prometheus metrics for the pipeline master
type Metrics struct {
	// Dispatch metrics
	DispatchAttempts   *prometheus.CounterVec
	DispatchFailures   *prometheus.CounterVec
	EncoderAssignments *prometheus.CounterVec

	// Job metrics
	JobsTotal     *prometheus.CounterVec
	JobQueueDepth prometheus.Gauge

	// Webhook metrics
	Webhooks          *prometheus.CounterVec
	EncodeProcessTime prometheus.Histogram

	// Storage metrics
	Pins *prometheus.CounterVec

	// API metrics
	APIRequests *prometheus.CounterVec
	APILatency  *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry (singleton
// to avoid double registration)
func New() *Metrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = NewWithRegistry(prometheus.DefaultRegisterer)
	})
	return globalMetrics
}

// NewWithRegistry creates the metrics and registers them on reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "attempts_total",
				Help:      "Total number of dispatch attempts by result",
			},
			[]string{"result"},
		),
		DispatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatch",
				Name:      "failures_total",
				Help:      "Total number of failed dispatch attempts by reason",
			},
			[]string{"reason"},
		),
		EncoderAssignments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "encoder",
				Name:      "assignments_total",
				Help:      "Total number of jobs assigned to each encoder",
			},
			[]string{"encoder"},
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "total",
				Help:      "Total number of job transitions by resulting status",
			},
			[]string{"status"},
		),
		JobQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "jobs",
				Name:      "queue_depth",
				Help:      "Number of jobs waiting in the queue (pending status)",
			},
		),
		Webhooks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhooks",
				Name:      "total",
				Help:      "Total number of encoder webhooks by outcome",
			},
			[]string{"status"},
		),
		EncodeProcessTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "encode",
				Name:      "processing_seconds",
				Help:      "Encoder reported processing time in seconds",
				Buckets:   []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
			},
		),
		Pins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pin",
				Name:      "total",
				Help:      "Total number of pin attempts by backend and result",
			},
			[]string{"backend", "result"},
		),
		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total number of API requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),
		APILatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "api",
				Name:      "latency_seconds",
				Help:      "API request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"endpoint", "method"},
		),
	}

	reg.MustRegister(
		m.DispatchAttempts,
		m.DispatchFailures,
		m.EncoderAssignments,
		m.JobsTotal,
		m.JobQueueDepth,
		m.Webhooks,
		m.EncodeProcessTime,
		m.Pins,
		m.APIRequests,
		m.APILatency,
	)

	return m
}

// Handler returns an HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDispatchSuccess records a job accepted by an encoder
func (m *Metrics) RecordDispatchSuccess(encoder string) {
	m.DispatchAttempts.WithLabelValues("success").Inc()
	m.EncoderAssignments.WithLabelValues(encoder).Inc()
	m.JobsTotal.WithLabelValues("encoding").Inc()
}

// RecordDispatchFailure records a failed dispatch attempt. exhausted is set
// when the attempt budget ran out and the job failed.
func (m *Metrics) RecordDispatchFailure(reason string, exhausted bool) {
	m.DispatchAttempts.WithLabelValues("failure").Inc()
	m.DispatchFailures.WithLabelValues(reason).Inc()
	if exhausted {
		m.JobsTotal.WithLabelValues("failed").Inc()
	}
}

// RecordJobCreated records a new pending job
func (m *Metrics) RecordJobCreated() {
	m.JobsTotal.WithLabelValues("pending").Inc()
}

// RecordWebhook records an encoder webhook outcome
func (m *Metrics) RecordWebhook(status string) {
	m.Webhooks.WithLabelValues(status).Inc()
	switch status {
	case "completed", "failed":
		m.JobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveProcessingTime records encoder reported processing time
func (m *Metrics) ObserveProcessingTime(seconds float64) {
	m.EncodeProcessTime.Observe(seconds)
}

// RecordPin records a pin attempt
func (m *Metrics) RecordPin(backend, result string) {
	m.Pins.WithLabelValues(backend, result).Inc()
}

// SetQueueDepth sets the current queue depth
func (m *Metrics) SetQueueDepth(depth float64) {
	m.JobQueueDepth.Set(depth)
}

// RecordAPIRequest records an API request
func (m *Metrics) RecordAPIRequest(endpoint, method, status string, latencySeconds float64) {
	m.APIRequests.WithLabelValues(endpoint, method, status).Inc()
	m.APILatency.WithLabelValues(endpoint, method).Observe(latencySeconds)
}
