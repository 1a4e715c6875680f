package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds Prometheus collectors for the HTTP surface and the triage pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec

	triageRuns       *prometheus.CounterVec
	triageDuration   prometheus.Histogram
	classifications  *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	notifyFailures   prometheus.Counter
	deadLetters      prometheus.Counter
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "HTTP errors by route, method and error code.",
		}, []string{"path", "method", "code"}),
		triageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_runs_total",
			Help: "Triage runs by outcome.",
		}, []string{"outcome"}),
		triageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "triage_run_duration_seconds",
			Help:    "Duration of a full triage run.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_classifications_total",
			Help: "Classifications by the source that produced them.",
		}, []string{"source"}),
		providerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "triage_provider_failures_total",
			Help: "Failed classification provider attempts.",
		}, []string{"provider"}),
		notifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_notification_failures_total",
			Help: "Assignee notifications that could not be delivered.",
		}),
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "triage_dead_letters_total",
			Help: "Ticket events dropped after exhausting redeliveries.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.requestDuration, m.errors,
		m.triageRuns, m.triageDuration, m.classifications,
		m.providerFailures, m.notifyFailures, m.deadLetters,
	)
	return m
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// RecordTriage records a finished triage run.
func (m *Metrics) RecordTriage(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.triageRuns.WithLabelValues(outcome).Inc()
	m.triageDuration.Observe(duration.Seconds())
}

// RecordClassification counts which source produced a classification.
func (m *Metrics) RecordClassification(source string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(source).Inc()
}

// RecordProviderFailure counts a failed provider attempt.
func (m *Metrics) RecordProviderFailure(provider string) {
	if m == nil {
		return
	}
	m.providerFailures.WithLabelValues(provider).Inc()
}

// RecordNotificationFailure counts an undelivered notification.
func (m *Metrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

// RecordDeadLetter counts an event dropped after too many deliveries.
func (m *Metrics) RecordDeadLetter() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}
