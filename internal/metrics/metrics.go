// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics contains the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	Registry         *prometheus.Registry
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	AuthOperations   *prometheus.CounterVec
	StoreRetries     *prometheus.CounterVec
	ConnectionsTotal *prometheus.CounterVec
	MailQueued       *prometheus.CounterVec
}

// New creates a registry with the Go and process collectors and the service metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodist_http_requests_total",
				Help: "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "moodist_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodist_auth_operations_total",
				Help: "Account operations by operation, role and outcome",
			},
			[]string{"operation", "role", "outcome"},
		),
		StoreRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodist_store_retries_total",
				Help: "Retried store writes by reason",
			},
			[]string{"reason"},
		),
		ConnectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodist_connection_transitions_total",
				Help: "Connection status changes by target status",
			},
			[]string{"status"},
		),
		MailQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "moodist_mail_messages_total",
				Help: "Outgoing messages by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
	}

	reg.MustRegister(m.HTTPRequests, m.HTTPDuration, m.AuthOperations, m.StoreRetries, m.ConnectionsTotal, m.MailQueued)

	return m
}

func (m *Metrics) ObserveHTTP(route, method, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, status).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) AuthOperation(operation, role string, err error) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, role, outcome(err)).Inc()
}

func (m *Metrics) StoreRetry(reason string) {
	if m == nil {
		return
	}
	m.StoreRetries.WithLabelValues(reason).Inc()
}

func (m *Metrics) ConnectionTransition(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.ConnectionsTotal.WithLabelValues(status).Add(float64(count))
}

func (m *Metrics) Mail(kind string, err error) {
	if m == nil {
		return
	}
	m.MailQueued.WithLabelValues(kind, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
