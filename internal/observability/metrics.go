package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors exported by the service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	EscalationsTotal   *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	SchedulerRuns      *prometheus.CounterVec
	SchedulerDuration  prometheus.Histogram
}

// NewMetrics registers collectors on reg. Tests pass a fresh registry so
// repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketdesk_http_requests_total",
				Help: "HTTP requests served, by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ticketdesk_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketdesk_http_errors_total",
				Help: "Error responses by route, method and error code.",
			},
			[]string{"route", "method", "code"},
		),
		EscalationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketdesk_escalations_total",
				Help: "Tickets escalated, by target level.",
			},
			[]string{"level"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketdesk_escalation_notifications_total",
				Help: "Escalation notifications attempted, by result.",
			},
			[]string{"result"},
		),
		SchedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketdesk_scheduler_runs_total",
				Help: "Escalation scheduler runs, by outcome.",
			},
			[]string{"outcome"},
		),
		SchedulerDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ticketdesk_scheduler_run_duration_seconds",
				Help:    "Duration of completed escalation scans.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(route, method, code string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(route, method, code).Inc()
}

// RecordEscalation counts a committed escalation to level.
func (m *Metrics) RecordEscalation(level string) {
	if m == nil {
		return
	}
	m.EscalationsTotal.WithLabelValues(level).Inc()
}

// RecordNotification counts a notification attempt.
func (m *Metrics) RecordNotification(sent bool) {
	if m == nil {
		return
	}
	result := "failed"
	if sent {
		result = "sent"
	}
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

// RecordSchedulerRun records a completed scan and its duration.
func (m *Metrics) RecordSchedulerRun(duration time.Duration) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues("completed").Inc()
	m.SchedulerDuration.Observe(duration.Seconds())
}

// RecordSchedulerSkip counts a tick dropped because a scan was still running.
func (m *Metrics) RecordSchedulerSkip() {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues("skipped").Inc()
}
