package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the report scheduler
type Metrics struct {
	registry *prometheus.Registry

	ReportsDispatched     *prometheus.CounterVec
	DispatchFailures      *prometheus.CounterVec
	ScheduleConflicts     prometheus.Counter
	TickDuration          prometheus.Histogram
	ChannelSendDuration   *prometheus.HistogramVec
	DueNotifications      prometheus.Gauge
	ActiveConnections     prometheus.Gauge
	APIRequestDuration    *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on a dedicated
// registry, so multiple services (or tests) can each hold their own set
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		ReportsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reports_dispatched_total",
				Help: "Total number of report dispatches per channel",
			},
			[]string{"channel", "status"},
		),
		DispatchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "report_dispatch_failures_total",
				Help: "Total number of failed report dispatches",
			},
			[]string{"channel", "reason"},
		),
		ScheduleConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "schedule_conflicts_total",
				Help: "Total number of optimistic schedule updates lost to another evaluator",
			},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "evaluator_tick_duration_seconds",
				Help:    "Time taken by one dispatch evaluation pass",
				Buckets: prometheus.DefBuckets,
			},
		),
		ChannelSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "channel_send_duration_seconds",
				Help:    "Time taken by channels to deliver a report",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		DueNotifications: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "due_notifications",
				Help: "Number of due notifications found on the last tick",
			},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_connections",
				Help: "Number of active connections to the API",
			},
		),
		APIRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "Time taken to handle API requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}

	metrics.registry.MustRegister(
		metrics.ReportsDispatched,
		metrics.DispatchFailures,
		metrics.ScheduleConflicts,
		metrics.TickDuration,
		metrics.ChannelSendDuration,
		metrics.DueNotifications,
		metrics.ActiveConnections,
		metrics.APIRequestDuration,
	)

	return metrics
}

// RecordDispatch records a dispatched report
func (m *Metrics) RecordDispatch(channel, status string) {
	m.ReportsDispatched.WithLabelValues(channel, status).Inc()
}

// RecordDispatchFailed records a failed dispatch
func (m *Metrics) RecordDispatchFailed(channel, reason string) {
	m.DispatchFailures.WithLabelValues(channel, reason).Inc()
}

// RecordScheduleConflict records a schedule update lost to another evaluator
func (m *Metrics) RecordScheduleConflict() {
	m.ScheduleConflicts.Inc()
}

// ObserveTickDuration records the duration of one evaluation pass
func (m *Metrics) ObserveTickDuration(seconds float64) {
	m.TickDuration.Observe(seconds)
}

// ObserveChannelDuration records channel delivery duration
func (m *Metrics) ObserveChannelDuration(channel string, seconds float64) {
	m.ChannelSendDuration.WithLabelValues(channel).Observe(seconds)
}

// SetDueNotifications sets the due queue depth seen on the last tick
func (m *Metrics) SetDueNotifications(count float64) {
	m.DueNotifications.Set(count)
}

// ObserveAPIRequest records API request handling duration
func (m *Metrics) ObserveAPIRequest(operation string, seconds float64) {
	m.APIRequestDuration.WithLabelValues(operation).Observe(seconds)
}

// IncrementActiveConnections increments active connections
func (m *Metrics) IncrementActiveConnections() {
	m.ActiveConnections.Inc()
}

// DecrementActiveConnections decrements active connections
func (m *Metrics) DecrementActiveConnections() {
	m.ActiveConnections.Dec()
}

// Handler returns the Prometheus metrics HTTP handler for this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
