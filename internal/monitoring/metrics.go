package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the dispatch pipeline
type Metrics struct {
	DispatchTotal    *prometheus.CounterVec
	ChannelAttempts  *prometheus.CounterVec
	ChannelDuration  *prometheus.HistogramVec
	RetriesScheduled *prometheus.CounterVec
	OfflineQueued    prometheus.Counter
	OfflineAbandoned prometheus.Counter
	RateLimited      *prometheus.CounterVec
	Filtered         prometheus.Counter
	QueueDepth       prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor registers the metrics on the given registerer; tests
// pass a fresh registry so parallel constructions do not collide.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_dispatch_total",
				Help: "Dispatch decisions by resulting status",
			},
			[]string{"status"},
		),
		ChannelAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_channel_attempts_total",
				Help: "Channel send attempts by outcome",
			},
			[]string{"channel", "outcome"},
		),
		ChannelDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notification_channel_duration_seconds",
				Help:    "Time taken by channel providers to send",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"channel"},
		),
		RetriesScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_retries_scheduled_total",
				Help: "Per-channel retries handed to the scheduler",
			},
			[]string{"channel"},
		),
		OfflineQueued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notification_offline_queued_total",
				Help: "Notifications persisted to the offline queue",
			},
		),
		OfflineAbandoned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notification_offline_abandoned_total",
				Help: "Offline items dropped after exhausting their retry budget",
			},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_rate_limited_total",
				Help: "Dispatches suppressed by the rate limiter",
			},
			[]string{"reason"},
		),
		Filtered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notification_filtered_total",
				Help: "Dispatches suppressed by the content filter",
			},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notification_offline_queue_depth",
				Help: "Undelivered items currently in the offline queue",
			},
		),
	}

	reg.MustRegister(
		metrics.DispatchTotal,
		metrics.ChannelAttempts,
		metrics.ChannelDuration,
		metrics.RetriesScheduled,
		metrics.OfflineQueued,
		metrics.OfflineAbandoned,
		metrics.RateLimited,
		metrics.Filtered,
		metrics.QueueDepth,
	)

	return metrics
}

// RecordDispatch records a dispatch decision
func (m *Metrics) RecordDispatch(status string) {
	m.DispatchTotal.WithLabelValues(status).Inc()
}

// RecordAttempt records a channel attempt outcome
func (m *Metrics) RecordAttempt(channel, outcome string) {
	m.ChannelAttempts.WithLabelValues(channel, outcome).Inc()
}

// RecordChannelDuration records how long a channel send took
func (m *Metrics) RecordChannelDuration(channel string, seconds float64) {
	m.ChannelDuration.WithLabelValues(channel).Observe(seconds)
}

// RecordRetryScheduled records a retry handed to the scheduler
func (m *Metrics) RecordRetryScheduled(channel string) {
	m.RetriesScheduled.WithLabelValues(channel).Inc()
}

// RecordRateLimited records a rate-limit suppression
func (m *Metrics) RecordRateLimited(reason string) {
	m.RateLimited.WithLabelValues(reason).Inc()
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
