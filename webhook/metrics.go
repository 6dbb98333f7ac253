package webhook

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetryhub/metric"
)

// Metrics holds Prometheus metrics for webhook dispatch.
type Metrics struct {
	dispatched     prometheus.Counter
	delivered      prometheus.Counter
	failedAttempts prometheus.Counter
	deadLettered   prometheus.Counter
	throttled      prometheus.Counter
	attemptSeconds prometheus.Histogram
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_dispatched_total",
			Help: "Total deliveries created across all subscriptions",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_delivered_total",
			Help: "Total deliveries acknowledged with a 2xx response",
		}),
		failedAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_failed_attempts_total",
			Help: "Total delivery attempts that failed",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_dead_letter_total",
			Help: "Total deliveries abandoned after exhausting retries",
		}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_throttled_total",
			Help: "Total continuous-class dispatches suppressed by the per-subscription window",
		}),
		attemptSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_attempt_duration_seconds",
			Help:    "HTTP attempt latency",
			Buckets: prometheus.DefBuckets,
		}),
	}

	_ = registry.RegisterCounter("webhook", "webhook_dispatched_total", m.dispatched)
	_ = registry.RegisterCounter("webhook", "webhook_delivered_total", m.delivered)
	_ = registry.RegisterCounter("webhook", "webhook_failed_attempts_total", m.failedAttempts)
	_ = registry.RegisterCounter("webhook", "webhook_dead_letter_total", m.deadLettered)
	_ = registry.RegisterCounter("webhook", "webhook_throttled_total", m.throttled)
	_ = registry.RegisterHistogram("webhook", "webhook_attempt_duration_seconds", m.attemptSeconds)

	return m
}
