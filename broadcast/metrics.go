package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetryhub/metric"
)

// Metrics holds Prometheus metrics for the hub.
type Metrics struct {
	connected prometheus.Gauge
	offered   prometheus.Counter
	emitted   prometheus.Counter
	sent      prometheus.Counter
	dropped   prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broadcast_members_connected",
			Help: "Currently connected members across all groups",
		}),
		offered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_offered_total",
			Help: "Messages offered to the coalescer",
		}),
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_emitted_total",
			Help: "Coalesced messages emitted to groups",
		}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_sent_total",
			Help: "Messages written to member connections",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Messages dropped from full member queues",
		}),
	}

	_ = registry.RegisterGauge("broadcast", "broadcast_members_connected", m.connected)
	_ = registry.RegisterCounter("broadcast", "broadcast_offered_total", m.offered)
	_ = registry.RegisterCounter("broadcast", "broadcast_emitted_total", m.emitted)
	_ = registry.RegisterCounter("broadcast", "broadcast_sent_total", m.sent)
	_ = registry.RegisterCounter("broadcast", "broadcast_dropped_total", m.dropped)

	return m
}
