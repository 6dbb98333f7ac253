package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetryhub/metric"
)

// Metrics holds Prometheus metrics for the ingestion path.
type Metrics struct {
	batches       *prometheus.CounterVec
	accepted      prometheus.Counter
	rejected      prometheus.Counter
	storeFailures prometheus.Counter
	fanOutPanics  *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_batches_total",
			Help: "Batches ingested by source",
		}, []string{"source"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_datapoints_accepted_total",
			Help: "Datapoints persisted",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_datapoints_rejected_total",
			Help: "Datapoints dropped by validation or the phantom-data guard",
		}),
		storeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_store_failures_total",
			Help: "Bulk writes that failed, rejecting the whole batch",
		}),
		fanOutPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_fanout_panics_total",
			Help: "Recovered panics by fan-out consumer",
		}, []string{"consumer"}),
	}

	_ = registry.RegisterCounterVec("pipeline", "pipeline_batches_total", m.batches)
	_ = registry.RegisterCounter("pipeline", "pipeline_datapoints_accepted_total", m.accepted)
	_ = registry.RegisterCounter("pipeline", "pipeline_datapoints_rejected_total", m.rejected)
	_ = registry.RegisterCounter("pipeline", "pipeline_store_failures_total", m.storeFailures)
	_ = registry.RegisterCounterVec("pipeline", "pipeline_fanout_panics_total", m.fanOutPanics)

	return m
}
