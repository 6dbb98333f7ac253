package rules

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/telemetryhub/metric"
)

// Metrics holds Prometheus metrics for rule evaluation.
type Metrics struct {
	evaluated    prometheus.Counter
	triggered    prometheus.Counter
	suppressed   prometheus.Counter
	actionErrors *prometheus.CounterVec
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		evaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rules_evaluated_total",
			Help: "Total rule evaluations against batch values",
		}),
		triggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rules_triggered_total",
			Help: "Total rule triggers after cooldown filtering",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rules_suppressed_total",
			Help: "Total matches suppressed by an active cooldown",
		}),
		actionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rules_action_errors_total",
			Help: "Total trigger action failures by action kind",
		}, []string{"action"}),
	}

	_ = registry.RegisterCounter("rules", "rules_evaluated_total", m.evaluated)
	_ = registry.RegisterCounter("rules", "rules_triggered_total", m.triggered)
	_ = registry.RegisterCounter("rules", "rules_suppressed_total", m.suppressed)
	_ = registry.RegisterCounterVec("rules", "rules_action_errors_total", m.actionErrors)

	return m
}
