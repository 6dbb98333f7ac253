package rules

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/telemetryhub/metric"
	"github.com/c360/telemetryhub/telemetry"
)

// Trigger records one rule firing against a datapoint value.
type Trigger struct {
	RuleID    string    `json:"rule_id"`
	EventID   string    `json:"event_id"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Operator  Operator  `json:"operator"`
	At        time.Time `json:"at"`
}

// AuditSink receives triggers from rules with a log action.
type AuditSink interface {
	RecordTrigger(ctx context.Context, t Trigger) error
}

// Dispatcher receives triggers from rules with a webhook action. The
// webhook package's dispatcher satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload any) error
}

// Notifier receives every trigger for live broadcast, independent of
// the rule's configured action.
type Notifier interface {
	NotifyThresholdCrossed(ctx context.Context, t Trigger)
}

// Engine evaluates threshold rules against persisted batches. A batch
// contributes at most one value per event: the datapoint with the
// latest timestamp wins.
type Engine struct {
	store      Store
	audit      AuditSink
	dispatcher Dispatcher
	notifier   Notifier
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithAuditSink sets the sink for log-action triggers.
func WithAuditSink(sink AuditSink) EngineOption {
	return func(e *Engine) { e.audit = sink }
}

// WithDispatcher sets the dispatcher for webhook-action triggers.
func WithDispatcher(d Dispatcher) EngineOption {
	return func(e *Engine) { e.dispatcher = d }
}

// WithNotifier sets the live-broadcast notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the wall clock used for cooldown claims.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMetrics registers engine metrics with the registry.
func WithMetrics(registry *metric.MetricsRegistry) EngineOption {
	return func(e *Engine) { e.metrics = newMetrics(registry) }
}

// NewEngine creates a rule engine backed by the given store.
func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		logger: slog.Default().With("component", "rules"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EvaluateBatch runs every enabled rule against the batch. Failures in
// one rule's evaluation or action never affect other rules; the batch
// is already persisted, so errors are logged and counted rather than
// returned to the ingest path.
func (e *Engine) EvaluateBatch(ctx context.Context, batch []telemetry.PersistedDatapoint) {
	if len(batch) == 0 {
		return
	}

	latest := latestPerEvent(batch)

	ruleDefs, err := e.store.ListEnabled(ctx)
	if err != nil {
		e.logger.Error("listing enabled rules failed", "error", err)
		return
	}

	for _, rule := range ruleDefs {
		dp, ok := latest[rule.EventID]
		if !ok {
			continue
		}
		e.evaluateRule(ctx, rule, dp)
	}
}

// latestPerEvent reduces a batch to one datapoint per event. Ties on
// timestamp go to the later batch position.
func latestPerEvent(batch []telemetry.PersistedDatapoint) map[string]telemetry.PersistedDatapoint {
	latest := make(map[string]telemetry.PersistedDatapoint, len(batch))
	for _, dp := range batch {
		prev, ok := latest[dp.EventID]
		if !ok || !dp.Timestamp.Before(prev.Timestamp) {
			latest[dp.EventID] = dp
		}
	}
	return latest
}

func (e *Engine) evaluateRule(ctx context.Context, rule Rule, dp telemetry.PersistedDatapoint) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rule evaluation panicked",
				"rule_id", rule.ID, "event_id", rule.EventID, "panic", fmt.Sprint(r))
			if e.metrics != nil {
				e.metrics.actionErrors.WithLabelValues(string(rule.Action.Kind)).Inc()
			}
		}
	}()

	if e.metrics != nil {
		e.metrics.evaluated.Inc()
	}

	matched, err := rule.Matches(dp.Value)
	if err != nil {
		e.logger.Error("rule condition invalid", "rule_id", rule.ID, "error", err)
		return
	}
	if !matched {
		return
	}

	// Cooldown runs on the engine's clock, not the datapoint's
	// client-supplied timestamp.
	claimed, err := e.store.MarkTriggered(ctx, rule.ID, e.now())
	if err != nil {
		e.logger.Error("claiming rule trigger failed", "rule_id", rule.ID, "error", err)
		return
	}
	if !claimed {
		if e.metrics != nil {
			e.metrics.suppressed.Inc()
		}
		e.logger.Debug("rule trigger suppressed by cooldown",
			"rule_id", rule.ID, "event_id", rule.EventID, "value", dp.Value)
		return
	}

	if e.metrics != nil {
		e.metrics.triggered.Inc()
	}

	trigger := Trigger{
		RuleID:    rule.ID,
		EventID:   rule.EventID,
		Value:     dp.Value,
		Threshold: rule.Threshold,
		Operator:  rule.Operator,
		At:        dp.Timestamp,
	}

	e.logger.Info("rule triggered",
		"rule_id", rule.ID, "event_id", rule.EventID,
		"operator", string(rule.Operator), "threshold", rule.Threshold, "value", dp.Value)

	e.runAction(ctx, rule, trigger)

	if e.notifier != nil {
		e.notifier.NotifyThresholdCrossed(ctx, trigger)
	}
}

func (e *Engine) runAction(ctx context.Context, rule Rule, trigger Trigger) {
	switch rule.Action.Kind {
	case ActionLog:
		if e.audit == nil {
			return
		}
		if err := e.audit.RecordTrigger(ctx, trigger); err != nil {
			e.logger.Error("recording trigger failed", "rule_id", rule.ID, "error", err)
			if e.metrics != nil {
				e.metrics.actionErrors.WithLabelValues(string(ActionLog)).Inc()
			}
		}
	case ActionWebhook:
		if e.dispatcher == nil {
			e.logger.Warn("webhook action configured without a dispatcher", "rule_id", rule.ID)
			return
		}
		if err := e.dispatcher.Dispatch(ctx, rule.Action.WebhookEventType, trigger); err != nil {
			e.logger.Error("dispatching trigger failed", "rule_id", rule.ID, "error", err)
			if e.metrics != nil {
				e.metrics.actionErrors.WithLabelValues(string(ActionWebhook)).Inc()
			}
		}
	}
}
