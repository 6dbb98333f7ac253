package rules

import (
	"context"
	"log/slog"
)

// LogSink records triggers through structured logging. It backs the
// "log" rule action when no durable audit store is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates the sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "rule-audit")}
}

// RecordTrigger implements AuditSink.
func (s *LogSink) RecordTrigger(_ context.Context, t Trigger) error {
	s.logger.Info("threshold crossed",
		"rule_id", t.RuleID,
		"event_id", t.EventID,
		"value", t.Value,
		"threshold", t.Threshold,
		"operator", string(t.Operator),
		"at", t.At)
	return nil
}
