// Package rules implements per-event threshold rules with cooldown,
// evaluated against the last value per event in each ingested batch.
package rules

import (
	"fmt"
	"math"
	"time"

	"github.com/c360/telemetryhub/errors"
)

// equalityEpsilon is the tolerance for the eq operator on float values.
const equalityEpsilon = 1e-9

// Operator is a threshold comparison operator.
type Operator string

// Supported operators. Between and NotBetween require ThresholdHigh.
const (
	OpGreaterThan  Operator = "gt"
	OpLessThan     Operator = "lt"
	OpGreaterEqual Operator = "gte"
	OpLessEqual    Operator = "lte"
	OpEqual        Operator = "eq"
	OpBetween      Operator = "between"
	OpNotBetween   Operator = "not_between"
)

// needsHighBound reports whether the operator uses ThresholdHigh.
func (op Operator) needsHighBound() bool {
	return op == OpBetween || op == OpNotBetween
}

// ActionKind discriminates the rule action variant.
type ActionKind string

// Action kinds.
const (
	ActionLog     ActionKind = "log"
	ActionWebhook ActionKind = "webhook"
)

// Action is a tagged union: Kind selects the variant, WebhookEventType
// is the webhook variant's payload and must be empty otherwise.
type Action struct {
	Kind             ActionKind `json:"kind"`
	WebhookEventType string     `json:"webhook_event_type,omitempty"`
}

// Rule is a per-event threshold rule. LastTriggeredAt is mutated only
// through Store.MarkTriggered; everything else is owned by external CRUD.
type Rule struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	Operator        Operator   `json:"operator"`
	Threshold       float64    `json:"threshold"`
	ThresholdHigh   *float64   `json:"threshold_high,omitempty"`
	Action          Action     `json:"action"`
	CooldownSeconds int        `json:"cooldown_seconds"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	Enabled         bool       `json:"enabled"`
}

// Validate checks structural consistency of the rule definition.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate", "empty rule id")
	}
	if r.EventID == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate", "empty event id")
	}

	switch r.Operator {
	case OpGreaterThan, OpLessThan, OpGreaterEqual, OpLessEqual, OpEqual:
		if r.ThresholdHigh != nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
				fmt.Sprintf("operator %s does not take threshold_high", r.Operator))
		}
	case OpBetween, OpNotBetween:
		if r.ThresholdHigh == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
				fmt.Sprintf("operator %s requires threshold_high", r.Operator))
		}
		if *r.ThresholdHigh < r.Threshold {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
				"threshold_high must be >= threshold")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
			fmt.Sprintf("unknown operator %q", r.Operator))
	}

	switch r.Action.Kind {
	case ActionLog:
		if r.Action.WebhookEventType != "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
				"log action does not take webhook_event_type")
		}
	case ActionWebhook:
		if r.Action.WebhookEventType == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
				"webhook action requires webhook_event_type")
		}
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate",
			fmt.Sprintf("unknown action kind %q", r.Action.Kind))
	}

	if r.CooldownSeconds < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Validate", "negative cooldown")
	}

	return nil
}

// Matches evaluates the rule's condition against a value.
func (r Rule) Matches(value float64) (bool, error) {
	switch r.Operator {
	case OpGreaterThan:
		return value > r.Threshold, nil
	case OpLessThan:
		return value < r.Threshold, nil
	case OpGreaterEqual:
		return value >= r.Threshold, nil
	case OpLessEqual:
		return value <= r.Threshold, nil
	case OpEqual:
		return math.Abs(value-r.Threshold) <= equalityEpsilon, nil
	case OpBetween:
		if r.ThresholdHigh == nil {
			return false, errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Matches", "between without threshold_high")
		}
		return value >= r.Threshold && value <= *r.ThresholdHigh, nil
	case OpNotBetween:
		if r.ThresholdHigh == nil {
			return false, errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Matches", "not_between without threshold_high")
		}
		return value < r.Threshold || value > *r.ThresholdHigh, nil
	default:
		return false, errors.WrapInvalid(errors.ErrInvalidConfig, "Rule", "Matches",
			fmt.Sprintf("unknown operator %q", r.Operator))
	}
}

// Cooldown returns the cooldown as a duration.
func (r Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}
