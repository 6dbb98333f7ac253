// Package telemetry defines the shared datapoint types flowing through
// the ingestion pipeline and its fan-out consumers.
package telemetry

import (
	"fmt"
	"math"
	"time"

	"github.com/c360/telemetryhub/errors"
)

// MaxBatchSize is the upper bound on datapoints per ingested batch.
// Larger batches are rejected whole, with no partial processing.
const MaxBatchSize = 500

// Source identifies the ingress adapter a batch arrived through.
type Source string

// Ingress sources
const (
	SourceREST      Source = "rest"
	SourceWebSocket Source = "websocket"
)

// Webhook event types emitted by the pipeline and rule engine.
const (
	// EventDatapointRecorded is the continuous reading-class event,
	// throttled per (subscription, event) on dispatch.
	EventDatapointRecorded = "datapoint.recorded"
	// EventThresholdCrossed is emitted by rule triggers; never throttled.
	EventThresholdCrossed = "rule.threshold_crossed"
)

// IsContinuousEventType reports whether an event type belongs to the
// continuous telemetry class, which the webhook dispatcher throttles.
// Threshold and lifecycle event classes are delivered unthrottled.
func IsContinuousEventType(eventType string) bool {
	return eventType == EventDatapointRecorded
}

// DatapointInput is a single reading as submitted by a device. Value is
// a pointer so a missing field is distinguishable from a literal zero.
// Inputs are transient and never persisted directly.
type DatapointInput struct {
	Value     *float64   `json:"value"`
	EventID   string     `json:"event_public_id"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Validate checks that the input carries a finite numeric value and a
// non-empty event id.
func (d DatapointInput) Validate() error {
	if d.Value == nil {
		return errors.WrapInvalid(errors.ErrInvalidItem, "DatapointInput", "Validate", "missing value")
	}
	if math.IsNaN(*d.Value) || math.IsInf(*d.Value, 0) {
		return errors.WrapInvalid(errors.ErrInvalidItem, "DatapointInput", "Validate",
			fmt.Sprintf("non-finite value %v", *d.Value))
	}
	if d.EventID == "" {
		return errors.WrapInvalid(errors.ErrInvalidItem, "DatapointInput", "Validate", "empty event id")
	}
	return nil
}

// PersistedDatapoint is an immutable datapoint row. The pipeline owns it
// at creation; the store owns it after the bulk write.
type PersistedDatapoint struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	ExperimentID *string   `json:"experiment_id"`
	Value        float64   `json:"value"`
	Timestamp    time.Time `json:"timestamp"`
}

// Report summarizes the outcome of one Ingest call. Accepted counts
// persisted items; Rejected counts items dropped for validation or
// phantom-data filtering; Errors carries per-item validation messages.
type Report struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}
