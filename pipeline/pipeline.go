// Package pipeline implements the ingestion path: validate, filter
// against the active event set, attach the active experiment, persist
// in one bulk write, then fan out to the rule engine, the webhook
// dispatcher, and the broadcast hub as isolated consumers.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/c360/telemetryhub/activectx"
	"github.com/c360/telemetryhub/broadcast"
	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/metric"
	"github.com/c360/telemetryhub/store"
	"github.com/c360/telemetryhub/telemetry"
)

// Evaluator receives every persisted batch for rule evaluation.
type Evaluator interface {
	EvaluateBatch(ctx context.Context, batch []telemetry.PersistedDatapoint)
}

// Dispatcher receives a datapoint-recorded notification per batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload any) error
}

// Broadcaster receives per-event live updates for dashboard fan-out.
type Broadcaster interface {
	Broadcast(group, eventID string, message []byte)
}

// recordedPayload is the webhook body for a persisted batch.
type recordedPayload struct {
	Source     telemetry.Source               `json:"source"`
	Count      int                            `json:"count"`
	Datapoints []telemetry.PersistedDatapoint `json:"datapoints"`
}

// streamMessage is the frontend-group broadcast frame, one per event
// carrying that event's latest datapoint from the batch.
type streamMessage struct {
	Type       string                         `json:"type"`
	EventID    string                         `json:"event_id"`
	Datapoints []telemetry.PersistedDatapoint `json:"datapoints"`
}

// Pipeline is safe for concurrent Ingest calls; it holds no batch-wide
// lock, and write isolation is the store's concern.
type Pipeline struct {
	store      store.DatapointStore
	resolver   activectx.Resolver
	evaluator  Evaluator
	dispatcher Dispatcher
	hub        Broadcaster
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
	newID      func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEvaluator wires the rule engine fan-out.
func WithEvaluator(e Evaluator) Option {
	return func(p *Pipeline) { p.evaluator = e }
}

// WithDispatcher wires the webhook fan-out.
func WithDispatcher(d Dispatcher) Option {
	return func(p *Pipeline) { p.dispatcher = d }
}

// WithBroadcaster wires the live-dashboard fan-out.
func WithBroadcaster(b Broadcaster) Option {
	return func(p *Pipeline) { p.hub = b }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics registers pipeline metrics with the registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) { p.metrics = newMetrics(registry) }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a pipeline over the given store and resolver. Fan-out
// consumers are optional; absent ones are skipped.
func New(st store.DatapointStore, resolver activectx.Resolver, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    st,
		resolver: resolver,
		logger:   slog.Default().With("component", "pipeline"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ingest processes one batch. The whole batch is rejected when its
// size is outside [1, MaxBatchSize] or the bulk write fails; individual
// items are dropped for validation failures and phantom events while
// the rest of the batch continues. Fan-out runs after a successful
// write and never affects the returned report.
func (p *Pipeline) Ingest(ctx context.Context, batch []telemetry.DatapointInput, source telemetry.Source) (telemetry.Report, error) {
	if len(batch) == 0 {
		return telemetry.Report{}, errors.WrapInvalid(errors.ErrEmptyBatch, "Pipeline", "Ingest", "empty batch")
	}
	if len(batch) > telemetry.MaxBatchSize {
		return telemetry.Report{}, errors.WrapInvalid(errors.ErrBatchTooLarge, "Pipeline", "Ingest",
			fmt.Sprintf("%d items, limit %d", len(batch), telemetry.MaxBatchSize))
	}

	if p.metrics != nil {
		p.metrics.batches.WithLabelValues(string(source)).Inc()
	}

	// One resolver round-trip per batch, not per item.
	activeEvents, err := p.resolver.ActiveEventIDs(ctx)
	if err != nil {
		return telemetry.Report{}, errors.WrapTransient(err, "Pipeline", "Ingest", "resolve active events")
	}

	var report telemetry.Report
	valid := make([]telemetry.DatapointInput, 0, len(batch))
	for i, item := range batch {
		if err := item.Validate(); err != nil {
			report.Rejected++
			report.Errors = append(report.Errors, fmt.Sprintf("item %d: %v", i, err))
			continue
		}
		if _, active := activeEvents[item.EventID]; !active {
			// Phantom-data guard: unknown or inactive events are
			// dropped silently.
			report.Rejected++
			continue
		}
		valid = append(valid, item)
	}

	if len(valid) == 0 {
		if p.metrics != nil {
			p.metrics.rejected.Add(float64(report.Rejected))
		}
		return report, nil
	}

	experimentID, hasExperiment, err := p.resolver.ActiveExperimentID(ctx)
	if err != nil {
		return telemetry.Report{}, errors.WrapTransient(err, "Pipeline", "Ingest", "resolve active experiment")
	}

	persisted := make([]telemetry.PersistedDatapoint, 0, len(valid))
	for _, item := range valid {
		ts := p.now()
		if item.Timestamp != nil {
			ts = *item.Timestamp
		}
		dp := telemetry.PersistedDatapoint{
			ID:        p.newID(),
			EventID:   item.EventID,
			Value:     *item.Value,
			Timestamp: ts,
		}
		if hasExperiment {
			exp := experimentID
			dp.ExperimentID = &exp
		}
		persisted = append(persisted, dp)
	}

	if err := p.store.BulkInsert(ctx, persisted); err != nil {
		if p.metrics != nil {
			p.metrics.storeFailures.Inc()
		}
		return telemetry.Report{}, errors.WrapTransient(err, "Pipeline", "Ingest", "bulk insert")
	}

	report.Accepted = len(persisted)
	if p.metrics != nil {
		p.metrics.accepted.Add(float64(report.Accepted))
		p.metrics.rejected.Add(float64(report.Rejected))
	}

	p.fanOut(ctx, persisted, source)
	return report, nil
}

// fanOut hands the persisted batch to the three consumers. Each runs
// in its own recovered goroutine: a panic or error in one never blocks
// the others or the caller.
func (p *Pipeline) fanOut(ctx context.Context, batch []telemetry.PersistedDatapoint, source telemetry.Source) {
	if p.evaluator != nil {
		go p.isolated("rules", func() {
			p.evaluator.EvaluateBatch(context.WithoutCancel(ctx), batch)
		})
	}

	if p.dispatcher != nil {
		go p.isolated("webhook", func() {
			payload := recordedPayload{Source: source, Count: len(batch), Datapoints: batch}
			if err := p.dispatcher.Dispatch(context.WithoutCancel(ctx), telemetry.EventDatapointRecorded, payload); err != nil {
				p.logger.Error("webhook fan-out failed", "error", err)
			}
		})
	}

	if p.hub != nil {
		go p.isolated("broadcast", func() {
			p.broadcastLatest(batch)
		})
	}
}

// broadcastLatest pushes each event's latest datapoint to the
// frontend group; the hub coalesces per (group, event).
func (p *Pipeline) broadcastLatest(batch []telemetry.PersistedDatapoint) {
	latest := make(map[string]telemetry.PersistedDatapoint, len(batch))
	for _, dp := range batch {
		prev, ok := latest[dp.EventID]
		if !ok || !dp.Timestamp.Before(prev.Timestamp) {
			latest[dp.EventID] = dp
		}
	}

	for eventID, dp := range latest {
		frame, err := json.Marshal(streamMessage{
			Type:       "datapoints_batch",
			EventID:    eventID,
			Datapoints: []telemetry.PersistedDatapoint{dp},
		})
		if err != nil {
			p.logger.Error("encoding broadcast frame failed", "event_id", eventID, "error", err)
			continue
		}
		p.hub.Broadcast(broadcast.GroupFrontend, eventID, frame)
	}
}

func (p *Pipeline) isolated(consumer string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.fanOutPanics.WithLabelValues(consumer).Inc()
			}
			p.logger.Error("fan-out consumer panicked", "consumer", consumer, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}
