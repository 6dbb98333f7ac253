package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetryhub/telemetry"
)

type recordingSink struct {
	mu       sync.Mutex
	triggers []Trigger
	panicOn  string
}

func (s *recordingSink) RecordTrigger(_ context.Context, t Trigger) error {
	if s.panicOn != "" && t.RuleID == s.panicOn {
		panic("sink blew up")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, t)
	return nil
}

func (s *recordingSink) all() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Trigger(nil), s.triggers...)
}

type recordingDispatcher struct {
	mu         sync.Mutex
	eventTypes []string
	payloads   []any
}

func (d *recordingDispatcher) Dispatch(_ context.Context, eventType string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.eventTypes = append(d.eventTypes, eventType)
	d.payloads = append(d.payloads, payload)
	return nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	triggers []Trigger
}

func (n *recordingNotifier) NotifyThresholdCrossed(_ context.Context, t Trigger) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.triggers = append(n.triggers, t)
}

func dp(eventID string, value float64, ts time.Time) telemetry.PersistedDatapoint {
	return telemetry.PersistedDatapoint{
		ID:        "dp-" + eventID,
		EventID:   eventID,
		Value:     value,
		Timestamp: ts,
	}
}

func TestEngineCooldownWindow(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store, err := NewMemoryStore([]Rule{{
		ID:              "r1",
		EventID:         "evt-1",
		Operator:        OpGreaterThan,
		Threshold:       50,
		Action:          Action{Kind: ActionLog},
		CooldownSeconds: 300,
		Enabled:         true,
	}})
	require.NoError(t, err)

	sink := &recordingSink{}
	current := base
	engine := NewEngine(store, WithAuditSink(sink), WithClock(func() time.Time { return current }))

	// 60 at t0 triggers, 70 at t+100s is inside the cooldown, 80 at
	// t+301s triggers again.
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 60, base)})
	current = base.Add(100 * time.Second)
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 70, current)})
	current = base.Add(301 * time.Second)
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 80, current)})

	triggers := sink.all()
	require.Len(t, triggers, 2)
	assert.Equal(t, 60.0, triggers[0].Value)
	assert.Equal(t, base, triggers[0].At)
	assert.Equal(t, 80.0, triggers[1].Value)
	assert.Equal(t, base.Add(301*time.Second), triggers[1].At)
}

func TestEngineCooldownIgnoresDatapointTimestamps(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store, err := NewMemoryStore([]Rule{{
		ID:              "r1",
		EventID:         "evt-1",
		Operator:        OpGreaterThan,
		Threshold:       50,
		Action:          Action{Kind: ActionLog},
		CooldownSeconds: 300,
		Enabled:         true,
	}})
	require.NoError(t, err)

	sink := &recordingSink{}
	current := base
	engine := NewEngine(store, WithAuditSink(sink), WithClock(func() time.Time { return current }))

	// A forward-dated datapoint must not push the cooldown window into
	// the future; the engine clock decides when the cooldown expires.
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 60, base.Add(24*time.Hour))})
	current = base.Add(301 * time.Second)
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 70, current)})

	triggers := sink.all()
	require.Len(t, triggers, 2)
	assert.Equal(t, 70.0, triggers[1].Value)
}

func TestEngineEvaluatesLatestValuePerEvent(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store, err := NewMemoryStore([]Rule{{
		ID:        "r1",
		EventID:   "evt-1",
		Operator:  OpGreaterThan,
		Threshold: 50,
		Action:    Action{Kind: ActionLog},
		Enabled:   true,
	}})
	require.NoError(t, err)

	sink := &recordingSink{}
	engine := NewEngine(store, WithAuditSink(sink))

	// The earlier value matches but the latest one does not; only the
	// latest value per event counts.
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{
		dp("evt-1", 90, base),
		dp("evt-1", 10, base.Add(time.Second)),
	})
	assert.Empty(t, sink.all())

	// Reversed batch order with the matching value last by timestamp.
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{
		dp("evt-1", 10, base.Add(2*time.Second)),
		dp("evt-1", 90, base.Add(3*time.Second)),
	})
	triggers := sink.all()
	require.Len(t, triggers, 1)
	assert.Equal(t, 90.0, triggers[0].Value)
}

func TestEngineWebhookAction(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store, err := NewMemoryStore([]Rule{{
		ID:        "r1",
		EventID:   "evt-1",
		Operator:  OpGreaterEqual,
		Threshold: 50,
		Action:    Action{Kind: ActionWebhook, WebhookEventType: telemetry.EventThresholdCrossed},
		Enabled:   true,
	}})
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	engine := NewEngine(store, WithDispatcher(dispatcher))

	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 50, base)})

	require.Len(t, dispatcher.eventTypes, 1)
	assert.Equal(t, telemetry.EventThresholdCrossed, dispatcher.eventTypes[0])
	trigger, ok := dispatcher.payloads[0].(Trigger)
	require.True(t, ok)
	assert.Equal(t, "r1", trigger.RuleID)
	assert.Equal(t, 50.0, trigger.Value)
}

func TestEnginePanicInOneRuleIsolated(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store, err := NewMemoryStore([]Rule{
		{ID: "boom", EventID: "evt-1", Operator: OpGreaterThan, Threshold: 1, Action: Action{Kind: ActionLog}, Enabled: true},
		{ID: "ok", EventID: "evt-1", Operator: OpGreaterThan, Threshold: 2, Action: Action{Kind: ActionLog}, Enabled: true},
	})
	require.NoError(t, err)

	sink := &recordingSink{panicOn: "boom"}
	engine := NewEngine(store, WithAuditSink(sink))

	require.NotPanics(t, func() {
		engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 10, base)})
	})

	triggers := sink.all()
	require.Len(t, triggers, 1)
	assert.Equal(t, "ok", triggers[0].RuleID)
}

func TestEngineSkipsDisabledRules(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store, err := NewMemoryStore([]Rule{{
		ID:        "r1",
		EventID:   "evt-1",
		Operator:  OpGreaterThan,
		Threshold: 1,
		Action:    Action{Kind: ActionLog},
	}})
	require.NoError(t, err)

	sink := &recordingSink{}
	engine := NewEngine(store, WithAuditSink(sink))
	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 10, base)})

	assert.Empty(t, sink.all())
}

func TestEngineNotifierSeesEveryTrigger(t *testing.T) {
	base := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	store, err := NewMemoryStore([]Rule{{
		ID:        "r1",
		EventID:   "evt-1",
		Operator:  OpGreaterThan,
		Threshold: 50,
		Action:    Action{Kind: ActionLog},
		Enabled:   true,
	}})
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	engine := NewEngine(store, WithAuditSink(&recordingSink{}), WithNotifier(notifier))

	engine.EvaluateBatch(context.Background(), []telemetry.PersistedDatapoint{dp("evt-1", 60, base)})

	require.Len(t, notifier.triggers, 1)
	assert.Equal(t, "evt-1", notifier.triggers[0].EventID)
}
