package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetryhub/telemetry"
)

// shortRetries swaps the retry schedule for test-speed delays and
// restores it on cleanup.
func shortRetries(t *testing.T) {
	t.Helper()
	orig := retryDelays
	retryDelays = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}
	t.Cleanup(func() { retryDelays = orig })
}

type capturedRequest struct {
	body      []byte
	signature string
	timestamp string
}

func startDispatcher(t *testing.T, subs []Subscription, opts ...DispatcherOption) (*Dispatcher, *MemoryLog) {
	t.Helper()
	store, err := NewMemorySubscriptions(subs)
	require.NoError(t, err)

	log := NewMemoryLog()
	d := NewDispatcher(store, log, opts...)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(2 * time.Second) })
	return d, log
}

func latestDelivery(t *testing.T, log *MemoryLog, subscriptionID string) (Delivery, bool) {
	t.Helper()
	log.mu.RLock()
	defer log.mu.RUnlock()
	for _, rows := range log.rows {
		last := rows[len(rows)-1]
		if last.SubscriptionID == subscriptionID {
			return last, true
		}
	}
	return Delivery{}, false
}

func TestDispatcherDeliversSignedPayload(t *testing.T) {
	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		captured = append(captured, capturedRequest{
			body:      body,
			signature: r.Header.Get(HeaderSignature),
			timestamp: r.Header.Get(HeaderTimestamp),
		})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatcher, log := startDispatcher(t, []Subscription{{
		ID:         "sub-1",
		URL:        srv.URL,
		Secret:     "whsec_test",
		EventTypes: []string{telemetry.EventThresholdCrossed},
		Enabled:    true,
	}})

	require.NoError(t, dispatcher.Dispatch(context.Background(), telemetry.EventThresholdCrossed,
		map[string]any{"rule_id": "r1", "value": 61.5}))

	require.Eventually(t, func() bool {
		last, ok := latestDelivery(t, log, "sub-1")
		return ok && last.Status == StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, captured)
	req := captured[len(captured)-1]

	ts, err := strconv.ParseInt(req.timestamp, 10, 64)
	require.NoError(t, err)
	assert.True(t, VerifySignature("whsec_test", req.signature, ts, req.body))

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, telemetry.EventThresholdCrossed, body["type"])
	assert.Equal(t, "r1", body["rule_id"])
	assert.NotEmpty(t, body["time"])

	last, ok := latestDelivery(t, log, "sub-1")
	require.True(t, ok)
	assert.Equal(t, 1, last.Attempts)
	require.NotNil(t, last.ResponseCode)
	assert.Equal(t, http.StatusOK, *last.ResponseCode)
	assert.NotNil(t, last.DeliveredAt)
}

func TestDispatcherDeadLettersAfterThreeAttempts(t *testing.T) {
	shortRetries(t)

	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dispatcher, log := startDispatcher(t, []Subscription{{
		ID:         "sub-1",
		URL:        srv.URL,
		EventTypes: []string{telemetry.EventThresholdCrossed},
		Enabled:    true,
	}})

	require.NoError(t, dispatcher.Dispatch(context.Background(), telemetry.EventThresholdCrossed, nil))

	require.Eventually(t, func() bool {
		last, ok := latestDelivery(t, log, "sub-1")
		return ok && last.Status == StatusDeadLetter
	}, 3*time.Second, 10*time.Millisecond)

	last, _ := latestDelivery(t, log, "sub-1")
	assert.Equal(t, MaxAttempts, last.Attempts)
	require.NotNil(t, last.ResponseCode)
	assert.Equal(t, http.StatusInternalServerError, *last.ResponseCode)
	assert.NotEmpty(t, last.LastError)

	mu.Lock()
	assert.Equal(t, 3, hits)
	mu.Unlock()

	// History never moves backwards.
	var history []Delivery
	log.mu.RLock()
	for _, rows := range log.rows {
		history = rows
	}
	log.mu.RUnlock()
	seen := map[Status]bool{}
	for _, row := range history {
		seen[row.Status] = true
	}
	assert.True(t, seen[StatusPending])
	assert.True(t, seen[StatusAttempting])
	assert.True(t, seen[StatusFailed])
	assert.True(t, seen[StatusDeadLetter])
	assert.False(t, seen[StatusDelivered])
}

func TestDispatcherDeadLettersFailedRetryWhenQueueRejects(t *testing.T) {
	store, err := NewMemorySubscriptions([]Subscription{{
		ID:         "sub-1",
		URL:        "https://a.example/hook",
		EventTypes: []string{telemetry.EventThresholdCrossed},
		Enabled:    true,
	}})
	require.NoError(t, err)

	log := NewMemoryLog()
	d := NewDispatcher(store, log)

	// The pool is never started, so Submit rejects the retry the same
	// way a full queue would.
	a := &attempt{
		delivery: Delivery{
			ID:             "d1",
			SubscriptionID: "sub-1",
			EventType:      telemetry.EventThresholdCrossed,
			Status:         StatusFailed,
			Attempts:       1,
		},
		sub: Subscription{ID: "sub-1", URL: "https://a.example/hook"},
	}
	d.enqueue(context.Background(), a)

	assert.Equal(t, StatusDeadLetter, a.delivery.Status)
	assert.True(t, a.delivery.Status.Terminal())

	last, ok := latestDelivery(t, log, "sub-1")
	require.True(t, ok, "rejected retry must be recorded")
	assert.Equal(t, StatusDeadLetter, last.Status)
	assert.Equal(t, "delivery queue full", last.LastError)
}

func TestDispatcherThrottlesContinuousEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatcher, log := startDispatcher(t, []Subscription{{
		ID:         "sub-1",
		URL:        srv.URL,
		EventTypes: []string{telemetry.EventDatapointRecorded},
		Enabled:    true,
	}})

	for i := 0; i < 5; i++ {
		require.NoError(t, dispatcher.Dispatch(context.Background(), telemetry.EventDatapointRecorded,
			map[string]any{"value": 1.0}))
	}

	require.Eventually(t, func() bool {
		last, ok := latestDelivery(t, log, "sub-1")
		return ok && last.Status == StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)

	log.mu.RLock()
	deliveries := len(log.rows)
	log.mu.RUnlock()
	assert.Equal(t, 1, deliveries, "only the first dispatch inside the window creates a delivery")
}

func TestDispatcherThresholdEventsNeverThrottled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatcher, log := startDispatcher(t, []Subscription{{
		ID:         "sub-1",
		URL:        srv.URL,
		EventTypes: []string{telemetry.EventThresholdCrossed},
		Enabled:    true,
	}})

	for i := 0; i < 3; i++ {
		require.NoError(t, dispatcher.Dispatch(context.Background(), telemetry.EventThresholdCrossed, nil))
	}

	require.Eventually(t, func() bool {
		log.mu.RLock()
		defer log.mu.RUnlock()
		return len(log.rows) == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherIsolatesSubscriptionFailures(t *testing.T) {
	shortRetries(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dispatcher, log := startDispatcher(t, []Subscription{
		// Closed port: every attempt fails with a network error.
		{ID: "sub-down", URL: "http://127.0.0.1:1", EventTypes: []string{telemetry.EventThresholdCrossed}, Enabled: true},
		{ID: "sub-up", URL: srv.URL, EventTypes: []string{telemetry.EventThresholdCrossed}, Enabled: true},
	})

	require.NoError(t, dispatcher.Dispatch(context.Background(), telemetry.EventThresholdCrossed, nil))

	require.Eventually(t, func() bool {
		up, okUp := latestDelivery(t, log, "sub-up")
		down, okDown := latestDelivery(t, log, "sub-down")
		return okUp && up.Status == StatusDelivered && okDown && down.Status == StatusDeadLetter
	}, 3*time.Second, 10*time.Millisecond)
}

func TestBuildBody(t *testing.T) {
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)

	t.Run("object payload is flattened", func(t *testing.T) {
		body, err := buildBody("rule.threshold_crossed", map[string]any{"rule_id": "r1"}, at)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, "rule.threshold_crossed", decoded["type"])
		assert.Equal(t, "2026-08-29T12:00:00Z", decoded["time"])
		assert.Equal(t, "r1", decoded["rule_id"])
	})

	t.Run("scalar payload lands under data", func(t *testing.T) {
		body, err := buildBody("datapoint.recorded", 42.5, at)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, 42.5, decoded["data"])
	})

	t.Run("nil payload still carries envelope", func(t *testing.T) {
		body, err := buildBody("datapoint.recorded", nil, at)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded))
		assert.Equal(t, "datapoint.recorded", decoded["type"])
		_, hasData := decoded["data"]
		assert.False(t, hasData)
	})
}
