package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/metric"
	"github.com/c360/telemetryhub/pkg/worker"
	"github.com/c360/telemetryhub/telemetry"
)

const (
	// InFlightLimit caps concurrent HTTP deliveries across all
	// subscriptions. Excess attempts queue FIFO in the worker pool.
	InFlightLimit = 10

	// AttemptTimeout bounds each HTTP attempt.
	AttemptTimeout = 10 * time.Second

	// ThrottleWindow is the minimum spacing between continuous-class
	// dispatches per (subscription, event type).
	ThrottleWindow = 5 * time.Second

	defaultQueueSize = 1024
)

// retryDelays is indexed by the number of completed attempts.
var retryDelays = []time.Duration{2 * time.Second, 4 * time.Second}

// attempt is one unit of work for the delivery pool.
type attempt struct {
	delivery Delivery
	sub      Subscription
	body     []byte
}

// Dispatcher fans events out to matching subscriptions. Dispatch is
// fire-and-forget: attempts run on a bounded worker pool and retries
// are rescheduled with timers, so callers never block on delivery I/O.
type Dispatcher struct {
	subs     SubscriptionStore
	log      DeliveryLog
	throttle *Throttle
	pool     *worker.Pool[*attempt]
	client   *http.Client
	logger   *slog.Logger
	metrics  *Metrics
	registry *metric.MetricsRegistry
	now      func() time.Time

	timerMu sync.Mutex
	timers  map[*time.Timer]struct{}
	closed  bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the delivery HTTP client.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics registers dispatcher and delivery-pool metrics with the
// registry.
func WithMetrics(registry *metric.MetricsRegistry) DispatcherOption {
	return func(d *Dispatcher) {
		d.registry = registry
		d.metrics = newMetrics(registry)
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithThrottleWindow overrides the continuous-class throttle window.
func WithThrottleWindow(window time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.throttle = NewThrottle(window) }
}

// NewDispatcher creates a dispatcher over the given subscriptions and
// delivery log.
func NewDispatcher(subs SubscriptionStore, log DeliveryLog, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		subs:     subs,
		log:      log,
		throttle: NewThrottle(ThrottleWindow),
		client:   &http.Client{Timeout: AttemptTimeout},
		logger:   slog.Default().With("component", "webhook"),
		now:      time.Now,
		timers:   make(map[*time.Timer]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	var poolOpts []worker.Option[*attempt]
	if d.registry != nil {
		poolOpts = append(poolOpts, worker.WithMetrics[*attempt](d.registry, "webhook_delivery"))
	}
	d.pool = worker.NewPool(InFlightLimit, defaultQueueSize, d.process, poolOpts...)
	return d
}

// Start launches the delivery workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	return d.pool.Start(ctx)
}

// Stop cancels pending retry timers and drains in-flight deliveries.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.timerMu.Lock()
	d.closed = true
	for t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[*time.Timer]struct{})
	d.timerMu.Unlock()

	return d.pool.Stop(timeout)
}

// Dispatch fans the event out to every matching subscription. It
// returns once all deliveries are created and queued; attempt outcomes
// land in the delivery log, never in the caller's error.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload any) error {
	body, err := buildBody(eventType, payload, d.now())
	if err != nil {
		return errors.WrapInvalid(err, "Dispatcher", "Dispatch", "encode payload")
	}

	matching, err := d.subs.ListMatching(ctx, eventType)
	if err != nil {
		return errors.WrapTransient(err, "Dispatcher", "Dispatch", "list subscriptions")
	}

	throttled := telemetry.IsContinuousEventType(eventType)
	for _, sub := range matching {
		if throttled && !d.throttle.Allow(sub.ID, eventType) {
			if d.metrics != nil {
				d.metrics.throttled.Inc()
			}
			continue
		}
		d.createDelivery(ctx, sub, eventType, body)
	}
	return nil
}

func (d *Dispatcher) createDelivery(ctx context.Context, sub Subscription, eventType string, body []byte) {
	delivery := Delivery{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		EventType:      eventType,
		Status:         StatusPending,
		CreatedAt:      d.now(),
	}
	if err := d.log.Record(ctx, delivery); err != nil {
		d.logger.Error("recording delivery failed", "delivery_id", delivery.ID, "error", err)
	}
	if d.metrics != nil {
		d.metrics.dispatched.Inc()
	}

	d.enqueue(ctx, &attempt{delivery: delivery, sub: sub, body: body})
}

// enqueue submits an attempt to the pool; a full queue dead-letters
// the delivery rather than blocking the caller.
func (d *Dispatcher) enqueue(ctx context.Context, a *attempt) {
	err := d.pool.Submit(a)
	if err == nil {
		return
	}

	a.delivery.LastError = "delivery queue full"
	if advErr := a.delivery.Advance(StatusDeadLetter); advErr != nil {
		d.logger.Error("dead-lettering rejected delivery failed",
			"delivery_id", a.delivery.ID, "error", advErr)
	} else {
		if recErr := d.log.Record(ctx, a.delivery); recErr != nil {
			d.logger.Error("recording dead letter failed", "delivery_id", a.delivery.ID, "error", recErr)
		}
		if d.metrics != nil {
			d.metrics.deadLettered.Inc()
		}
	}
	d.logger.Error("delivery rejected",
		"delivery_id", a.delivery.ID, "subscription_id", a.sub.ID, "error", err)
}

// process runs one HTTP attempt. Failures schedule the next attempt at
// +2 s then +4 s; the third failure is terminal.
func (d *Dispatcher) process(ctx context.Context, a *attempt) error {
	if err := a.delivery.Advance(StatusAttempting); err != nil {
		return err
	}
	a.delivery.Attempts++
	if err := d.log.Record(ctx, a.delivery); err != nil {
		d.logger.Error("recording attempt failed", "delivery_id", a.delivery.ID, "error", err)
	}

	code, attemptErr := d.post(ctx, a)

	if attemptErr == nil {
		deliveredAt := d.now()
		a.delivery.ResponseCode = &code
		a.delivery.DeliveredAt = &deliveredAt
		a.delivery.LastError = ""
		if err := a.delivery.Advance(StatusDelivered); err != nil {
			return err
		}
		if err := d.log.Record(ctx, a.delivery); err != nil {
			d.logger.Error("recording delivery failed", "delivery_id", a.delivery.ID, "error", err)
		}
		if d.metrics != nil {
			d.metrics.delivered.Inc()
		}
		return nil
	}

	a.delivery.LastError = attemptErr.Error()
	if code != 0 {
		a.delivery.ResponseCode = &code
	}
	if d.metrics != nil {
		d.metrics.failedAttempts.Inc()
	}

	if a.delivery.Attempts >= MaxAttempts {
		if err := a.delivery.Advance(StatusDeadLetter); err != nil {
			return err
		}
		if err := d.log.Record(ctx, a.delivery); err != nil {
			d.logger.Error("recording dead letter failed", "delivery_id", a.delivery.ID, "error", err)
		}
		if d.metrics != nil {
			d.metrics.deadLettered.Inc()
		}
		d.logger.Warn("delivery dead-lettered",
			"delivery_id", a.delivery.ID, "subscription_id", a.sub.ID,
			"attempts", a.delivery.Attempts, "last_error", a.delivery.LastError)
		return errors.WrapTransient(errors.ErrDeadLetter, "Dispatcher", "process", "delivery "+a.delivery.ID)
	}

	if err := a.delivery.Advance(StatusFailed); err != nil {
		return err
	}
	if err := d.log.Record(ctx, a.delivery); err != nil {
		d.logger.Error("recording failure failed", "delivery_id", a.delivery.ID, "error", err)
	}

	d.scheduleRetry(ctx, a)
	return errors.WrapTransient(errors.ErrDeliveryFailed, "Dispatcher", "process", "delivery "+a.delivery.ID)
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, a *attempt) {
	delay := retryDelays[len(retryDelays)-1]
	if idx := a.delivery.Attempts - 1; idx < len(retryDelays) {
		delay = retryDelays[idx]
	}

	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	if d.closed {
		return
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.timerMu.Lock()
		delete(d.timers, timer)
		closed := d.closed
		d.timerMu.Unlock()
		if closed {
			return
		}
		d.enqueue(ctx, a)
	})
	d.timers[timer] = struct{}{}
}

// post performs the HTTP attempt and returns the status code with a
// nil error only for 2xx responses.
func (d *Dispatcher) post(ctx context.Context, a *attempt) (int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, a.sub.URL, bytes.NewReader(a.body))
	if err != nil {
		return 0, errors.WrapInvalid(err, "Dispatcher", "post", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	if a.sub.Secret != "" {
		ts := d.now().Unix()
		req.Header.Set(HeaderSignature, Sign(a.sub.Secret, ts, a.body))
		req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	if d.metrics != nil {
		d.metrics.attemptSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return 0, errors.WrapTransient(err, "Dispatcher", "post", "http post")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, errors.WrapTransient(errors.ErrDeliveryFailed, "Dispatcher", "post",
			fmt.Sprintf("status %d", resp.StatusCode))
	}
	return resp.StatusCode, nil
}

// buildBody produces the delivery payload: the event payload's fields
// with "type" and "time" stamped in.
func buildBody(eventType string, payload any, at time.Time) ([]byte, error) {
	body := make(map[string]any)
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 && raw[0] == '{' {
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, err
			}
		} else {
			body["data"] = json.RawMessage(raw)
		}
	}
	body["type"] = eventType
	body["time"] = at.UTC().Format(time.RFC3339)
	return json.Marshal(body)
}
