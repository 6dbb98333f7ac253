package webhook

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle limits continuous reading-class dispatches to one per
// (subscription, event type) per window. Limiters are created lazily
// and synchronized per key, so unrelated subscriptions never contend.
type Throttle struct {
	window   time.Duration
	limiters sync.Map // "subscriptionID|eventType" -> *rate.Limiter
}

// NewThrottle creates a throttle with the given window.
func NewThrottle(window time.Duration) *Throttle {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &Throttle{window: window}
}

// Allow reports whether a dispatch for the key may proceed now. The
// first call per key always passes; subsequent calls pass at most once
// per window.
func (t *Throttle) Allow(subscriptionID, eventType string) bool {
	key := subscriptionID + "|" + eventType
	v, ok := t.limiters.Load(key)
	if !ok {
		v, _ = t.limiters.LoadOrStore(key, rate.NewLimiter(rate.Every(t.window), 1))
	}
	return v.(*rate.Limiter).Allow()
}
