package broadcast

import (
	"sync"
	"time"
)

// coalescer enforces at most one emission per key per window. The
// first offer for an idle key arms a timer; offers that land while the
// timer is armed overwrite the pending payload, and the timer fires
// with whatever is latest (last-value-wins, not a queue).
type coalescer struct {
	window time.Duration
	emit   func(group string, message []byte)

	mu      sync.Mutex
	pending map[string]*pendingEmit
	stopped bool
}

type pendingEmit struct {
	group  string
	latest []byte
	timer  *time.Timer
}

func newCoalescer(window time.Duration, emit func(group string, message []byte)) *coalescer {
	return &coalescer{
		window:  window,
		emit:    emit,
		pending: make(map[string]*pendingEmit),
	}
}

func (c *coalescer) offer(group, eventID string, message []byte) {
	key := group + "|" + eventID

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	if p, ok := c.pending[key]; ok {
		p.latest = message
		return
	}

	p := &pendingEmit{group: group, latest: message}
	p.timer = time.AfterFunc(c.window, func() { c.fire(key) })
	c.pending[key] = p
}

func (c *coalescer) fire(key string) {
	c.mu.Lock()
	p, ok := c.pending[key]
	if ok {
		delete(c.pending, key)
	}
	stopped := c.stopped
	c.mu.Unlock()

	if !ok || stopped {
		return
	}
	c.emit(p.group, p.latest)
}

// stop cancels all armed timers; pending payloads are discarded.
func (c *coalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for key, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, key)
	}
}
