// Package broadcast fans messages out to named groups of live
// connections with per-(group, event) coalescing and heartbeat-based
// pruning of dead members.
package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/metric"
)

// Well-known groups.
const (
	GroupController = "controller"
	GroupFrontend   = "frontend"
)

// Conn is the transport a hub member is reachable over. Gorilla
// *websocket.Conn satisfies it.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Config tunes hub timing and buffering.
type Config struct {
	// CoalesceWindow is the per-(group, event) emission period. At
	// most one message per key leaves the hub per window, carrying
	// the latest value seen within it.
	CoalesceWindow time.Duration

	// PingInterval is the heartbeat period. Members whose last pong
	// is older than two intervals are removed.
	PingInterval time.Duration

	// QueueSize is each member's outbound ring capacity. A full ring
	// drops the oldest queued message.
	QueueSize int
}

// DefaultConfig returns production hub settings.
func DefaultConfig() Config {
	return Config{
		CoalesceWindow: 200 * time.Millisecond,
		PingInterval:   30 * time.Second,
		QueueSize:      64,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = def.CoalesceWindow
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
}

// Hub manages group membership and message fan-out. All methods are
// safe for concurrent use; sends never block the caller.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	groups map[string]map[string]*member

	coalescer *coalescer

	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	done        chan struct{}
	wg          sync.WaitGroup
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics registers hub metrics with the registry.
func WithMetrics(registry *metric.MetricsRegistry) HubOption {
	return func(h *Hub) { h.metrics = newMetrics(registry) }
}

// NewHub creates a hub with the given config.
func NewHub(cfg Config, opts ...HubOption) *Hub {
	cfg.applyDefaults()
	h := &Hub{
		cfg:    cfg,
		logger: slog.Default().With("component", "broadcast"),
		groups: make(map[string]map[string]*member),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.coalescer = newCoalescer(cfg.CoalesceWindow, h.emit)
	return h
}

// Start launches the heartbeat loop.
func (h *Hub) Start(_ context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	if h.running {
		return errors.ErrAlreadyStarted
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	go h.pingLoop()
	return nil
}

// Stop flushes coalescer state, closes every member, and waits for
// writer goroutines to drain.
func (h *Hub) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()
	if !h.running {
		return nil
	}
	h.running = false
	close(h.shutdown)
	<-h.done

	h.coalescer.stop()

	h.mu.Lock()
	for _, members := range h.groups {
		for _, m := range members {
			m.close()
		}
	}
	h.groups = make(map[string]map[string]*member)
	h.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrStopTimeout, "Hub", "Stop", "waiting for writers")
	}
}

// Connect adds a connection to a group and returns its member id.
func (h *Hub) Connect(group string, conn Conn) string {
	id := uuid.NewString()
	m := newMember(id, group, conn, h.cfg.QueueSize, h)

	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]*member)
		h.groups[group] = members
	}
	members[id] = m
	count := h.membersLocked()
	h.mu.Unlock()

	h.wg.Add(1)
	go m.writeLoop(&h.wg)

	if h.metrics != nil {
		h.metrics.connected.Set(float64(count))
	}
	h.logger.Debug("member connected", "group", group, "member_id", id)
	return id
}

// Disconnect removes a member and closes its connection.
func (h *Hub) Disconnect(group, id string) {
	h.remove(group, id, "disconnect")
}

// Touch records heartbeat liveness for a member. Wire it to the
// connection's pong handler.
func (h *Hub) Touch(group, id string) {
	h.mu.RLock()
	m := h.groups[group][id]
	h.mu.RUnlock()
	if m != nil {
		m.lastPong.Store(time.Now().UnixNano())
	}
}

// Broadcast queues a message for every member of the group. Messages
// for the same (group, eventID) are coalesced: within each window only
// the latest payload is sent, when the window elapses.
func (h *Hub) Broadcast(group, eventID string, message []byte) {
	h.coalescer.offer(group, eventID, message)
	if h.metrics != nil {
		h.metrics.offered.Inc()
	}
}

// Send queues a message for one member, bypassing the coalescer. Used
// for direct frames like greetings and per-connection errors.
func (h *Hub) Send(group, id string, message []byte) error {
	h.mu.RLock()
	m := h.groups[group][id]
	h.mu.RUnlock()
	if m == nil {
		return errors.WrapInvalid(errors.ErrGroupNotFound, "Hub", "Send", group+"/"+id)
	}
	m.queue(message)
	return nil
}

// emit delivers a coalesced message to the group's current members.
func (h *Hub) emit(group string, message []byte) {
	h.mu.RLock()
	snapshot := make([]*member, 0, len(h.groups[group]))
	for _, m := range h.groups[group] {
		snapshot = append(snapshot, m)
	}
	h.mu.RUnlock()

	for _, m := range snapshot {
		m.queue(message)
	}
	if h.metrics != nil {
		h.metrics.emitted.Inc()
	}
}

// GroupSize returns the current member count of a group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) membersLocked() int {
	total := 0
	for _, members := range h.groups {
		total += len(members)
	}
	return total
}

// remove detaches a member; only this connection is affected.
func (h *Hub) remove(group, id, reason string) {
	h.mu.Lock()
	members := h.groups[group]
	m, ok := members[id]
	if ok {
		delete(members, id)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	count := h.membersLocked()
	h.mu.Unlock()

	if !ok {
		return
	}
	m.close()

	if h.metrics != nil {
		h.metrics.connected.Set(float64(count))
	}
	h.logger.Debug("member removed", "group", group, "member_id", id, "reason", reason)
}

// pingLoop sends heartbeats and prunes members that stopped answering.
func (h *Hub) pingLoop() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	grace := 2 * h.cfg.PingInterval
	for {
		select {
		case <-h.shutdown:
			return
		case <-ticker.C:
			h.sweep(grace)
		}
	}
}

func (h *Hub) sweep(grace time.Duration) {
	type target struct {
		group string
		m     *member
	}

	h.mu.RLock()
	snapshot := make([]target, 0)
	for group, members := range h.groups {
		for _, m := range members {
			snapshot = append(snapshot, target{group: group, m: m})
		}
	}
	h.mu.RUnlock()

	now := time.Now()
	for _, t := range snapshot {
		last := time.Unix(0, t.m.lastPong.Load())
		if now.Sub(last) > grace {
			h.remove(t.group, t.m.id, "heartbeat timeout")
			continue
		}
		deadline := now.Add(5 * time.Second)
		if err := t.m.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			h.remove(t.group, t.m.id, "ping failed")
		}
	}
}
