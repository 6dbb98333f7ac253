package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/telemetryhub/pkg/buffer"
)

// member is one connection inside a group. Outbound messages go
// through a drop-oldest ring drained by a dedicated writer goroutine,
// so a slow reader never blocks a broadcast and writes to the
// underlying conn stay single-threaded.
type member struct {
	id       string
	group    string
	conn     Conn
	hub      *Hub
	outbound *buffer.Ring[[]byte]
	notify   chan struct{}
	closing  chan struct{}
	closed   sync.Once
	lastPong atomic.Int64
}

func newMember(id, group string, conn Conn, queueSize int, hub *Hub) *member {
	// queueSize is validated by Config.applyDefaults.
	ring, _ := buffer.NewRing[[]byte](queueSize)
	m := &member{
		id:       id,
		group:    group,
		conn:     conn,
		hub:      hub,
		outbound: ring,
		notify:   make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
	m.lastPong.Store(time.Now().UnixNano())
	return m
}

// queue enqueues a message, dropping the oldest queued one when full.
func (m *member) queue(message []byte) {
	if dropped := m.outbound.Write(message); dropped {
		if m.hub.metrics != nil {
			m.hub.metrics.dropped.Inc()
		}
	}
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// writeLoop drains the ring onto the connection. A write failure
// removes only this member.
func (m *member) writeLoop(wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-m.closing:
			return
		case <-m.notify:
		}

		for {
			message, ok := m.outbound.TryRead()
			if !ok {
				break
			}
			if err := m.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				m.hub.remove(m.group, m.id, "write failed")
				return
			}
			if m.hub.metrics != nil {
				m.hub.metrics.sent.Inc()
			}
		}
	}
}

func (m *member) close() {
	m.closed.Do(func() {
		close(m.closing)
		_ = m.conn.Close()
	})
}
