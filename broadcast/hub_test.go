package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records written messages and can be told to start failing.
type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	pings    int
	failNext bool
	closed   bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return assert.AnError
	}
	cp := append([]byte(nil), data...)
	c.messages = append(c.messages, cp)
	return nil
}

func (c *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return assert.AnError
	}
	c.pings++
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *fakeConn) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = true
}

func startHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	hub := NewHub(cfg)
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Stop(2 * time.Second) })
	return hub
}

func TestHubCoalescesToLastValuePerWindow(t *testing.T) {
	hub := startHub(t, Config{CoalesceWindow: 50 * time.Millisecond, PingInterval: time.Minute})

	conn := &fakeConn{}
	hub.Connect(GroupFrontend, conn)

	// Ten rapid updates inside one window collapse to a single
	// message carrying the last value.
	for i := 0; i < 10; i++ {
		hub.Broadcast(GroupFrontend, "evt-1", []byte{byte('0' + i)})
	}

	require.Eventually(t, func() bool {
		return len(conn.received()) == 1
	}, time.Second, 5*time.Millisecond)

	got := conn.received()
	assert.Equal(t, []byte("9"), got[0])

	// The window has elapsed; nothing else arrives.
	time.Sleep(120 * time.Millisecond)
	assert.Len(t, conn.received(), 1)
}

func TestHubSeparateEventsNotCoalescedTogether(t *testing.T) {
	hub := startHub(t, Config{CoalesceWindow: 30 * time.Millisecond, PingInterval: time.Minute})

	conn := &fakeConn{}
	hub.Connect(GroupFrontend, conn)

	hub.Broadcast(GroupFrontend, "evt-1", []byte("a"))
	hub.Broadcast(GroupFrontend, "evt-2", []byte("b"))

	require.Eventually(t, func() bool {
		return len(conn.received()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestHubSendFailureRemovesOnlyThatMember(t *testing.T) {
	hub := startHub(t, Config{CoalesceWindow: 10 * time.Millisecond, PingInterval: time.Minute})

	bad := &fakeConn{}
	good := &fakeConn{}
	hub.Connect(GroupFrontend, bad)
	hub.Connect(GroupFrontend, good)
	bad.fail()

	hub.Broadcast(GroupFrontend, "evt-1", []byte("x"))

	require.Eventually(t, func() bool {
		return hub.GroupSize(GroupFrontend) == 1 && len(good.received()) == 1
	}, time.Second, 5*time.Millisecond)

	// The survivor keeps receiving.
	hub.Broadcast(GroupFrontend, "evt-1", []byte("y"))
	require.Eventually(t, func() bool {
		return len(good.received()) == 2
	}, time.Second, 5*time.Millisecond)

	bad.mu.Lock()
	closed := bad.closed
	bad.mu.Unlock()
	assert.True(t, closed, "failed member's conn is closed")
}

func TestHubDisconnect(t *testing.T) {
	hub := startHub(t, Config{CoalesceWindow: 10 * time.Millisecond, PingInterval: time.Minute})

	conn := &fakeConn{}
	id := hub.Connect(GroupController, conn)
	require.Equal(t, 1, hub.GroupSize(GroupController))

	hub.Disconnect(GroupController, id)
	assert.Equal(t, 0, hub.GroupSize(GroupController))

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	assert.True(t, closed)
}

func TestHubHeartbeatPrunesSilentMembers(t *testing.T) {
	hub := startHub(t, Config{CoalesceWindow: 10 * time.Millisecond, PingInterval: 25 * time.Millisecond})

	silent := &fakeConn{}
	alive := &fakeConn{}
	hub.Connect(GroupFrontend, silent)
	aliveID := hub.Connect(GroupFrontend, alive)

	// Keep one member fresh; let the other's pong age past the grace
	// period (two intervals).
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				hub.Touch(GroupFrontend, aliveID)
			}
		}
	}()

	// Age the silent member artificially.
	hub.mu.RLock()
	for _, m := range hub.groups[GroupFrontend] {
		if m.id != aliveID {
			m.lastPong.Store(time.Now().Add(-time.Minute).UnixNano())
		}
	}
	hub.mu.RUnlock()

	require.Eventually(t, func() bool {
		return hub.GroupSize(GroupFrontend) == 1
	}, time.Second, 5*time.Millisecond)

	alive.mu.Lock()
	pings := alive.pings
	alive.mu.Unlock()
	assert.Greater(t, pings, 0, "surviving member keeps getting pinged")
}

func TestHubBroadcastToEmptyGroupIsNoop(t *testing.T) {
	hub := startHub(t, Config{CoalesceWindow: 10 * time.Millisecond, PingInterval: time.Minute})

	require.NotPanics(t, func() {
		hub.Broadcast("nobody", "evt-1", []byte("x"))
	})
}

func TestCoalescerStopDiscardsPending(t *testing.T) {
	var mu sync.Mutex
	var emitted [][]byte
	c := newCoalescer(20*time.Millisecond, func(_ string, message []byte) {
		mu.Lock()
		emitted = append(emitted, message)
		mu.Unlock()
	})

	c.offer(GroupFrontend, "evt-1", []byte("x"))
	c.stop()

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, emitted)
}
