// Package cache provides a generic, thread-safe TTL cache with background
// expiry. It backs the active-context resolver, where lookups happen once
// per ingested batch and must stay cheap.
package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrInvalidTTL is returned when a cache is created with a non-positive TTL.
var ErrInvalidTTL = errors.New("cache: ttl must be positive")

// Cache is a generic key/value cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the zero value and false
	// when the key is absent or expired.
	Get(key string) (V, bool)

	// Set stores a value with the configured TTL.
	Set(key string, value V)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) bool

	// Size returns the current number of live entries.
	Size() int

	// Stats returns hit/miss counters.
	Stats() Statistics

	// Close stops the background cleanup goroutine.
	Close() error
}

// Statistics holds cache access counters.
type Statistics struct {
	Hits   int64
	Misses int64
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[V any] struct {
	mu              sync.RWMutex
	ttl             time.Duration
	cleanupInterval time.Duration
	items           map[string]ttlEntry[V]

	hits   atomic.Int64
	misses atomic.Int64

	shutdown  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTTL creates a TTL cache. cleanupInterval bounds how long expired
// entries may linger before the background sweep removes them; reads
// never observe expired values regardless.
func NewTTL[V any](ttl, cleanupInterval time.Duration) (Cache[V], error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = ttl
	}

	c := &ttlCache[V]{
		ttl:             ttl,
		cleanupInterval: cleanupInterval,
		items:           make(map[string]ttlEntry[V]),
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}
	go c.cleanupLoop()
	return c, nil
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	c.hits.Add(1)
	return entry.value, true
}

func (c *ttlCache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.items[key] = ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	return ok
}

func (c *ttlCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	now := time.Now()
	for _, entry := range c.items {
		if now.Before(entry.expiresAt) {
			n++
		}
	}
	return n
}

func (c *ttlCache[V]) Stats() Statistics {
	return Statistics{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *ttlCache[V]) Close() error {
	c.closeOnce.Do(func() {
		close(c.shutdown)
		<-c.done
	})
	return nil
}

func (c *ttlCache[V]) cleanupLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.shutdown:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, entry := range c.items {
				if now.After(entry.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
