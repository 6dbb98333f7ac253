// Package store defines the datapoint persistence write contract and its
// implementations. The pipeline only depends on the bulk-write contract;
// durability semantics live behind it.
package store

import (
	"context"
	"sync"

	"github.com/c360/telemetryhub/telemetry"
)

// DatapointStore is the pipeline's write contract: a single bulk insert
// per batch. An error means nothing from the batch was persisted.
type DatapointStore interface {
	BulkInsert(ctx context.Context, points []telemetry.PersistedDatapoint) error
}

// MemoryStore is an in-memory DatapointStore used in tests and for
// running without a JetStream backend. Re-inserting an identical
// datapoint appends a new row; the store never deduplicates.
type MemoryStore struct {
	mu      sync.RWMutex
	rows    []telemetry.PersistedDatapoint
	batches int

	// FailNext makes the next BulkInsert return this error once.
	failNextMu sync.Mutex
	failNext   error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailNextWith arms a one-shot write failure.
func (s *MemoryStore) FailNextWith(err error) {
	s.failNextMu.Lock()
	s.failNext = err
	s.failNextMu.Unlock()
}

// BulkInsert appends all points, or nothing on an armed failure.
func (s *MemoryStore) BulkInsert(_ context.Context, points []telemetry.PersistedDatapoint) error {
	s.failNextMu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.failNextMu.Unlock()
		return err
	}
	s.failNextMu.Unlock()

	s.mu.Lock()
	s.rows = append(s.rows, points...)
	s.batches++
	s.mu.Unlock()
	return nil
}

// Rows returns a copy of all persisted rows.
func (s *MemoryStore) Rows() []telemetry.PersistedDatapoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]telemetry.PersistedDatapoint, len(s.rows))
	copy(out, s.rows)
	return out
}

// Batches returns the number of successful bulk writes.
func (s *MemoryStore) Batches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.batches
}
