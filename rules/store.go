package rules

import (
	"context"
	"sync"
	"time"

	"github.com/c360/telemetryhub/errors"
)

// Store provides rule definitions and owns the cooldown state. The
// triggering invariant lives in MarkTriggered so that concurrent
// evaluations of the same rule cannot both claim a trigger inside the
// cooldown window.
type Store interface {
	// ListEnabled returns all enabled rules.
	ListEnabled(ctx context.Context) ([]Rule, error)

	// MarkTriggered atomically claims a trigger for the rule at
	// the given instant. It returns false without updating state when
	// the rule's previous trigger is closer than the cooldown.
	MarkTriggered(ctx context.Context, ruleID string, at time.Time) (bool, error)
}

// MemoryStore is an in-memory rule store with per-rule cooldown locks.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewMemoryStore creates a store holding the given rules. Invalid rules
// are rejected.
func NewMemoryStore(ruleDefs []Rule) (*MemoryStore, error) {
	s := &MemoryStore{rules: make(map[string]*Rule, len(ruleDefs))}
	for _, r := range ruleDefs {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rule := r
		s.rules[r.ID] = &rule
	}
	return s, nil
}

// ListEnabled implements Store.
func (s *MemoryStore) ListEnabled(_ context.Context) ([]Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, *r)
		}
	}
	return out, nil
}

// MarkTriggered implements Store. The check and the update happen under
// one lock, so the cooldown invariant holds across concurrent batches.
func (s *MemoryStore) MarkTriggered(_ context.Context, ruleID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return false, errors.WrapInvalid(errors.ErrKeyNotFound, "MemoryStore", "MarkTriggered", "rule "+ruleID)
	}

	if r.LastTriggeredAt != nil && at.Sub(*r.LastTriggeredAt) < r.Cooldown() {
		return false, nil
	}

	triggered := at
	r.LastTriggeredAt = &triggered
	return true, nil
}

// Get returns a copy of a rule, for tests and inspection.
func (s *MemoryStore) Get(ruleID string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}
