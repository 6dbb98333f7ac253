// Package activectx resolves the currently-active event set and the
// active experiment id. The pipeline consults it once per batch, so
// implementations must stay cheap; the CachedResolver decorator keeps
// the hot path off the backing store.
package activectx

import (
	"context"
	"sync"
)

// Resolver reports which event ids currently have a live data source
// and which experiment, if any, is active. Injected into the pipeline
// at construction so tests can substitute it deterministically.
type Resolver interface {
	// ActiveEventIDs returns the set of event ids with a live source.
	ActiveEventIDs(ctx context.Context) (map[string]struct{}, error)

	// ActiveExperimentID returns the active experiment id. The second
	// return value is false when no experiment is active.
	ActiveExperimentID(ctx context.Context) (string, bool, error)
}

// StaticResolver is a fixed-answer Resolver for tests and single-tenant
// deployments.
type StaticResolver struct {
	mu         sync.RWMutex
	events     map[string]struct{}
	experiment string
	hasExp     bool
}

// NewStaticResolver creates a resolver answering with the given events
// and experiment. An empty experiment id means none is active.
func NewStaticResolver(eventIDs []string, experimentID string) *StaticResolver {
	r := &StaticResolver{}
	r.SetActiveEvents(eventIDs)
	r.SetActiveExperiment(experimentID)
	return r
}

// SetActiveEvents replaces the active event set.
func (r *StaticResolver) SetActiveEvents(eventIDs []string) {
	events := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		events[id] = struct{}{}
	}
	r.mu.Lock()
	r.events = events
	r.mu.Unlock()
}

// SetActiveExperiment replaces the active experiment id; empty clears it.
func (r *StaticResolver) SetActiveExperiment(experimentID string) {
	r.mu.Lock()
	r.experiment = experimentID
	r.hasExp = experimentID != ""
	r.mu.Unlock()
}

// ActiveEventIDs implements Resolver.
func (r *StaticResolver) ActiveEventIDs(_ context.Context) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct{}, len(r.events))
	for id := range r.events {
		out[id] = struct{}{}
	}
	return out, nil
}

// ActiveExperimentID implements Resolver.
func (r *StaticResolver) ActiveExperimentID(_ context.Context) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.experiment, r.hasExp, nil
}
