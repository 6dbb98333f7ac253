package activectx

import (
	"context"
	"time"

	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/pkg/cache"
)

const (
	cacheKeyEvents     = "events"
	cacheKeyExperiment = "experiment"
)

type experimentEntry struct {
	id     string
	active bool
}

// CachedResolver decorates a Resolver with a short TTL cache so per-batch
// resolution stays cheap under sustained ingest load. Staleness is
// bounded by the TTL.
type CachedResolver struct {
	inner      Resolver
	events     cache.Cache[map[string]struct{}]
	experiment cache.Cache[experimentEntry]
}

// NewCachedResolver wraps inner with the given TTL (default 1s when
// ttl <= 0).
func NewCachedResolver(inner Resolver, ttl time.Duration) (*CachedResolver, error) {
	if inner == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "CachedResolver", "NewCachedResolver", "nil resolver")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	events, err := cache.NewTTL[map[string]struct{}](ttl, ttl)
	if err != nil {
		return nil, errors.WrapFatal(err, "CachedResolver", "NewCachedResolver", "create event cache")
	}
	experiment, err := cache.NewTTL[experimentEntry](ttl, ttl)
	if err != nil {
		_ = events.Close()
		return nil, errors.WrapFatal(err, "CachedResolver", "NewCachedResolver", "create experiment cache")
	}

	return &CachedResolver{inner: inner, events: events, experiment: experiment}, nil
}

// ActiveEventIDs implements Resolver.
func (r *CachedResolver) ActiveEventIDs(ctx context.Context) (map[string]struct{}, error) {
	if cached, ok := r.events.Get(cacheKeyEvents); ok {
		return cached, nil
	}

	ids, err := r.inner.ActiveEventIDs(ctx)
	if err != nil {
		return nil, err
	}
	r.events.Set(cacheKeyEvents, ids)
	return ids, nil
}

// ActiveExperimentID implements Resolver.
func (r *CachedResolver) ActiveExperimentID(ctx context.Context) (string, bool, error) {
	if cached, ok := r.experiment.Get(cacheKeyExperiment); ok {
		return cached.id, cached.active, nil
	}

	id, active, err := r.inner.ActiveExperimentID(ctx)
	if err != nil {
		return "", false, err
	}
	r.experiment.Set(cacheKeyExperiment, experimentEntry{id: id, active: active})
	return id, active, nil
}

// Close releases the cache goroutines.
func (r *CachedResolver) Close() error {
	_ = r.events.Close()
	return r.experiment.Close()
}
