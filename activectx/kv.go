package activectx

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/telemetryhub/errors"
)

// KV bucket keys maintained by the plugin/experiment lifecycle (external
// to this service; see the write contract in the resolver docs).
const (
	// BucketName is the KV bucket carrying active-context state.
	BucketName = "telemetry_active_context"
	// KeyActiveEvents holds a JSON array of active event ids.
	KeyActiveEvents = "active_events"
	// KeyActiveExperiment holds the active experiment id, empty or
	// absent when none is running.
	KeyActiveExperiment = "active_experiment"
)

// KVGetter is the slice of jetstream.KeyValue the resolver reads.
type KVGetter interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
}

// KVResolver reads the active-context keys from a NATS KV bucket.
type KVResolver struct {
	bucket KVGetter
}

// NewKVResolver creates a resolver over the given bucket.
func NewKVResolver(bucket KVGetter) (*KVResolver, error) {
	if bucket == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "KVResolver", "NewKVResolver", "nil bucket")
	}
	return &KVResolver{bucket: bucket}, nil
}

// ActiveEventIDs implements Resolver. A missing key means no active
// events, not an error.
func (r *KVResolver) ActiveEventIDs(ctx context.Context) (map[string]struct{}, error) {
	entry, err := r.bucket.Get(ctx, KeyActiveEvents)
	if err != nil {
		if isKeyNotFound(err) {
			return map[string]struct{}{}, nil
		}
		return nil, errors.WrapTransient(err, "KVResolver", "ActiveEventIDs", "read "+KeyActiveEvents)
	}

	var ids []string
	if err := json.Unmarshal(entry.Value(), &ids); err != nil {
		return nil, errors.WrapInvalid(err, "KVResolver", "ActiveEventIDs", "decode "+KeyActiveEvents)
	}

	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// ActiveExperimentID implements Resolver. A missing key or empty value
// means no experiment is active.
func (r *KVResolver) ActiveExperimentID(ctx context.Context) (string, bool, error) {
	entry, err := r.bucket.Get(ctx, KeyActiveExperiment)
	if err != nil {
		if isKeyNotFound(err) {
			return "", false, nil
		}
		return "", false, errors.WrapTransient(err, "KVResolver", "ActiveExperimentID", "read "+KeyActiveExperiment)
	}

	id := string(entry.Value())
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

func isKeyNotFound(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound)
}
