package activectx

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver([]string{"evt-1", "evt-2"}, "exp-1")

	events, err := r.ActiveEventIDs(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Contains(t, events, "evt-1")

	id, active, err := r.ActiveExperimentID(context.Background())
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, "exp-1", id)
}

func TestStaticResolverNoExperiment(t *testing.T) {
	r := NewStaticResolver([]string{"evt-1"}, "")

	_, active, err := r.ActiveExperimentID(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestStaticResolverReturnsCopy(t *testing.T) {
	r := NewStaticResolver([]string{"evt-1"}, "")

	events, err := r.ActiveEventIDs(context.Background())
	require.NoError(t, err)
	delete(events, "evt-1")

	again, err := r.ActiveEventIDs(context.Background())
	require.NoError(t, err)
	assert.Contains(t, again, "evt-1")
}

// countingResolver counts calls through to a static resolver.
type countingResolver struct {
	inner      *StaticResolver
	eventCalls atomic.Int64
	expCalls   atomic.Int64
	err        error
}

func (c *countingResolver) ActiveEventIDs(ctx context.Context) (map[string]struct{}, error) {
	c.eventCalls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.ActiveEventIDs(ctx)
}

func (c *countingResolver) ActiveExperimentID(ctx context.Context) (string, bool, error) {
	c.expCalls.Add(1)
	if c.err != nil {
		return "", false, c.err
	}
	return c.inner.ActiveExperimentID(ctx)
}

func TestCachedResolverCachesLookups(t *testing.T) {
	inner := &countingResolver{inner: NewStaticResolver([]string{"evt-1"}, "exp-1")}
	r, err := NewCachedResolver(inner, time.Minute)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	for i := 0; i < 5; i++ {
		events, err := r.ActiveEventIDs(context.Background())
		require.NoError(t, err)
		assert.Contains(t, events, "evt-1")

		id, active, err := r.ActiveExperimentID(context.Background())
		require.NoError(t, err)
		assert.True(t, active)
		assert.Equal(t, "exp-1", id)
	}

	assert.Equal(t, int64(1), inner.eventCalls.Load())
	assert.Equal(t, int64(1), inner.expCalls.Load())
}

func TestCachedResolverExpires(t *testing.T) {
	inner := &countingResolver{inner: NewStaticResolver([]string{"evt-1"}, "")}
	r, err := NewCachedResolver(inner, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.ActiveEventIDs(context.Background())
	require.NoError(t, err)
	time.Sleep(25 * time.Millisecond)
	_, err = r.ActiveEventIDs(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), inner.eventCalls.Load())
}

func TestCachedResolverDoesNotCacheErrors(t *testing.T) {
	inner := &countingResolver{
		inner: NewStaticResolver(nil, ""),
		err:   stderrors.New("kv unavailable"),
	}
	r, err := NewCachedResolver(inner, time.Minute)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	_, err = r.ActiveEventIDs(context.Background())
	require.Error(t, err)
	_, err = r.ActiveEventIDs(context.Background())
	require.Error(t, err)

	assert.Equal(t, int64(2), inner.eventCalls.Load())
}

func TestNewCachedResolverRequiresInner(t *testing.T) {
	_, err := NewCachedResolver(nil, time.Second)
	assert.Error(t, err)
}
