package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapPreservesChain(t *testing.T) {
	err := WrapTransient(ErrStoreWrite, "Pipeline", "Ingest", "bulk write")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, ErrStoreWrite))
	assert.Contains(t, err.Error(), "Pipeline.Ingest: bulk write failed")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Pipeline", ce.Component)
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrStoreWrite))
	assert.True(t, IsTransient(ErrDeliveryTimeout))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("dial tcp: connection refused")))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrBatchTooLarge))
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrBatchTooLarge))
	assert.True(t, IsInvalid(ErrMalformedBatch))
	assert.True(t, IsInvalid(WrapInvalid(fmt.Errorf("bad value"), "Pipeline", "validate", "item check")))
	assert.False(t, IsInvalid(ErrStoreWrite))
	assert.False(t, IsInvalid(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(WrapFatal(fmt.Errorf("boom"), "Dispatcher", "Start", "open delivery log")))
	assert.False(t, IsFatal(ErrDeliveryFailed))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrEmptyBatch))
	assert.Equal(t, ErrorFatal, Classify(ErrMissingConfig))
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("some unknown failure")))
}

func TestClassificationWinsOverMessagePatterns(t *testing.T) {
	// A classified invalid error whose message mentions "timeout" must
	// still classify as invalid.
	err := WrapInvalid(fmt.Errorf("timeout value out of range"), "Config", "Validate", "timeout check")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}
