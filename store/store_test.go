package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/telemetry"
)

func makePoints(n int) []telemetry.PersistedDatapoint {
	points := make([]telemetry.PersistedDatapoint, n)
	for i := range points {
		points[i] = telemetry.PersistedDatapoint{
			ID:        "dp-" + string(rune('a'+i)),
			EventID:   "evt-1",
			Value:     float64(i),
			Timestamp: time.Now(),
		}
	}
	return points
}

func TestMemoryStoreAppendsRows(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.BulkInsert(context.Background(), makePoints(3)))
	require.NoError(t, s.BulkInsert(context.Background(), makePoints(2)))

	assert.Len(t, s.Rows(), 5)
	assert.Equal(t, 2, s.Batches())
}

func TestMemoryStoreNoDeduplication(t *testing.T) {
	s := NewMemoryStore()
	points := makePoints(1)
	require.NoError(t, s.BulkInsert(context.Background(), points))
	require.NoError(t, s.BulkInsert(context.Background(), points))

	assert.Len(t, s.Rows(), 2, "identical datapoints must create new rows")
}

func TestMemoryStoreFailNext(t *testing.T) {
	s := NewMemoryStore()
	s.FailNextWith(errors.ErrStoreWrite)

	err := s.BulkInsert(context.Background(), makePoints(2))
	require.ErrorIs(t, err, errors.ErrStoreWrite)
	assert.Empty(t, s.Rows(), "failed write must persist nothing")

	// Failure is one-shot
	require.NoError(t, s.BulkInsert(context.Background(), makePoints(2)))
	assert.Len(t, s.Rows(), 2)
}

// fakePublisher records published batches.
type fakePublisher struct {
	published [][]byte
	subjects  []string
	publishEr error
	streamErr error
}

func (f *fakePublisher) EnsureStream(_ context.Context, _ jetstream.StreamConfig) (jetstream.Stream, error) {
	return nil, f.streamErr
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	if f.publishEr != nil {
		return f.publishEr
	}
	f.subjects = append(f.subjects, subject)
	f.published = append(f.published, data)
	return nil
}

func TestJetStreamStorePublishesOneMessagePerBatch(t *testing.T) {
	pub := &fakePublisher{}
	s, err := NewJetStreamStore(context.Background(), pub)
	require.NoError(t, err)

	require.NoError(t, s.BulkInsert(context.Background(), makePoints(4)))
	require.Len(t, pub.published, 1, "a bulk write is a single stream append")
	assert.Equal(t, "telemetry.datapoints.batch", pub.subjects[0])

	var record batchRecord
	require.NoError(t, json.Unmarshal(pub.published[0], &record))
	assert.Len(t, record.Datapoints, 4)
	assert.False(t, record.WrittenAt.IsZero())
}

func TestJetStreamStoreEmptyBatchIsNoop(t *testing.T) {
	pub := &fakePublisher{}
	s, err := NewJetStreamStore(context.Background(), pub)
	require.NoError(t, err)

	require.NoError(t, s.BulkInsert(context.Background(), nil))
	assert.Empty(t, pub.published)
}

func TestJetStreamStorePublishFailure(t *testing.T) {
	pub := &fakePublisher{publishEr: stderrors.New("no responders")}
	s, err := NewJetStreamStore(context.Background(), pub)
	require.NoError(t, err)

	err = s.BulkInsert(context.Background(), makePoints(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrStoreWrite)
	assert.True(t, errors.IsTransient(err))
}

func TestNewJetStreamStoreRequiresClient(t *testing.T) {
	_, err := NewJetStreamStore(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestNewJetStreamStoreStreamFailure(t *testing.T) {
	pub := &fakePublisher{streamErr: stderrors.New("jetstream unavailable")}
	_, err := NewJetStreamStore(context.Background(), pub)
	require.Error(t, err)
}
