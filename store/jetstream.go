package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/telemetry"
)

const (
	// StreamName is the JetStream stream holding persisted datapoints.
	StreamName = "TELEMETRY_DATAPOINTS"
	// batchSubject receives one message per accepted batch. Publishing
	// the batch as a single message keeps the bulk write atomic: either
	// the whole batch is appended or none of it is.
	batchSubject = "telemetry.datapoints.batch"
)

// batchRecord is the wire form of one bulk write.
type batchRecord struct {
	WrittenAt  time.Time                      `json:"written_at"`
	Datapoints []telemetry.PersistedDatapoint `json:"datapoints"`
}

// Publisher is the slice of the NATS client the store needs.
type Publisher interface {
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	Publish(ctx context.Context, subject string, data []byte) error
}

// JetStreamStore persists datapoint batches as messages on a JetStream
// stream with file storage.
type JetStreamStore struct {
	client Publisher
}

// NewJetStreamStore ensures the datapoint stream exists and returns the
// store bound to it.
func NewJetStreamStore(ctx context.Context, client Publisher) (*JetStreamStore, error) {
	if client == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "JetStreamStore", "NewJetStreamStore", "nil client")
	}

	_, err := client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"telemetry.datapoints.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "JetStreamStore", "NewJetStreamStore", "ensure stream")
	}

	return &JetStreamStore{client: client}, nil
}

// BulkInsert appends the batch as one acknowledged stream message. A
// publish error means no datapoint from the batch was persisted.
func (s *JetStreamStore) BulkInsert(ctx context.Context, points []telemetry.PersistedDatapoint) error {
	if len(points) == 0 {
		return nil
	}

	record := batchRecord{
		WrittenAt:  time.Now().UTC(),
		Datapoints: points,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return errors.WrapInvalid(err, "JetStreamStore", "BulkInsert", "marshal batch record")
	}

	if err := s.client.Publish(ctx, batchSubject, data); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrStoreWrite, err),
			"JetStreamStore", "BulkInsert", fmt.Sprintf("append batch of %d", len(points)))
	}
	return nil
}
