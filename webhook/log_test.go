package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDelivery(id string, status Status, attempts int) Delivery {
	return Delivery{
		ID:             id,
		SubscriptionID: "sub-1",
		EventType:      "rule.threshold_crossed",
		Status:         status,
		Attempts:       attempts,
		CreatedAt:      time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryLogHistoryOrder(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	require.NoError(t, log.Record(ctx, testDelivery("d1", StatusPending, 0)))
	require.NoError(t, log.Record(ctx, testDelivery("d1", StatusAttempting, 1)))
	require.NoError(t, log.Record(ctx, testDelivery("d1", StatusDelivered, 1)))

	latest, err := log.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, latest.Status)

	history, err := log.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StatusPending, history[0].Status)
	assert.Equal(t, StatusAttempting, history[1].Status)
	assert.Equal(t, StatusDelivered, history[2].Status)

	_, err = log.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestPebbleLogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	log, err := OpenPebbleLog(dir)
	require.NoError(t, err)
	require.NoError(t, log.Record(ctx, testDelivery("d1", StatusPending, 0)))
	require.NoError(t, log.Record(ctx, testDelivery("d1", StatusAttempting, 1)))
	require.NoError(t, log.Record(ctx, testDelivery("d2", StatusPending, 0)))
	require.NoError(t, log.Close())

	reopened, err := OpenPebbleLog(dir)
	require.NoError(t, err)
	defer reopened.Close()

	history, err := reopened.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, StatusPending, history[0].Status)
	assert.Equal(t, StatusAttempting, history[1].Status)

	// New rows after reopen keep ordering past the recovered sequence.
	require.NoError(t, reopened.Record(ctx, testDelivery("d1", StatusDelivered, 1)))
	history, err = reopened.History(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, StatusDelivered, history[2].Status)

	latest, err := reopened.Get(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, latest.Status)

	_, err = reopened.History(ctx, "missing")
	assert.Error(t, err)
}
