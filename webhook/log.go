package webhook

import (
	"context"
	"sync"

	"github.com/c360/telemetryhub/errors"
)

// DeliveryLog is the audit trail for webhook deliveries. Record
// appends a snapshot of the delivery after every state change; rows
// are never rewritten, so the full attempt history stays queryable.
type DeliveryLog interface {
	// Record appends the current state of the delivery.
	Record(ctx context.Context, d Delivery) error

	// Get returns the latest recorded state of a delivery.
	Get(ctx context.Context, deliveryID string) (Delivery, error)

	// History returns every recorded state of a delivery in order.
	History(ctx context.Context, deliveryID string) ([]Delivery, error)

	Close() error
}

// MemoryLog is an in-memory DeliveryLog for tests and single-process
// deployments without a data directory.
type MemoryLog struct {
	mu   sync.RWMutex
	rows map[string][]Delivery
}

// NewMemoryLog creates an empty in-memory delivery log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{rows: make(map[string][]Delivery)}
}

// Record implements DeliveryLog.
func (l *MemoryLog) Record(_ context.Context, d Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[d.ID] = append(l.rows[d.ID], d)
	return nil
}

// Get implements DeliveryLog.
func (l *MemoryLog) Get(_ context.Context, deliveryID string) (Delivery, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := l.rows[deliveryID]
	if len(rows) == 0 {
		return Delivery{}, errors.WrapInvalid(errors.ErrKeyNotFound, "MemoryLog", "Get", "delivery "+deliveryID)
	}
	return rows[len(rows)-1], nil
}

// History implements DeliveryLog.
func (l *MemoryLog) History(_ context.Context, deliveryID string) ([]Delivery, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows := l.rows[deliveryID]
	if len(rows) == 0 {
		return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "MemoryLog", "History", "delivery "+deliveryID)
	}
	return append([]Delivery(nil), rows...), nil
}

// Close implements DeliveryLog.
func (l *MemoryLog) Close() error { return nil }
