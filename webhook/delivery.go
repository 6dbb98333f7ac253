package webhook

import (
	"fmt"
	"time"

	"github.com/c360/telemetryhub/errors"
)

// MaxAttempts bounds delivery attempts including the first one.
const MaxAttempts = 3

// Status is a delivery lifecycle state. Transitions only move forward;
// StatusDelivered and StatusDeadLetter are terminal.
type Status string

// Delivery states.
const (
	StatusPending    Status = "pending"
	StatusAttempting Status = "attempting"
	StatusDelivered  Status = "delivered"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
)

// forwardTransitions maps each state to the states it may move to.
var forwardTransitions = map[Status][]Status{
	StatusPending:    {StatusAttempting, StatusDeadLetter},
	StatusAttempting: {StatusDelivered, StatusFailed, StatusDeadLetter},
	// failed -> dead_letter covers a retry meeting a full queue.
	StatusFailed:     {StatusAttempting, StatusDeadLetter},
	StatusDelivered:  nil,
	StatusDeadLetter: nil,
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusDeadLetter
}

// Delivery is one webhook delivery with its attempt history summary.
// Rows are recorded append-only per attempt in the DeliveryLog.
type Delivery struct {
	ID             string     `json:"id"`
	SubscriptionID string     `json:"subscription_id"`
	EventType      string     `json:"event_type"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastError      string     `json:"last_error,omitempty"`
	ResponseCode   *int       `json:"response_code,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty"`
}

// Advance moves the delivery to the next state, rejecting any
// backwards or undefined transition.
func (d *Delivery) Advance(next Status) error {
	for _, allowed := range forwardTransitions[d.Status] {
		if allowed == next {
			d.Status = next
			return nil
		}
	}
	return errors.WrapInvalid(errors.ErrStatusRegression, "Delivery", "Advance",
		fmt.Sprintf("delivery %s: %s -> %s", d.ID, d.Status, next))
}
