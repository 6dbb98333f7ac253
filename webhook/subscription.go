// Package webhook delivers signed event notifications to subscribed
// HTTP endpoints with bounded concurrency, scheduled retries, and an
// immutable delivery audit log.
package webhook

import (
	"context"
	"net/url"
	"slices"
	"sync"

	"github.com/c360/telemetryhub/errors"
)

// Subscription is a registered webhook endpoint. Secret, when set,
// enables HMAC signing of every delivery to this endpoint.
type Subscription struct {
	ID         string   `json:"id"`
	URL        string   `json:"url"`
	Secret     string   `json:"secret,omitempty"`
	EventTypes []string `json:"event_types"`
	Enabled    bool     `json:"enabled"`
}

// Validate checks structural consistency of the subscription.
func (s Subscription) Validate() error {
	if s.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Subscription", "Validate", "empty id")
	}
	if s.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Subscription", "Validate", "empty url")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return errors.WrapInvalid(err, "Subscription", "Validate", "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Subscription", "Validate",
			"url scheme must be http or https")
	}
	if len(s.EventTypes) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Subscription", "Validate", "empty event_types")
	}
	return nil
}

// Matches reports whether the subscription wants this event type.
func (s Subscription) Matches(eventType string) bool {
	return slices.Contains(s.EventTypes, eventType)
}

// SubscriptionStore provides the subscriptions a dispatch fans out to.
type SubscriptionStore interface {
	// ListMatching returns enabled subscriptions whose event_types set
	// contains eventType.
	ListMatching(ctx context.Context, eventType string) ([]Subscription, error)
}

// MemorySubscriptions is an in-memory SubscriptionStore.
type MemorySubscriptions struct {
	mu   sync.RWMutex
	subs []Subscription
}

// NewMemorySubscriptions creates a store holding the given
// subscriptions. Invalid subscriptions are rejected.
func NewMemorySubscriptions(subs []Subscription) (*MemorySubscriptions, error) {
	for _, s := range subs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &MemorySubscriptions{subs: slices.Clone(subs)}, nil
}

// ListMatching implements SubscriptionStore.
func (m *MemorySubscriptions) ListMatching(_ context.Context, eventType string) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Subscription
	for _, s := range m.subs {
		if s.Enabled && s.Matches(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}
