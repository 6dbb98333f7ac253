package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/telemetryhub/rules"
)

// alertFrame is the frontend frame emitted when a threshold rule fires.
type alertFrame struct {
	Type      string    `json:"type"`
	RuleID    string    `json:"rule_id"`
	EventID   string    `json:"event_id"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Operator  string    `json:"operator"`
	At        time.Time `json:"at"`
}

// AlertNotifier pushes rule triggers to frontend subscribers. Each
// trigger broadcasts under its own coalescing key so a burst of
// datapoint frames never replaces an alert.
type AlertNotifier struct {
	hub    *Hub
	logger *slog.Logger
}

// NewAlertNotifier binds the notifier to a hub.
func NewAlertNotifier(hub *Hub, logger *slog.Logger) *AlertNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertNotifier{hub: hub, logger: logger.With("component", "alerts")}
}

// NotifyThresholdCrossed broadcasts the trigger to the frontend group.
func (n *AlertNotifier) NotifyThresholdCrossed(_ context.Context, t rules.Trigger) {
	frame := alertFrame{
		Type:      "threshold_alert",
		RuleID:    t.RuleID,
		EventID:   t.EventID,
		Value:     t.Value,
		Threshold: t.Threshold,
		Operator:  string(t.Operator),
		At:        t.At,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		n.logger.Error("encoding alert frame failed", "rule_id", t.RuleID, "error", err)
		return
	}
	n.hub.Broadcast(GroupFrontend, "alert:"+t.RuleID, data)
}
