package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vehicle-telemetry/internal/analytics/application/events"
)

const (
	aggregateStatusCommitted = "committed"
	aggregateStatusFailed    = "failed"
)

type aggregateMessage struct {
	Status     string             `json:"status"`
	VehicleID  int64              `json:"vehicle_id"`
	Window     string             `json:"window"`
	RecordedAt time.Time          `json:"recorded_at"`
	Values     map[string]float64 `json:"values,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// AggregateRelay forwards aggregate outcomes to a hub.
type AggregateRelay struct {
	hub *Hub
}

// NewAggregateRelay constructs a relay.
func NewAggregateRelay(hub *Hub) *AggregateRelay {
	return &AggregateRelay{hub: hub}
}

// Handle is an event bus handler for events.AggregateCommitted and
// events.AggregateFailed.
func (r *AggregateRelay) Handle(_ context.Context, event any) error {
	var message aggregateMessage
	switch e := event.(type) {
	case events.AggregateCommitted:
		values := make(map[string]float64, len(e.Values))
		for field, mean := range e.Values {
			values[field.String()] = mean
		}
		message = aggregateMessage{
			Status:     aggregateStatusCommitted,
			VehicleID:  e.VehicleID,
			Window:     string(e.Window),
			RecordedAt: e.RecordedAt.UTC(),
			Values:     values,
		}
	case events.AggregateFailed:
		message = aggregateMessage{
			Status:     aggregateStatusFailed,
			VehicleID:  e.VehicleID,
			Window:     string(e.Window),
			RecordedAt: e.AttemptAt.UTC(),
			Error:      e.Reason,
		}
	default:
		return fmt.Errorf("live relay: unexpected event %T", event)
	}
	if r.hub.Len() == 0 {
		return nil
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	r.hub.Broadcast(payload)
	return nil
}
