package events

import (
	"time"

	"vehicle-telemetry/internal/analytics/domain/rolling"
)

// AggregateCommitted is raised after a window mean has been stored.
type AggregateCommitted struct {
	VehicleID  int64
	Window     rolling.Window
	RecordedAt time.Time
	Values     rolling.Result
	OccurredAt time.Time
}

// AggregateFailed is raised when a due window could not be stored.
type AggregateFailed struct {
	VehicleID  int64
	Window     rolling.Window
	AttemptAt  time.Time
	Reason     string
	OccurredAt time.Time
}
