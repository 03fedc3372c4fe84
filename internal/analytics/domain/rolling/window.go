package rolling

import (
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// Window names one of the rolling aggregation windows.
type Window string

const (
	WindowFast Window = "fast"
	WindowSlow Window = "slow"
)

// Windows lists the supported windows.
var Windows = []Window{WindowFast, WindowSlow}

// FastFields is the field group averaged by the fast window.
var FastFields = []telemetry.Field{telemetry.FieldRPM, telemetry.FieldSpeed}

// SlowFields is the field group averaged by the slow window.
var SlowFields = []telemetry.Field{
	telemetry.FieldCoolantTemp,
	telemetry.FieldOilTemp,
	telemetry.FieldFuelLevel,
	telemetry.FieldVoltage,
	telemetry.FieldBoost,
	telemetry.FieldOilPressure,
}

// Spec configures one window: how often it fires, how far back it looks and
// which fields it averages.
type Spec struct {
	Window   Window
	Interval time.Duration
	Duration time.Duration
	Fields   []telemetry.Field
}

// DefaultSpecs returns the 1s fast and 10s slow windows.
func DefaultSpecs() []Spec {
	return []Spec{
		{Window: WindowFast, Interval: time.Second, Duration: time.Second, Fields: FastFields},
		{Window: WindowSlow, Interval: 10 * time.Second, Duration: 10 * time.Second, Fields: SlowFields},
	}
}

// FieldsFor returns the field group of a window.
func FieldsFor(window Window) ([]telemetry.Field, error) {
	switch window {
	case WindowFast:
		return FastFields, nil
	case WindowSlow:
		return SlowFields, nil
	default:
		return nil, ErrUnknownWindow
	}
}

// ParseWindow validates a window name.
func ParseWindow(value string) (Window, error) {
	switch Window(value) {
	case WindowFast, WindowSlow:
		return Window(value), nil
	default:
		return "", ErrUnknownWindow
	}
}

// Validate checks a window spec.
func (s Spec) Validate() error {
	if _, err := ParseWindow(string(s.Window)); err != nil {
		return err
	}
	if s.Interval <= 0 || s.Duration <= 0 {
		return ErrInvalidDuration
	}
	if len(s.Fields) == 0 {
		return ErrEmptyFieldGroup
	}
	for _, field := range s.Fields {
		if !field.IsValid() {
			return ErrEmptyFieldGroup
		}
	}
	return nil
}

// Horizon returns the longest duration among specs, the retention a shared
// buffer needs to serve all of them.
func Horizon(specs []Spec) time.Duration {
	var horizon time.Duration
	for _, spec := range specs {
		if spec.Duration > horizon {
			horizon = spec.Duration
		}
	}
	return horizon
}
