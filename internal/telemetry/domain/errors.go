package telemetry

import "errors"

var (
	// ErrNilFrame is returned when a component is built without a frame.
	ErrNilFrame = errors.New("telemetry: nil frame")
	// ErrNilSink is returned when the ingestor has nowhere to append samples.
	ErrNilSink = errors.New("telemetry: nil sample sink")
	// ErrInvalidLogEntry is returned when a log row lacks vehicle or timestamp.
	ErrInvalidLogEntry = errors.New("telemetry: invalid log entry")
)
