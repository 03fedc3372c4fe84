package rolling

import "errors"

var (
	// ErrInvalidHorizon is returned when a buffer horizon is not positive.
	ErrInvalidHorizon = errors.New("rolling: invalid horizon")
	// ErrInvalidDuration is returned when a window interval or duration is not positive.
	ErrInvalidDuration = errors.New("rolling: invalid window duration")
	// ErrUnknownWindow is returned for window names other than fast/slow.
	ErrUnknownWindow = errors.New("rolling: unknown window")
	// ErrEmptyFieldGroup is returned when a window has no valid fields.
	ErrEmptyFieldGroup = errors.New("rolling: empty field group")
	// ErrNilSource is returned when the engine has no sample source.
	ErrNilSource = errors.New("rolling: nil sample source")
	// ErrInvalidRecord is returned when a record cannot be stored.
	ErrInvalidRecord = errors.New("rolling: invalid record")
)
