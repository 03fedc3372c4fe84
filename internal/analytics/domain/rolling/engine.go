package rolling

import (
	"sync"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// SampleSource gives read-only access to buffered samples.
type SampleSource interface {
	SnapshotSince(now time.Time, d time.Duration) []telemetry.Sample
}

// Engine computes window means over a shared sample source.
//
// Each window keeps a cursor at the newest sample it has already averaged.
// A pass only sees samples after the cursor, so firing a window twice without
// new input yields an empty second result.
type Engine struct {
	source SampleSource
	specs  map[Window]Spec

	mu     sync.Mutex
	cursor map[Window]time.Time
}

// NewEngine constructs an engine for the given window specs.
func NewEngine(source SampleSource, specs ...Spec) (*Engine, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if len(specs) == 0 {
		specs = DefaultSpecs()
	}
	byWindow := make(map[Window]Spec, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		byWindow[spec.Window] = spec
	}
	return &Engine{
		source: source,
		specs:  byWindow,
		cursor: make(map[Window]time.Time, len(byWindow)),
	}, nil
}

// Spec returns the spec for a window.
func (e *Engine) Spec(window Window) (Spec, bool) {
	spec, ok := e.specs[window]
	return spec, ok
}

// Compute averages the window's field group over samples newer than
// now minus the window duration and marks them as consumed for that window.
func (e *Engine) Compute(window Window, now time.Time) (Result, error) {
	spec, ok := e.specs[window]
	if !ok {
		return nil, ErrUnknownWindow
	}

	samples := e.source.SnapshotSince(now, spec.Duration)

	e.mu.Lock()
	defer e.mu.Unlock()

	cursor := e.cursor[window]
	if cursor.After(now) {
		// Clock stepped back past the last pass.
		cursor = time.Time{}
	}
	start := 0
	for start < len(samples) && !samples[start].At.After(cursor) {
		start++
	}
	samples = samples[start:]
	if len(samples) == 0 {
		return Result{}, nil
	}
	e.cursor[window] = samples[len(samples)-1].At
	return Mean(samples, spec.Fields), nil
}
