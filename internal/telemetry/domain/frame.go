package telemetry

import (
	"sync"
	"time"
)

// Frame is a consistent copy of the latest merged values.
type Frame struct {
	Values    map[string]string
	Connected bool
	UpdatedAt time.Time
}

// LatestFrame holds the most recently merged raw value of every key seen on the
// wire. It is written by the ingestion path and read by the broadcaster.
//
// Connected becomes true on the first merged field and stays true for the life
// of the process: it records that real data has been received at least once.
type LatestFrame struct {
	mu        sync.RWMutex
	values    map[string]string
	connected bool
	updatedAt time.Time
}

// NewLatestFrame constructs an empty frame.
func NewLatestFrame() *LatestFrame {
	return &LatestFrame{values: make(map[string]string)}
}

// Merge applies pairs and builds a Sample from the full merged state, so fields
// reported on earlier lines are carried into this sample. It reports false when
// no pair was applied.
func (f *LatestFrame) Merge(pairs []Pair, at time.Time) (Sample, bool) {
	if f == nil || len(pairs) == 0 {
		return Sample{}, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, pair := range pairs {
		f.values[pair.Key] = pair.Value
	}
	f.connected = true
	f.updatedAt = at

	readings := make(map[Field]Reading, len(Fields))
	for key, raw := range f.values {
		field, ok := FieldForKey(key)
		if !ok {
			continue
		}
		reading := ParseReading(raw)
		if !reading.Present {
			// an alias may already have supplied a usable value
			if _, seen := readings[field]; seen {
				continue
			}
		}
		readings[field] = reading
	}
	// keys on this line win over stale aliases of the same field
	for _, pair := range pairs {
		field, ok := FieldForKey(pair.Key)
		if !ok {
			continue
		}
		if reading := ParseReading(pair.Value); reading.Present {
			readings[field] = reading
		}
	}
	return NewSample(at, readings), true
}

// Snapshot copies the current state.
func (f *LatestFrame) Snapshot() Frame {
	if f == nil {
		return Frame{Values: map[string]string{}}
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	values := make(map[string]string, len(f.values))
	for key, value := range f.values {
		values[key] = value
	}
	return Frame{Values: values, Connected: f.connected, UpdatedAt: f.updatedAt}
}

// Connected reports whether any field has ever been merged.
func (f *LatestFrame) Connected() bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}
