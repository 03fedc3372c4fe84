package rolling

import (
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// Result maps each field to its mean over a window. Fields without any present
// reading are omitted; an empty Result means nothing to persist.
type Result map[telemetry.Field]float64

// Empty reports whether the result holds no field.
func (r Result) Empty() bool { return len(r) == 0 }

// Get returns the mean of a field and whether it was computed.
func (r Result) Get(field telemetry.Field) (float64, bool) {
	value, ok := r[field]
	return value, ok
}

// Mean averages each field over the samples where it is present. It never
// substitutes zero for an absent reading.
func Mean(samples []telemetry.Sample, fields []telemetry.Field) Result {
	result := make(Result, len(fields))
	for _, field := range fields {
		var sum float64
		var count int
		for _, sample := range samples {
			reading := sample.Get(field)
			if !reading.Present {
				continue
			}
			sum += reading.Value
			count++
		}
		if count > 0 {
			result[field] = sum / float64(count)
		}
	}
	return result
}
