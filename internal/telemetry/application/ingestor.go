package application

import (
	"log"
	"strings"
	"time"

	"vehicle-telemetry/internal/observability/metrics"
	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// SampleSink receives every sample built from a parsed line.
type SampleSink interface {
	Append(sample telemetry.Sample, now time.Time)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// Now keeps the monotonic reading so wall clock steps do not reorder samples.
func (systemClock) Now() time.Time { return time.Now() }

// Ingestor turns raw lines into frame updates and buffered samples.
type Ingestor struct {
	frame  *telemetry.LatestFrame
	sink   SampleSink
	clock  Clock
	logger *log.Logger
}

// NewIngestor constructs an ingestor. A nil clock uses the wall clock.
func NewIngestor(frame *telemetry.LatestFrame, sink SampleSink, clock Clock, logger *log.Logger) (*Ingestor, error) {
	if frame == nil {
		return nil, telemetry.ErrNilFrame
	}
	if sink == nil {
		return nil, telemetry.ErrNilSink
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Ingestor{frame: frame, sink: sink, clock: clock, logger: logger}, nil
}

// HandleLine merges one line and appends its sample. It reports whether a
// sample was produced; wholly malformed and blank lines produce none.
func (i *Ingestor) HandleLine(line string) bool {
	pairs := telemetry.ParseLine(line)
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		metrics.AddDroppedSegments(strings.Count(trimmed, ",") + 1 - len(pairs))
	}

	now := i.clock.Now()
	sample, ok := i.frame.Merge(pairs, now)
	metrics.IncLine(ok)
	if !ok {
		return false
	}
	i.sink.Append(sample, now)
	return true
}

// Frame returns the frame the ingestor writes to.
func (i *Ingestor) Frame() *telemetry.LatestFrame { return i.frame }
