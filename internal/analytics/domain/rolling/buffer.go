package rolling

import (
	"sort"
	"sync"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

// Buffer retains samples for a fixed horizon. Samples are kept in
// non-decreasing timestamp order; expired samples are trimmed from the head on
// every append.
type Buffer struct {
	mu      sync.RWMutex
	horizon time.Duration
	samples []telemetry.Sample
	head    int
}

// NewBuffer constructs a buffer with the given retention horizon.
func NewBuffer(horizon time.Duration) (*Buffer, error) {
	if horizon <= 0 {
		return nil, ErrInvalidHorizon
	}
	return &Buffer{horizon: horizon, samples: make([]telemetry.Sample, 0, 64)}, nil
}

// Horizon returns the retention horizon.
func (b *Buffer) Horizon() time.Duration { return b.horizon }

// Append adds a sample at the tail and prunes with now. A sample older than
// the current tail is clamped to the tail timestamp to keep the order. When
// now itself is before the tail the clock stepped back; retained samples are
// dropped so none is newer than now.
func (b *Buffer) Append(sample telemetry.Sample, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n := len(b.samples); n > b.head {
		tail := b.samples[n-1].At
		switch {
		case now.Before(tail):
			b.reset()
		case sample.At.Before(tail):
			sample.At = tail
		}
	}
	b.samples = append(b.samples, sample)
	b.prune(now)
}

// Prune drops every sample at or before now minus the horizon.
func (b *Buffer) Prune(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prune(now)
}

func (b *Buffer) reset() {
	clear(b.samples)
	b.samples = b.samples[:0]
	b.head = 0
}

func (b *Buffer) prune(now time.Time) {
	cutoff := now.Add(-b.horizon)
	for b.head < len(b.samples) && !b.samples[b.head].At.After(cutoff) {
		b.samples[b.head] = telemetry.Sample{}
		b.head++
	}
	if b.head == len(b.samples) {
		b.samples = b.samples[:0]
		b.head = 0
		return
	}
	if b.head > 0 && b.head >= len(b.samples)/2 {
		remaining := len(b.samples) - b.head
		copy(b.samples, b.samples[b.head:])
		for i := remaining; i < len(b.samples); i++ {
			b.samples[i] = telemetry.Sample{}
		}
		b.samples = b.samples[:remaining]
		b.head = 0
	}
}

// SnapshotSince copies, in order, every sample newer than now minus d. The
// buffer is not modified.
func (b *Buffer) SnapshotSince(now time.Time, d time.Duration) []telemetry.Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()

	live := b.samples[b.head:]
	cutoff := now.Add(-d)
	start := sort.Search(len(live), func(i int) bool { return live[i].At.After(cutoff) })
	if start == len(live) {
		return nil
	}
	out := make([]telemetry.Sample, len(live)-start)
	copy(out, live[start:])
	return out
}

// Len returns the number of retained samples.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.samples) - b.head
}
