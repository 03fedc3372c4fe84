package rolling

import (
	"sync"
	"time"
)

// Timer gates one window. It is due once interval has elapsed since the last
// reset. Only the persistence scheduler resets it.
type Timer struct {
	mu        sync.Mutex
	interval  time.Duration
	lastFired time.Time
}

// NewTimer constructs a timer that starts counting at start.
func NewTimer(interval time.Duration, start time.Time) (*Timer, error) {
	if interval <= 0 {
		return nil, ErrInvalidDuration
	}
	return &Timer{interval: interval, lastFired: start}, nil
}

// Due reports whether the window should fire at now. A now before the last
// reset means the clock stepped back, which also counts as due.
func (t *Timer) Due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.Before(t.lastFired) {
		return true
	}
	return now.Sub(t.lastFired) >= t.interval
}

// Reset starts the next interval at now. Lateness is absorbed, not corrected.
func (t *Timer) Reset(now time.Time) {
	t.mu.Lock()
	t.lastFired = now
	t.mu.Unlock()
}

// LastFired returns the time of the last reset.
func (t *Timer) LastFired() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFired
}

// Interval returns the firing interval.
func (t *Timer) Interval() time.Duration { return t.interval }
