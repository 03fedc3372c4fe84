package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	telemetry "vehicle-telemetry/internal/telemetry/domain"
)

const (
	// MinTick and MaxTick bound the broadcast cadence.
	MinTick = 16 * time.Millisecond
	MaxTick = 50 * time.Millisecond

	// DefaultTick is roughly 30 frames per second.
	DefaultTick = 33 * time.Millisecond

	keyConnected = "connected"
	keyTime      = "time"
	timeLayout   = "15:04:05"
)

// ErrInvalidTick is returned for a cadence outside [MinTick, MaxTick].
var ErrInvalidTick = errors.New("live: broadcast tick out of range")

// FrameSource yields a consistent copy of the latest frame.
type FrameSource interface {
	Snapshot() telemetry.Frame
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type localClock struct{}

func (localClock) Now() time.Time { return time.Now() }

// Broadcaster pushes the latest frame to a hub at a fixed cadence,
// independent of how often lines arrive.
type Broadcaster struct {
	source FrameSource
	hub    *Hub
	tick   time.Duration
	clock  Clock
	logger *log.Logger
}

// NewBroadcaster constructs a broadcaster. A nil clock uses local wall time.
func NewBroadcaster(source FrameSource, hub *Hub, tick time.Duration, clock Clock, logger *log.Logger) (*Broadcaster, error) {
	if source == nil {
		return nil, telemetry.ErrNilFrame
	}
	if hub == nil {
		return nil, errors.New("live: nil hub")
	}
	if tick < MinTick || tick > MaxTick {
		return nil, ErrInvalidTick
	}
	if clock == nil {
		clock = localClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{source: source, hub: hub, tick: tick, clock: clock, logger: logger}, nil
}

// Run broadcasts on every tick until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick sends one frame and returns how many subscribers accepted it.
// Nothing is rendered while the hub is empty.
func (b *Broadcaster) Tick() int {
	if b.hub.Len() == 0 {
		return 0
	}
	payload, err := RenderFrame(b.source.Snapshot(), b.clock.Now())
	if err != nil {
		b.logger.Printf("live broadcaster: render error: %v", err)
		return 0
	}
	return b.hub.Broadcast(payload)
}

// RenderFrame encodes a frame as the flat live message: every known key's
// raw value plus "connected" and a local "time" of the form HH:MM:SS.
func RenderFrame(frame telemetry.Frame, now time.Time) ([]byte, error) {
	message := make(map[string]any, len(frame.Values)+2)
	for key, value := range frame.Values {
		message[key] = value
	}
	message[keyConnected] = frame.Connected
	message[keyTime] = now.Local().Format(timeLayout)
	return json.Marshal(message)
}
