package application

import (
	"errors"
	"log"
	"sync"
	"time"

	"vehicle-telemetry/internal/observability/metrics"
)

var (
	// ErrSubscriberClosed is returned by Send after the subscriber went away.
	ErrSubscriberClosed = errors.New("live: subscriber closed")
	// ErrFrameDropped is returned by Send when the subscriber's queue is full.
	// The subscriber stays registered.
	ErrFrameDropped = errors.New("live: frame dropped")
)

// Subscriber receives broadcast payloads. Send must not block.
type Subscriber interface {
	ID() string
	Send(payload []byte) error
	Close()
}

// Hub is the set of live subscribers of one stream.
type Hub struct {
	name   string
	logger *log.Logger

	mu   sync.RWMutex
	subs map[string]Subscriber
}

// NewHub constructs an empty hub. name labels its metrics.
func NewHub(name string, logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{name: name, logger: logger, subs: make(map[string]Subscriber)}
}

// Register adds a subscriber, replacing one with the same id.
func (h *Hub) Register(sub Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if old, ok := h.subs[sub.ID()]; ok && old != sub {
		old.Close()
	}
	h.subs[sub.ID()] = sub
	count := len(h.subs)
	h.mu.Unlock()
	metrics.SetSubscribers(h.name, count)
}

// Unregister removes and closes a subscriber. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	delete(h.subs, id)
	count := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return
	}
	sub.Close()
	metrics.SetSubscribers(h.name, count)
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast hands payload to every subscriber and returns how many accepted
// it. A subscriber whose Send fails for any reason other than a full queue
// is removed at once; the others are unaffected.
func (h *Hub) Broadcast(payload []byte) int {
	started := time.Now()

	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		err := sub.Send(payload)
		switch {
		case err == nil:
			delivered++
		case errors.Is(err, ErrFrameDropped):
			metrics.IncFrameDropped(h.name)
		default:
			h.logger.Printf("live %s: removing subscriber %s: %v", h.name, sub.ID(), err)
			metrics.IncSendFailure(h.name)
			h.remove(sub)
		}
	}
	metrics.ObserveBroadcast(time.Since(started))
	return delivered
}

// remove drops sub only if it is still the registered instance for its id.
func (h *Hub) remove(sub Subscriber) {
	h.mu.Lock()
	current, ok := h.subs[sub.ID()]
	if ok && current == sub {
		delete(h.subs, sub.ID())
	}
	count := len(h.subs)
	h.mu.Unlock()
	sub.Close()
	metrics.SetSubscribers(h.name, count)
}

// CloseAll closes and removes every subscriber.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]Subscriber)
	h.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	metrics.SetSubscribers(h.name, 0)
}
