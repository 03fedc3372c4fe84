package application

import "sync"

// Queue is a Subscriber backed by a bounded channel. A transport drains
// Frames on its own goroutine, so per-subscriber order is send order.
type Queue struct {
	id     string
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewQueue constructs a queue holding at most size pending frames.
func NewQueue(id string, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{id: id, frames: make(chan []byte, size), done: make(chan struct{})}
}

// ID returns the subscriber id.
func (q *Queue) ID() string { return q.id }

// Send enqueues payload without blocking.
func (q *Queue) Send(payload []byte) error {
	select {
	case <-q.done:
		return ErrSubscriberClosed
	default:
	}
	select {
	case q.frames <- payload:
		return nil
	case <-q.done:
		return ErrSubscriberClosed
	default:
		return ErrFrameDropped
	}
}

// Close marks the queue closed. It is safe to call more than once.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
}

// Frames yields queued payloads.
func (q *Queue) Frames() <-chan []byte { return q.frames }

// Done is closed by Close.
func (q *Queue) Done() <-chan struct{} { return q.done }
