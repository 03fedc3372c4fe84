package sse

import (
	"log"
	"net/http"

	"github.com/google/uuid"

	liveapp "vehicle-telemetry/internal/live/application"
)

const defaultQueueSize = 16

// StreamHandler serves a hub as a server-sent event stream.
type StreamHandler struct {
	hub       *liveapp.Hub
	event     string
	queueSize int
	logger    *log.Logger
}

// NewStreamHandler constructs a handler emitting events named event. Each
// client buffers at most queueSize pending payloads.
func NewStreamHandler(hub *liveapp.Hub, event string, queueSize int, logger *log.Logger) *StreamHandler {
	if logger == nil {
		logger = log.Default()
	}
	if event == "" {
		event = "message"
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &StreamHandler{hub: hub, event: event, queueSize: queueSize, logger: logger}
}

// ServeHTTP handles GET on a stream path.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.hub == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	queue := liveapp.NewQueue(uuid.NewString(), h.queueSize)
	h.hub.Register(queue)
	defer h.hub.Unregister(queue.ID())

	if _, err := w.Write([]byte("event: ready\ndata: {}\n\n")); err != nil {
		return
	}
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case payload := <-queue.Frames():
			if err := h.writeEvent(w, payload); err != nil {
				h.logger.Printf("sse %s: client %s gone: %v", h.event, queue.ID(), err)
				return
			}
			flusher.Flush()
		case <-queue.Done():
			return
		case <-notify:
			return
		}
	}
}

func (h *StreamHandler) writeEvent(w http.ResponseWriter, payload []byte) error {
	if _, err := w.Write([]byte("event: " + h.event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
