package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	liveapp "vehicle-telemetry/internal/live/application"
)

const (
	defaultQueueSize = 16
	writeTimeout     = 10 * time.Second
	pongWait         = 60 * time.Second
	pingInterval     = 30 * time.Second
)

// Handler upgrades requests to websockets subscribed to a hub. Clients only
// receive; inbound messages are read and discarded to detect disconnects.
type Handler struct {
	hub       *liveapp.Hub
	upgrader  websocket.Upgrader
	queueSize int
	logger    *log.Logger
}

// NewHandler constructs a websocket handler for hub.
func NewHandler(hub *liveapp.Hub, queueSize int, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Handler{
		hub:       hub,
		queueSize: queueSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// ServeHTTP handles GET /ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.hub == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws: upgrade failed: %v", err)
		return
	}

	queue := liveapp.NewQueue(uuid.NewString(), h.queueSize)
	h.hub.Register(queue)
	h.logger.Printf("ws: client %s connected from %s", queue.ID(), r.RemoteAddr)

	go h.readLoop(conn, queue)
	h.writeLoop(conn, queue)

	h.hub.Unregister(queue.ID())
	_ = conn.Close()
	h.logger.Printf("ws: client %s disconnected", queue.ID())
}

// readLoop closes the queue once the peer goes away.
func (h *Handler) readLoop(conn *websocket.Conn, queue *liveapp.Queue) {
	defer queue.Close()
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, queue *liveapp.Queue) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case payload := <-queue.Frames():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				queue.Close()
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				queue.Close()
				return
			}
		case <-queue.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
