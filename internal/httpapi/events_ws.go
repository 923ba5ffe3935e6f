package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scalepilot/autoscale/internal/realtime"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// eventsHub fans realtime.Event values out to every open /ws/events
// connection. It subscribes itself to the shared EventBus once and forwards
// whatever it receives to all registered websocket clients.
type eventsHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan realtime.Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	logger     *slog.Logger
	metrics    *metrics.APIMetrics
}

func newEventsHub(logger *slog.Logger, m *metrics.APIMetrics) *eventsHub {
	return &eventsHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan realtime.Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
		metrics:    m,
	}
}

// ID satisfies realtime.EventSubscriber so the hub can subscribe itself to
// the bus directly, without a per-connection subscriber object.
func (h *eventsHub) ID() string { return "ws-events-hub" }

func (h *eventsHub) Send(event realtime.Event) error {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("websocket broadcast channel full, dropping event", "type", event.Type)
	}
	return nil
}

func (h *eventsHub) Close() error { return nil }

func (h *eventsHub) Context() context.Context { return context.Background() }

// run drives registration and fan-out until ctx is canceled.
func (h *eventsHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.WebsocketConnections.Inc()
			}
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
				if h.metrics != nil {
					h.metrics.WebsocketConnections.Dec()
				}
			}
			h.mu.Unlock()
		case event := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.clients {
				go h.sendTo(conn, event)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *eventsHub) sendTo(conn *websocket.Conn, event realtime.Event) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(event); err != nil {
		h.unregister <- conn
	}
}

func (h *eventsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]bool)
}

// handleWebSocket upgrades GET /ws/events and registers the connection.
func (h *eventsHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.register <- conn
	go h.readPump(conn)
}

// readPump keeps the connection alive with pings and drains client frames;
// the feed is read-only, so any client message is ignored.
func (h *eventsHub) readPump(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
