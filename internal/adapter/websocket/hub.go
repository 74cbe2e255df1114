// Package websocket streams alert events to connected dashboards.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/couchcryptid/sensor-hazard-monitor/internal/domain"
	"github.com/couchcryptid/sensor-hazard-monitor/internal/observability"
	"github.com/gorilla/websocket"
)

const (
	broadcastBuffer = 64
	clientBuffer    = 16
)

// ErrHubStopped is returned by Publish after Run has returned.
var ErrHubStopped = errors.New("websocket hub stopped")

// Envelope is the frame sent to clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub tracks connected clients and fans messages out to them. All client
// bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}
	count      atomic.Int32

	upgrader websocket.Upgrader
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewHub creates a Hub. Call Run to start it.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from other origins on the local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		metrics: metrics,
	}
}

// Run services registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Debug("websocket client connected", "remote", c.conn.RemoteAddr().String())

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("websocket client disconnected", "remote", c.conn.RemoteAddr().String())
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.logger.Warn("websocket client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int32(len(h.clients)))
	h.metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Publish implements alert.Sink. It never blocks: when the broadcast backlog
// is full the event is dropped and an error returned.
func (h *Hub) Publish(_ context.Context, event domain.AlertEvent) error {
	msg, err := json.Marshal(Envelope{Type: "alert", Payload: event})
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	select {
	case h.broadcast <- msg:
		return nil
	default:
		return errors.New("websocket broadcast backlog full")
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
