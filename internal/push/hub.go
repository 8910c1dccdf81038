// Package push implements the dashboard's event hint channel over
// websockets. The channel is a convenience to cut poll latency; it is not
// authoritative. Clients must treat API GETs as the source of truth and use
// events only as a signal to re-fetch.
package push

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/docket_engine/infrastructure/logging"
	"github.com/R3E-Network/docket_engine/infrastructure/metrics"
)

// Event kinds.
const (
	EventCaseAdded         = "case_added"
	EventCaseRemoved       = "case_removed"
	EventCaseStatusChanged = "case_status_changed"
	EventFileStatusChanged = "file_status_changed"
)

// Event is one push message.
type Event struct {
	Kind   string    `json:"kind"`
	CaseID string    `json:"case_id"`
	Status string    `json:"status,omitempty"`
	File   string    `json:"file,omitempty"`
	TS     time.Time `json:"ts"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 32
	maxMessageSize = 512
)

// Hub fans events out to connected websocket clients.
type Hub struct {
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Event
}

// NewHub creates a push hub.
func NewHub(logger *logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: m,
		clients: make(map[string]*client),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is same-origin behind the reverse proxy; cross-origin
	// access control happens at the CORS layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &client{
		id:   uuid.New().String(),
		conn: conn,
		send: make(chan Event, clientBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.PushClients.Set(float64(count))
	}
	h.logger.WithFields(map[string]interface{}{"client": c.id, "clients": count}).Info("Push client connected")

	go h.writePump(c)
	go h.readPump(c)
}

// Broadcast sends an event to every connected client. Clients that cannot
// keep up are dropped; they will reconnect and re-fetch via GET, which is
// authoritative anyway.
func (h *Hub) Broadcast(event Event) {
	if event.TS.IsZero() {
		event.TS = time.Now().UTC()
	}

	h.mu.RLock()
	stale := make([]*client, 0)
	for _, c := range h.clients {
		select {
		case c.send <- event:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.logger.WithFields(map[string]interface{}{"client": c.id}).Warn("Dropping slow push client")
		h.remove(c)
	}
}

// Close disconnects all clients and stops accepting new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
	if h.metrics != nil {
		h.metrics.PushClients.Set(0)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, present := h.clients[c.id]
	if present {
		delete(h.clients, c.id)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if present && h.metrics != nil {
		h.metrics.PushClients.Set(float64(count))
	}
}

// writePump drains the client's send channel onto the connection.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump consumes control frames; clients never send data messages.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
