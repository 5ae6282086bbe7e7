package push

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// clientBuffer caps each subscriber's pending events; events beyond it
// are dropped for that subscriber rather than stalling the emitter.
const clientBuffer = 64

const writeTimeout = 5 * time.Second

// envelope is the wire form of a pushed event.
type envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub broadcasts events to connected websocket subscribers. Emit never
// blocks: delivery is at-most-once and slow clients lose events.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger.WithField("component", "push_hub"),
		clients: make(map[*client]struct{}),
	}
}

// Emit marshals the event once and fans it out to every subscriber.
func (h *Hub) Emit(event string, payload any) {
	body, err := json.Marshal(envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Warn("marshal event failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- body:
		default:
			// Subscriber buffer full; drop for this client.
		}
	}
}

// Subscribers returns the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades an HTTP request into a push subscription and blocks until
// the peer disconnects.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("subscriber connected")

	go h.writeLoop(c)
	h.readLoop(c)
}

// readLoop drains control frames and detects disconnect.
func (h *Hub) readLoop(c *client) {
	defer h.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for body := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}
