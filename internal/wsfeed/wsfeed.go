// Package wsfeed streams correlated events to connected clients over
// websocket, adapted from the teacher's dag-update streamer: one hub
// fanning out JSON-encoded messages to a registry of live connections, each
// with its own buffered outbound channel so a slow reader never blocks the
// recorder's single writer thread.
package wsfeed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outboxSize bounds how many pending messages a slow client can accumulate
// before the hub drops further messages for it rather than blocking.
const outboxSize = 256

// Hub fans out events to every currently connected client.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	log     *slog.Logger
}

type client struct {
	conn   *websocket.Conn
	outbox chan []byte
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{clients: make(map[*client]struct{}), log: log}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection with the hub until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, outbox: make(chan []byte, outboxSize)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(c)
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	for msg := range c.outbox {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.outbox)
		_ = c.conn.Close()
	}
	h.mu.Unlock()
}

// Broadcast marshals v to JSON and sends it to every connected client,
// without blocking: a client whose outbox is full misses this message and
// stays connected.
func (h *Hub) Broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		h.log.Warn("wsfeed: marshal failed", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.outbox <- b:
		default:
			h.log.Warn("wsfeed: client outbox full, dropping message")
		}
	}
}

// ClientCount reports how many clients are currently connected, for tests
// and metrics.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
