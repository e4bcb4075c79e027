// Package hub fans the reconciled dashboard view out to connected operator
// UIs over WebSocket. Each client gets the current snapshot on connect and
// every update after that.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"faceconsole/internal/metrics"
	"faceconsole/internal/reconcile"
)

const (
	writeWait  = 10 * time.Second
	readWait   = 75 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 16
	maxClients = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Operator UIs are served from other origins in development.
	CheckOrigin: func(*http.Request) bool { return true },
}

// frame mirrors the upstream push protocol so operator UIs speak one shape
// end to end.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub tracks connected dashboards and broadcasts snapshots.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	latest  []byte
	closed  bool
}

func New() *Hub {
	return &Hub{clients: make(map[string]*client)}
}

// Publish broadcasts a snapshot to every connected client and remembers it
// for clients that connect later. Clients that cannot keep up are dropped.
func (h *Hub) Publish(snap reconcile.Snapshot) {
	data, err := json.Marshal(frame{Type: "snapshot", Data: snap})
	if err != nil {
		log.Printf("hub: marshal snapshot: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.latest = data
	for id, c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropLocked(id)
		}
	}
}

// ClientCount returns the number of connected dashboards.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve upgrades the request and runs the connection until the client
// leaves or the hub closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if len(h.clients) >= maxClients {
		h.mu.Unlock()
		http.Error(w, "too many dashboards", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade failed: %v", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	greeting, _ := json.Marshal(frame{Type: "connected", Data: map[string]string{"client_id": c.id}})

	h.mu.Lock()
	h.clients[c.id] = c
	c.send <- greeting
	if h.latest != nil {
		c.send <- h.latest
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.DashboardClients.Set(float64(n))

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client. Serve rejects new ones afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id := range h.clients {
		h.dropLocked(id)
	}
	h.mu.Unlock()
	metrics.DashboardClients.Set(0)
}

// dropLocked removes a client; callers hold h.mu.
func (h *Hub) dropLocked(id string) {
	c, ok := h.clients[id]
	if !ok {
		return
	}
	delete(h.clients, id)
	close(c.send)
}

func (h *Hub) drop(id string) {
	h.mu.Lock()
	h.dropLocked(id)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.DashboardClients.Set(float64(n))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.drop(c.id)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readWait))

		// JSON ping keeps browser clients alive without WebSocket pings.
		var f frame
		if json.Unmarshal(msg, &f) == nil && f.Type == "ping" {
			pong, _ := json.Marshal(frame{Type: "pong"})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
