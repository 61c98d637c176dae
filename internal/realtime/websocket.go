package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 16
)

// StatusHub broadcasts document status events to connected websocket
// clients. Clients are read-only consumers; inbound frames beyond
// control messages are discarded.
type StatusHub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[*statusClient]struct{}
}

type statusClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewStatusHub creates a hub. Wire it to NATS with
// client.SubscribeStatus(hub.Broadcast).
func NewStatusHub(logger *slog.Logger) *StatusHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  logger.With("component", "status_hub"),
		clients: map[*statusClient]struct{}{},
	}
}

// Broadcast sends a status event to every connected client. Clients too
// slow to drain their buffer are dropped.
func (h *StatusHub) Broadcast(event DocumentStatusEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal status event", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*statusClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client")
			h.remove(c)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *StatusHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams status events until the
// client disconnects.
func (h *StatusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "error", err)
		return
	}

	client := &statusClient{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("websocket client connected", "remote", r.RemoteAddr)

	go h.writePump(client)
	go h.readPump(client)
}

// Shutdown closes every client connection.
func (h *StatusHub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*statusClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*statusClient]struct{}{}
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
}

func (h *StatusHub) remove(c *statusClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *StatusHub) readPump(c *statusClient) {
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket client disconnected unexpectedly", "error", err)
			}
			return
		}
	}
}

func (h *StatusHub) writePump(c *statusClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
