package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/wagate/pkg/bus"
	"github.com/sipeed/wagate/pkg/logger"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 512
	wsOpTimeout  = 15 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin requests have no Origin header
		}
		if isAllowedOrigin(origin) {
			return true
		}
		logger.WarnCF("ws", "Rejected WebSocket from disallowed origin", map[string]interface{}{"origin": origin})
		return false
	},
}

// WSClient is one connected WebSocket observer.
type WSClient struct {
	conn *websocket.Conn
	obs  *bus.Observer
	hub  *WSHub
	once sync.Once
}

// WSHub tracks WebSocket observers. Each client is its own broadcaster
// observer, so replay on connect and slow-client handling come from pkg/bus.
type WSHub struct {
	server  *Server
	mu      sync.Mutex
	clients map[*WSClient]struct{}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(server *Server) *WSHub {
	return &WSHub{
		server:  server,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run closes every client when ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) {
	<-ctx.Done()
	h.CloseAll()
}

// CloseAll disconnects every client.
func (h *WSHub) CloseAll() {
	h.mu.Lock()
	clients := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

// Count returns the number of connected clients.
func (h *WSHub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket handles WebSocket upgrade requests. The upgrade request went
// through authMiddleware, so the connection is trusted from here on.
func (h *WSHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.ErrorCF("ws", "WebSocket upgrade failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	client := &WSClient{
		conn: conn,
		obs:  h.server.app.Observers.Attach("ws:" + r.RemoteAddr),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	logger.DebugCF("ws", "Client connected", map[string]interface{}{"remote": r.RemoteAddr})

	go client.writePump()
	go client.readPump()
}

// handleClientMessage runs an operator command sent over the stream.
func (h *WSHub) handleClientMessage(raw []byte) {
	var msg bus.ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.DebugCF("ws", "Ignoring malformed client message", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsOpTimeout)
	defer cancel()

	c := h.server.app
	switch strings.TrimSpace(msg.Type) {
	case bus.ClientRefreshQR:
		if err := c.Session.RefreshQR(ctx); err != nil {
			c.Book.Warning("Could not refresh QR code: " + err.Error())
		}
	case bus.ClientClearLogs:
		if err := c.Book.Clear(ctx); err != nil {
			logger.WarnCF("ws", "Clearing logs failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	default:
		logger.DebugCF("ws", "Unknown client message", map[string]interface{}{"type": msg.Type})
	}
}

// --- Client methods ---

func (c *WSClient) close() {
	c.once.Do(func() {
		c.hub.mu.Lock()
		delete(c.hub.clients, c)
		c.hub.mu.Unlock()
		c.hub.server.app.Observers.Detach(c.obs)
		c.conn.Close()
		logger.DebugC("ws", "Client disconnected")
	})
}

func (c *WSClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(wsReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.hub.handleClientMessage(raw)
	}
}

// writePump is the only writer on the connection. One event per frame.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	events := c.obs.Events()
	for {
		select {
		case ev, ok := <-events:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
