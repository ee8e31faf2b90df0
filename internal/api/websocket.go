package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/scada-hub/internal/infrastructure/config"
	"github.com/nerrad567/scada-hub/internal/infrastructure/logging"
)

// WebSocket constants.
const (
	WSTypePing = "ping"
	WSTypePong = "pong"

	// wsSendBufferSize is the per-client outbound message buffer size.
	// One tick produces one message per controller.
	wsSendBufferSize = 256

	// wsLogPreview caps how much of an incoming message is logged.
	wsLogPreview = 256

	defaultMaxMessageSize = 8192
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
)

// WSMessage is the envelope of client-to-server control messages.
type WSMessage struct {
	Type string `json:"type"`
}

// pongMessage is the reply to a ping.
var pongMessage = mustMarshal(WSMessage{Type: WSTypePong})

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Hub tracks connected WebSocket clients and pushes tick messages to all of
// them.
type Hub struct {
	maxMessageSize int64
	pingInterval   time.Duration
	pongWait       time.Duration
	logger         *logging.Logger

	clients map[*wsClient]struct{}
	closed  bool
	mu      sync.RWMutex
}

// wsClient represents a connected WebSocket client.
type wsClient struct {
	id     string
	remote string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// The push channel is read-only telemetry
		return true
	},
}

// NewHub creates a new WebSocket hub. Zero values in cfg fall back to
// defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	h := &Hub{
		maxMessageSize: int64(cfg.MaxMessageSize),
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongWait:       time.Duration(cfg.PongTimeout) * time.Second,
		logger:         logger,
		clients:        make(map[*wsClient]struct{}),
	}
	if h.maxMessageSize <= 0 {
		h.maxMessageSize = defaultMaxMessageSize
	}
	if h.pingInterval <= 0 {
		h.pingInterval = defaultPingInterval
	}
	if h.pongWait <= 0 {
		h.pongWait = defaultPongTimeout
	}
	return h
}

// Run blocks until the context is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// register adds a client to the hub. It returns false once the hub has shut
// down.
func (h *Hub) register(client *wsClient) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[client] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Info("websocket client connected",
		"client_id", client.id,
		"remote", client.remote,
		"clients", count,
	)
	return true
}

// unregister removes a client from the hub.
// The send channel is closed under the hub lock, and only by the goroutine
// that removed the client, so no sender can hit a closed channel.
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	if existed {
		delete(h.clients, client)
		close(client.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	if existed {
		h.logger.Info("websocket client disconnected",
			"client_id", client.id,
			"remote", client.remote,
			"clients", count,
		)
	}
}

// Broadcast queues payload for every connected client. A client whose buffer
// is full misses this message; nobody waits on a slow client.
//
// The controller argument is unused: every client receives every message.
// It lets Hub serve as a simulation broadcaster.
func (h *Hub) Broadcast(_ string, payload []byte) error {
	// Sends never block. The read lock is held across them so unregister
	// and closeAll cannot close a channel mid-send.
	h.mu.RLock()
	total := len(h.clients)
	dropped := 0
	for client := range h.clients {
		if !client.trySend(payload) {
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		h.logger.Debug("broadcast dropped for slow clients", "dropped", dropped, "clients", total)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &wsClient{
		id:     uuid.NewString(),
		remote: r.RemoteAddr,
		hub:    s.hub,
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
	}

	if !s.hub.register(client) {
		//nolint:errcheck // Best-effort close of a connection we will not serve
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	deadline := c.hub.pingInterval + c.hub.pongWait
	c.conn.SetReadLimit(c.hub.maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(deadline))
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.hub.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage logs an incoming message and answers pings. Anything else
// is ignored: the push channel carries no commands.
func (c *wsClient) handleMessage(data []byte) {
	preview := data
	if len(preview) > wsLogPreview {
		preview = preview[:wsLogPreview]
	}
	c.hub.logger.Info("websocket message received", "client_id", c.id, "message", string(preview))

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type == WSTypePing {
		c.hub.sendTo(c, pongMessage)
	}
}

// sendTo queues data for one client if it is still registered.
func (h *Hub) sendTo(c *wsClient, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}
	return c.trySend(data)
}

// trySend queues data without blocking and reports false if the buffer is
// full. Caller must hold h.mu and have checked the client is registered.
func (c *wsClient) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
