package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/session-service/internal/config"
	"github.com/weiawesome/wes-io-live/session-service/internal/domain"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
)

// DisconnectHandler is called when a client disconnects.
type DisconnectHandler func(*Client)

// Client represents a connected WebSocket client. Identity is fixed at
// upgrade time.
type Client struct {
	ID       string
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Identity domain.Identity
	Logger   zerolog.Logger

	disconnectHandler DisconnectHandler

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client for conn. conn may be nil for clients that are
// never pumped, such as in tests.
func NewClient(h *Hub, id string, conn *websocket.Conn, identity domain.Identity, logger zerolog.Logger) *Client {
	size := h.config.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:       id,
		Hub:      h,
		Conn:     conn,
		Send:     make(chan []byte, size),
		Identity: identity,
		Logger:   logger,
	}
}

// SetDisconnectHandler sets the handler to be called on disconnect.
func (c *Client) SetDisconnectHandler(handler DisconnectHandler) {
	c.disconnectHandler = handler
}

// enqueue queues data without blocking. It reports false when the buffer is
// full or the client is already closed.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// SendMessage sends a message to this client only.
func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		c.Hub.evict(c)
	}
	return nil
}

// Hub manages the WebSocket connections held by this process and the rooms
// they have joined. Delivery is local only; cross-process delivery is layered
// on top by the fanout package.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client // videoID -> clientID -> client
	mu      sync.RWMutex
	config  config.WebSocketConfig

	slow chan *Client
}

// NewHub creates a new Hub.
func NewHub(cfg config.WebSocketConfig) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		config:  cfg,
		slow:    make(chan *Client, 64),
	}
}

// Run drops clients whose send buffers overflowed until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.slow:
			client.Logger.Warn().Msg("send buffer full, dropping client")
			h.Unregister(client)
			if client.Conn != nil {
				client.Conn.Close()
			}
		}
	}
}

func (h *Hub) evict(c *Client) {
	select {
	case h.slow <- c:
	default:
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()
	client.Logger.Info().Msg("client registered")
}

// Unregister removes a client from the hub and every room. Safe to call
// more than once.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; ok {
		for videoID, members := range h.rooms {
			delete(members, client.ID)
			if len(members) == 0 {
				delete(h.rooms, videoID)
			}
		}
		delete(h.clients, client.ID)
	}
	h.mu.Unlock()

	client.close()
	client.Logger.Info().Msg("client unregistered")
}

// JoinRoom adds a client to a room's broadcast group.
func (h *Hub) JoinRoom(client *Client, videoID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[videoID]; !ok {
		h.rooms[videoID] = make(map[string]*Client)
	}
	h.rooms[videoID][client.ID] = client
	client.Logger.Info().Str(log.FieldVideoID, videoID).Msg("client joined room")
}

// LeaveRoom removes a client from a room's broadcast group.
func (h *Hub) LeaveRoom(client *Client, videoID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[videoID]; ok {
		delete(members, client.ID)
		if len(members) == 0 {
			delete(h.rooms, videoID)
		}
	}
	client.Logger.Info().Str(log.FieldVideoID, videoID).Msg("client left room")
}

// IsMember reports whether the client has joined the room.
func (h *Hub) IsMember(client *Client, videoID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[videoID][client.ID]
	return ok
}

// Client returns a registered client by id.
func (h *Hub) Client(clientID string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[clientID]
	return c, ok
}

// FindInRoom returns the first member of the room matching fn.
func (h *Hub) FindInRoom(videoID string, fn func(*Client) bool) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[videoID] {
		if fn(c) {
			return c
		}
	}
	return nil
}

// RoomSize returns the number of local members in a room.
func (h *Hub) RoomSize(videoID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[videoID])
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastRaw delivers already-encoded data to every local member of the
// room except exclude. Delivery happens before it returns, so messages keep
// the order in which handlers emitted them.
func (h *Hub) BroadcastRaw(videoID string, data []byte, exclude string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for clientID, client := range h.rooms[videoID] {
		if clientID == exclude {
			continue
		}
		if !client.enqueue(data) {
			h.evict(client)
		}
	}
}

// BroadcastToRoom encodes message and delivers it to the room's local members.
func (h *Hub) BroadcastToRoom(videoID string, message interface{}, exclude string) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	h.BroadcastRaw(videoID, data, exclude)
	return nil
}

// SendToClient sends a message to a specific client. Unknown ids are ignored.
func (h *Hub) SendToClient(clientID string, message interface{}) error {
	client, ok := h.Client(clientID)
	if !ok {
		return nil
	}
	return client.SendMessage(message)
}

// ReadPump pumps messages from the WebSocket connection to handler.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		// Call disconnect handler before unregistering
		if c.disconnectHandler != nil {
			c.disconnectHandler(c)
		}
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Hub.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Hub.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Logger.Error().Err(err).Msg("websocket error")
			}
			break
		}

		handler(c, message)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Hub.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
