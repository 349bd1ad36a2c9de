package hub

import (
	"sync"

	"go.uber.org/zap"
)

// Broadcaster is the surface the HTTP layer uses to push change events
// to subscribed clients. Defined as an interface so handlers can be
// tested with a recording fake.
type Broadcaster interface {
	BroadcastRoom(roomID string, data []byte)
	BroadcastAll(data []byte)
}

// Hub tracks the websocket subscribers per room and fans events out to
// them. Frames tagged with a room go to that room's subscribers only;
// untagged frames (reaction and room table changes) go to everyone.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*wsClient]bool
	clients map[*wsClient]bool

	register   chan *wsClient
	unregister chan *wsClient
	done       chan struct{}

	logger *zap.Logger
}

// NewHub creates a new websocket hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*wsClient]bool),
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run is the hub's registration loop. Started with `go hub.Run()`.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		case <-h.done:
			return
		}
	}
}

// Shutdown closes all client connections and stops the loop.
func (h *Hub) Shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*wsClient]bool)
	h.rooms = make(map[string]map[*wsClient]bool)
	h.logger.Info("hub shut down, all connections closed")
}

func (h *Hub) addClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if _, ok := h.rooms[c.roomID]; !ok {
		h.rooms[c.roomID] = make(map[*wsClient]bool)
	}
	h.rooms[c.roomID][c] = true
	h.logger.Info("client subscribed",
		zap.String("user", c.email),
		zap.String("room", c.roomID),
		zap.Int("room_subscribers", len(h.rooms[c.roomID])))
}

func (h *Hub) removeClient(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	if subs, ok := h.rooms[c.roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.rooms, c.roomID)
		}
	}
	close(c.send)
	h.logger.Info("client unsubscribed",
		zap.String("user", c.email),
		zap.String("room", c.roomID))
}

// BroadcastRoom sends a frame to every subscriber of one room.
func (h *Hub) BroadcastRoom(roomID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		h.deliver(c, data)
	}
}

// BroadcastAll sends a frame to every connected client.
func (h *Hub) BroadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.deliver(c, data)
	}
}

// relayTyping forwards a typing frame to the sender's room, excluding
// the sender. Typing signals are never persisted.
func (h *Hub) relayTyping(from *wsClient, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[from.roomID] {
		if c == from {
			continue
		}
		h.deliver(c, data)
	}
}

func (h *Hub) deliver(c *wsClient, data []byte) {
	select {
	case c.send <- data:
	default:
		// Slow client: drop the connection rather than block the hub.
		go func() { h.unregister <- c }()
	}
}
