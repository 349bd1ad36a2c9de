package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 64 * 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The hub is self-hosted; same-origin policy is enforced by the
		// token, not the Origin header.
		return true
	},
}

// wsClient is one websocket subscription: a single user subscribed to a
// single room's change + broadcast streams.
type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	email  string
	roomID string
	send   chan []byte
	logger *zap.Logger
}

// serveWS upgrades the request and registers the subscription. Blocks
// until the connection closes.
func serveWS(h *Hub, w http.ResponseWriter, r *http.Request, email, roomID string, logger *zap.Logger) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.String("user", email), zap.Error(err))
		return
	}

	c := &wsClient{
		hub:    h,
		conn:   conn,
		email:  email,
		roomID: roomID,
		send:   make(chan []byte, sendBufferSize),
		logger: logger,
	}
	h.register <- c

	// Confirm the subscription before any change frames arrive.
	if hello, err := wire.EncodeHello(roomID); err == nil {
		c.send <- hello
	}

	go c.writePump()
	c.readPump()
}

// readPump reads inbound frames until the connection drops. The only
// inbound frames the hub accepts are typing signals, which it relays to
// the room without persisting.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.String("user", c.email), zap.Error(err))
			}
			return
		}

		frame, err := wire.ParseFrame(data)
		if err != nil || frame.Op != wire.OpTyping || frame.Typing == nil {
			continue
		}
		// Stamp the sender identity; clients cannot spoof each other.
		frame.Typing.UserEmail = c.email
		frame.Typing.RoomID = c.roomID
		if out, err := wire.EncodeTyping(frame.Typing); err == nil {
			c.hub.relayTyping(c, out)
		}
	}
}

// writePump writes outbound frames and keepalive pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
