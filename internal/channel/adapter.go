// Package channel maintains the realtime websocket subscription for the
// active room and translates raw frames into typed bus events. It owns
// reconnection: a dropped connection is redialed with backoff for as
// long as the subscription generation it was started under is current.
package channel

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mentorchat/mentorchat/internal/bus"
	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

// Bus event kinds published by the adapter.
const (
	KindMessageInsert = "message.insert" // payload *wire.Message
	KindMessageUpdate = "message.update" // payload *wire.Message
	KindMessageDelete = "message.delete" // payload *wire.Message (old row)
	KindReactions     = "reaction.changed"
	KindRooms         = "rooms.changed"
	KindTyping        = "typing.signal" // payload *wire.TypingSignal
	KindUp            = "channel.up"
	KindDown          = "channel.down"
)

const (
	dialTimeout    = 10 * time.Second
	writeWait      = 10 * time.Second
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Adapter is the client end of the hub's realtime channel. One room
// subscription is live at a time; Subscribe supersedes the previous one.
type Adapter struct {
	serverURL string
	token     string
	bus       *bus.Bus
	logger    *zap.Logger

	mu     sync.Mutex
	gen    int
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// New creates an adapter. serverURL is the hub's HTTP base URL; token is
// the bearer token, passed as a query parameter on the dial.
func New(serverURL, token string, b *bus.Bus, logger *zap.Logger) *Adapter {
	return &Adapter{
		serverURL: strings.TrimRight(serverURL, "/"),
		token:     token,
		bus:       b,
		logger:    logger,
	}
}

// Subscribe switches the live subscription to the given room. Any
// previous subscription is torn down first; frames from it can no
// longer reach the bus even if its reader goroutine is still draining.
func (a *Adapter) Subscribe(roomID string) {
	a.mu.Lock()
	a.teardownLocked()
	a.gen++
	gen := a.gen
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	go a.run(ctx, gen, roomID)
}

// Teardown closes the live subscription. Safe to call when none exists.
func (a *Adapter) Teardown() {
	a.mu.Lock()
	a.teardownLocked()
	a.gen++
	a.mu.Unlock()
}

func (a *Adapter) teardownLocked() {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.conn != nil {
		_ = a.conn.Close()
		a.conn = nil
	}
}

// current reports whether gen is still the live subscription.
func (a *Adapter) current(gen int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen
}

// SendTyping broadcasts a typing signal over the live connection. Best
// effort: without a connection the signal is dropped, since typing
// state is ephemeral anyway.
func (a *Adapter) SendTyping(sig *wire.TypingSignal) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := wire.EncodeTyping(sig)
	if err != nil {
		a.logger.Error("failed to encode typing signal", zap.Error(err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		a.logger.Debug("typing signal dropped", zap.Error(err))
	}
}

// run dials and reads until the subscription is superseded, redialing
// with exponential backoff on failure.
func (a *Adapter) run(ctx context.Context, gen int, roomID string) {
	backoff := initialBackoff
	for a.current(gen) {
		conn, err := a.dial(ctx, roomID)
		if err != nil {
			if !a.current(gen) {
				return
			}
			a.logger.Warn("realtime dial failed",
				zap.String("room", roomID), zap.Error(err))
			a.publish(gen, bus.Event{Kind: KindDown, Room: roomID, Timestamp: time.Now()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		a.mu.Lock()
		if a.gen != gen {
			a.mu.Unlock()
			_ = conn.Close()
			return
		}
		a.conn = conn
		a.mu.Unlock()

		backoff = initialBackoff
		a.readLoop(conn, gen, roomID)

		a.mu.Lock()
		if a.conn == conn {
			a.conn = nil
		}
		a.mu.Unlock()
		_ = conn.Close()
	}
}

func (a *Adapter) dial(ctx context.Context, roomID string) (*websocket.Conn, error) {
	wsURL := a.serverURL
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + url.QueryEscape(a.token) + "&room=" + url.QueryEscape(roomID)

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	return conn, err
}

// readLoop translates frames into bus events until the connection dies.
func (a *Adapter) readLoop(conn *websocket.Conn, gen int, roomID string) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if a.current(gen) {
				a.logger.Warn("realtime connection lost",
					zap.String("room", roomID), zap.Error(err))
				a.publish(gen, bus.Event{Kind: KindDown, Room: roomID, Timestamp: time.Now()})
			}
			return
		}
		frame, err := wire.ParseFrame(data)
		if err != nil {
			a.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		a.handleFrame(frame, gen, roomID)
	}
}

func (a *Adapter) handleFrame(f *wire.Frame, gen int, roomID string) {
	now := time.Now()
	switch f.Op {
	case wire.OpHello:
		a.publish(gen, bus.Event{Kind: KindUp, Room: roomID, Timestamp: now})
	case wire.OpTyping:
		if f.Typing != nil {
			a.publish(gen, bus.Event{Kind: KindTyping, Room: f.RoomID, Timestamp: now, Payload: f.Typing})
		}
	case wire.OpChange:
		evt, err := f.ChangeEvent()
		if err != nil {
			a.logger.Warn("dropping invalid change event", zap.Error(err))
			return
		}
		a.publishChange(evt, gen, now)
	}
}

func (a *Adapter) publishChange(evt *wire.ChangeEvent, gen int, now time.Time) {
	switch evt.Table {
	case wire.TableMessages:
		switch evt.Type {
		case wire.ChangeInsert:
			a.publish(gen, bus.Event{Kind: KindMessageInsert, Room: evt.RoomID, Timestamp: now, Payload: evt.Message})
		case wire.ChangeUpdate:
			a.publish(gen, bus.Event{Kind: KindMessageUpdate, Room: evt.RoomID, Timestamp: now, Payload: evt.Message})
		case wire.ChangeDelete:
			a.publish(gen, bus.Event{Kind: KindMessageDelete, Room: evt.RoomID, Timestamp: now, Payload: evt.OldMessage})
		}
	case wire.TableReactions:
		// Reaction state is rebuilt by full refetch; the payload is not needed.
		a.publish(gen, bus.Event{Kind: KindReactions, Timestamp: now})
	case wire.TableRooms:
		a.publish(gen, bus.Event{Kind: KindRooms, Timestamp: now})
	}
}

// publish forwards to the bus only while gen is the live subscription,
// so a superseded reader cannot leak stale events into the new room.
func (a *Adapter) publish(gen int, evt bus.Event) {
	if !a.current(gen) {
		return
	}
	a.bus.Publish(evt)
}
