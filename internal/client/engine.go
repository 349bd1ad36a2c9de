// Package client composes the session: the message timeline, reaction
// state, room list, typing state, and the assistant, all fed by the
// realtime channel and reconciled against the durable store. A single
// event-loop goroutine applies every remote event, so component state
// never sees concurrent remote mutations.
package client

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mentorchat/mentorchat/internal/assistant"
	"github.com/mentorchat/mentorchat/internal/bus"
	"github.com/mentorchat/mentorchat/internal/channel"
	"github.com/mentorchat/mentorchat/internal/errs"
	"github.com/mentorchat/mentorchat/internal/messages"
	"github.com/mentorchat/mentorchat/internal/reactions"
	"github.com/mentorchat/mentorchat/internal/rooms"
	"github.com/mentorchat/mentorchat/internal/store"
	"github.com/mentorchat/mentorchat/internal/typing"
	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the timeline is reconciled against a
// full refetch, catching anything the realtime channel dropped.
const DefaultPollInterval = 30 * time.Second

const eventBufSize = 256

// Store is everything the engine needs from the durable store.
type Store interface {
	Messages(ctx context.Context, roomID string) ([]wire.Message, error)
	InsertMessage(ctx context.Context, m *wire.Message) error
	EditMessage(ctx context.Context, id, content string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, id string) error
	DeleteRoomMessages(ctx context.Context, roomID string) error
	Reactions(ctx context.Context) ([]wire.Reaction, error)
	InsertReaction(ctx context.Context, r *wire.Reaction) error
	DeleteReaction(ctx context.Context, messageID, userEmail, emoji string) error
	Rooms(ctx context.Context) ([]wire.Room, error)
	InsertRoom(ctx context.Context, r *wire.Room) error
	DeleteRoom(ctx context.Context, id string) error
	Profiles(ctx context.Context) ([]wire.Profile, error)
	UpsertProfile(ctx context.Context, p *wire.Profile) error
	Upload(ctx context.Context, filename string, r io.Reader) (*store.UploadResult, error)
	AIReply(ctx context.Context, message string, contextLines []string) (string, error)
}

// Channel is the realtime subscription surface the engine drives.
type Channel interface {
	Subscribe(roomID string)
	Teardown()
	SendTyping(sig *wire.TypingSignal)
}

// Engine is the client session core.
type Engine struct {
	self    string
	store   Store
	bus     *bus.Bus
	channel Channel
	logger  *zap.Logger

	timeline  *messages.Store
	reactions *reactions.Aggregator
	rooms     *rooms.Manager
	typing    *typing.Tracker
	assistant *assistant.Dispatcher

	PollInterval time.Duration

	mu            sync.RWMutex
	profiles      map[string]wire.Profile
	assistantBusy atomic.Int32
	online        atomic.Bool
	onChange      func()
	onNotify      func(m *wire.Message)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Options carries the engine's collaborators and identity.
type Options struct {
	Self         string // canonical email
	DisplayName  string
	TriggerToken string // assistant tag, e.g. "@mentor"
	Store        Store
	Bus          *bus.Bus
	Channel      Channel
	Logger       *zap.Logger

	// OnChange is called after any state change the UI should redraw
	// for. OnNotify fires for remote-authored messages entering the
	// timeline. Both may be nil.
	OnChange func()
	OnNotify func(m *wire.Message)
}

// New wires an engine from its collaborators. Call Start to begin.
func New(opts Options) *Engine {
	e := &Engine{
		self:         opts.Self,
		store:        opts.Store,
		bus:          opts.Bus,
		channel:      opts.Channel,
		logger:       opts.Logger,
		PollInterval: DefaultPollInterval,
		profiles:     make(map[string]wire.Profile),
		onChange:     opts.OnChange,
		onNotify:     opts.OnNotify,
	}
	if e.onChange == nil {
		e.onChange = func() {}
	}

	e.timeline = messages.New(opts.Self, func(m *wire.Message) {
		if e.onNotify != nil {
			e.onNotify(m)
		}
	})
	e.reactions = reactions.New(opts.Store, opts.Self)
	e.rooms = rooms.New(opts.Store, opts.Self, e.enterRoom, opts.Logger)
	display := opts.DisplayName
	if display == "" {
		display = wire.FallbackDisplayName(opts.Self)
	}
	e.typing = typing.New(opts.Self, display, opts.Channel.SendTyping, e.onChangeSafe)
	e.assistant = assistant.New(opts.TriggerToken, opts.Store,
		e.timeline.Recent, e.postMessage, e.DisplayName, opts.Logger)
	return e
}

func (e *Engine) onChangeSafe() { e.onChange() }

// Start loads the initial session state and begins consuming events.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	e.refreshProfiles(e.ctx)
	if err := e.rooms.Load(e.ctx); err != nil {
		e.cancel()
		e.cancel = nil
		return err
	}

	events, unsub := e.bus.Subscribe("", eventBufSize)
	go e.loop(events, unsub)
	return nil
}

// Stop tears the session down.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.channel.Teardown()
	<-e.done
	e.logger.Info("session stopped")
}

// loop is the single goroutine that applies remote events and runs the
// reconciliation poll.
func (e *Engine) loop(events <-chan bus.Event, unsub func()) {
	defer close(e.done)
	defer unsub()

	ticker := time.NewTicker(e.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-events:
			e.handleEvent(evt)
		case <-ticker.C:
			e.reconcile()
		}
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case channel.KindMessageInsert:
		if m, ok := evt.Payload.(*wire.Message); ok && evt.Room == e.rooms.Selected() {
			if e.timeline.MergeRemote(m) {
				e.onChange()
			}
		}
	case channel.KindMessageUpdate:
		if m, ok := evt.Payload.(*wire.Message); ok {
			e.timeline.ApplyUpdate(m)
			e.onChange()
		}
	case channel.KindMessageDelete:
		if m, ok := evt.Payload.(*wire.Message); ok {
			e.timeline.ApplyDelete(m.ID)
			e.onChange()
		}
	case channel.KindReactions:
		if err := e.reactions.Refresh(e.ctx); err != nil {
			e.logger.Warn("reaction refresh failed", zap.Error(err))
			return
		}
		e.onChange()
	case channel.KindRooms:
		if err := e.rooms.Load(e.ctx); err != nil {
			e.logger.Warn("room list refresh failed", zap.Error(err))
			return
		}
		e.onChange()
	case channel.KindTyping:
		if sig, ok := evt.Payload.(*wire.TypingSignal); ok {
			e.typing.HandleRemote(sig)
		}
	case channel.KindUp:
		// Reconnected: anything broadcast while offline is gone, so
		// reconcile immediately rather than waiting for the poll.
		e.online.Store(true)
		e.reconcile()
	case channel.KindDown:
		if e.online.Swap(false) {
			e.onChange()
		}
	}
}

// reconcile refetches the active room and replaces the timeline when
// the fetch is a strict superset of local state. Reaction state is
// refetched unconditionally.
func (e *Engine) reconcile() {
	roomID := e.rooms.Selected()
	if roomID == "" {
		return
	}
	fetched, err := e.store.Messages(e.ctx, roomID)
	if err != nil {
		e.logger.Warn("reconciliation fetch failed", zap.Error(err))
		return
	}
	// Bail if the room changed while the fetch was in flight.
	if e.rooms.Selected() != roomID {
		return
	}
	changed := e.timeline.ReplaceIfSuperset(fetched)
	if err := e.reactions.Refresh(e.ctx); err != nil {
		e.logger.Warn("reaction refresh failed", zap.Error(err))
	}
	if changed {
		e.logger.Info("timeline reconciled from refetch",
			zap.String("room", roomID), zap.Int("messages", len(fetched)))
	}
	e.onChange()
}

// enterRoom is the selection pipeline: teardown, clear, snapshot,
// subscribe. Runs whenever the active room changes.
func (e *Engine) enterRoom(roomID string) {
	e.channel.Teardown()
	e.typing.SetRoom(roomID)
	e.timeline.Clear()

	ctx := e.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	snapshot, err := e.store.Messages(ctx, roomID)
	if err != nil {
		e.logger.Warn("room snapshot failed",
			zap.String("room", roomID), zap.Error(err))
	} else {
		e.timeline.LoadSnapshot(snapshot)
	}
	if err := e.reactions.Refresh(ctx); err != nil {
		e.logger.Warn("reaction refresh failed", zap.Error(err))
	}

	e.channel.Subscribe(roomID)
	e.logger.Info("entered room", zap.String("room", roomID), zap.Int("messages", len(snapshot)))
	e.onChange()
}

// SendMessage posts a message in the active room. The timeline is
// updated optimistically before the durable write; a failed write is
// logged and left in place rather than rolled back, since the
// reconciliation poll can only add messages, never invent conflicts.
func (e *Engine) SendMessage(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &errs.ValidationError{Field: "message", Reason: "must not be blank"}
	}
	roomID := e.rooms.Selected()
	if roomID == "" {
		return &errs.ValidationError{Field: "room", Reason: "no room selected"}
	}
	m := &wire.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		UserEmail: e.self,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	e.typing.Sent()
	e.postMessage(m)

	if e.assistant.Triggered(content) {
		e.assistantBusy.Add(1)
		e.onChange()
		go func() {
			defer func() {
				e.assistantBusy.Add(-1)
				e.onChange()
			}()
			e.assistant.Dispatch(context.Background(), m)
		}()
	}
	return nil
}

// AssistantBusy reports whether an assistant reply is in flight.
func (e *Engine) AssistantBusy() bool { return e.assistantBusy.Load() > 0 }

// Online reports whether the realtime channel is currently established.
func (e *Engine) Online() bool { return e.online.Load() }

// postMessage runs the optimistic-then-durable insert path. Also used
// by the assistant for its synthetic replies, which may land after the
// user has moved on: the optimistic apply is skipped when the message
// belongs to another room, since the timeline only ever holds the
// active room. The durable insert still runs; the message reaches its
// room through the change feed like any other remote insert.
func (e *Engine) postMessage(m *wire.Message) {
	if m.RoomID == e.rooms.Selected() {
		e.timeline.ApplyOptimistic(m)
		e.onChange()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.store.InsertMessage(ctx, m); err != nil {
			e.logger.Warn("durable insert failed, keeping optimistic message",
				zap.String("message", m.ID), zap.Error(err))
		}
	}()
}

// ShareFile uploads a blob and posts a message carrying it. content may
// be empty; the file itself is the message.
func (e *Engine) ShareFile(ctx context.Context, filename string, r io.Reader, content string) error {
	roomID := e.rooms.Selected()
	if roomID == "" {
		return &errs.ValidationError{Field: "room", Reason: "no room selected"}
	}
	res, err := e.store.Upload(ctx, filename, r)
	if err != nil {
		return err
	}
	m := &wire.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		UserEmail: e.self,
		Content:   strings.TrimSpace(content),
		CreatedAt: time.Now().UTC(),
		FileURL:   res.URL,
		FileName:  res.Name,
		FileType:  res.Type,
		FileSize:  res.Size,
	}
	e.postMessage(m)
	return nil
}

// EditMessage rewrites one of the local user's own messages. The edit
// is applied optimistically; last write wins on the durable side.
func (e *Engine) EditMessage(id, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return &errs.ValidationError{Field: "message", Reason: "must not be blank"}
	}
	cur, ok := e.timeline.Get(id)
	if !ok {
		return &errs.ValidationError{Field: "message", Reason: "unknown message"}
	}
	if cur.UserEmail != e.self {
		return &errs.PermissionDenied{Actor: e.self, Action: "edit another user's message"}
	}
	now := time.Now().UTC()
	cur.Content = content
	cur.EditedAt = &now
	e.timeline.ApplyUpdate(&cur)
	e.onChange()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.store.EditMessage(ctx, id, content, now); err != nil {
			e.logger.Warn("durable edit failed, keeping optimistic edit",
				zap.String("message", id), zap.Error(err))
		}
	}()
	return nil
}

// DeleteMessage removes one of the local user's own messages.
func (e *Engine) DeleteMessage(id string) error {
	cur, ok := e.timeline.Get(id)
	if !ok {
		return &errs.ValidationError{Field: "message", Reason: "unknown message"}
	}
	if cur.UserEmail != e.self {
		return &errs.PermissionDenied{Actor: e.self, Action: "delete another user's message"}
	}
	e.timeline.ApplyDelete(id)
	e.onChange()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.store.DeleteMessage(ctx, id); err != nil {
			e.logger.Warn("durable delete failed",
				zap.String("message", id), zap.Error(err))
		}
	}()
	return nil
}

// ToggleReaction flips the local user's reaction on a message.
func (e *Engine) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	if err := e.reactions.Toggle(ctx, messageID, emoji); err != nil {
		return err
	}
	e.onChange()
	return nil
}

// CreateRoom makes and selects a new room.
func (e *Engine) CreateRoom(ctx context.Context, name string) (wire.Room, error) {
	return e.rooms.Create(ctx, name)
}

// DeleteRoom removes a room, honoring ownership and last-room rules.
func (e *Engine) DeleteRoom(ctx context.Context, id string) error {
	return e.rooms.Delete(ctx, id)
}

// SwitchRoom changes the active room.
func (e *Engine) SwitchRoom(id string) error {
	return e.rooms.Switch(id)
}

// Keystroke reports local composer activity for typing signals.
func (e *Engine) Keystroke() { e.typing.Keystroke() }

// Typers returns who is typing in the active room.
func (e *Engine) Typers() []string { return e.typing.Typers() }

// Messages returns the active room's timeline in display order.
func (e *Engine) Messages() []wire.Message { return e.timeline.Messages() }

// ReactionsFor returns a message's reactions as emoji to reactors.
func (e *Engine) ReactionsFor(messageID string) map[string][]string {
	return e.reactions.For(messageID)
}

// HasReacted reports whether the local user reacted with emoji.
func (e *Engine) HasReacted(messageID, emoji string) bool {
	return e.reactions.HasReacted(messageID, emoji)
}

// Rooms returns the room list in creation order.
func (e *Engine) Rooms() []wire.Room { return e.rooms.Rooms() }

// Selected returns the active room id.
func (e *Engine) Selected() string { return e.rooms.Selected() }

// SelectedRoom returns the active room.
func (e *Engine) SelectedRoom() (wire.Room, bool) { return e.rooms.SelectedRoom() }

// Self returns the local identity.
func (e *Engine) Self() string { return e.self }

// DisplayName resolves an identity for rendering: profile display name
// if one exists, otherwise the email local part. The assistant identity
// always renders as MentorAI.
func (e *Engine) DisplayName(email string) string {
	if wire.IsAssistant(email) {
		return "MentorAI"
	}
	e.mu.RLock()
	p, ok := e.profiles[email]
	e.mu.RUnlock()
	if ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return wire.FallbackDisplayName(email)
}

// UpdateProfile saves the local user's profile and refreshes the cache.
func (e *Engine) UpdateProfile(ctx context.Context, displayName, avatar, bio string) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return &errs.ValidationError{Field: "display name", Reason: "must not be blank"}
	}
	p := &wire.Profile{UserEmail: e.self, DisplayName: displayName, Avatar: avatar, Bio: bio}
	if err := e.store.UpsertProfile(ctx, p); err != nil {
		return err
	}
	e.refreshProfiles(ctx)
	e.onChange()
	return nil
}

func (e *Engine) refreshProfiles(ctx context.Context) {
	profiles, err := e.store.Profiles(ctx)
	if err != nil {
		e.logger.Warn("profile fetch failed", zap.Error(err))
		return
	}
	byEmail := make(map[string]wire.Profile, len(profiles))
	for _, p := range profiles {
		byEmail[p.UserEmail] = p
	}
	e.mu.Lock()
	e.profiles = byEmail
	e.mu.Unlock()
}
