package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mentorchat/mentorchat/internal/bus"
	"github.com/mentorchat/mentorchat/internal/channel"
	"github.com/mentorchat/mentorchat/internal/errs"
	"github.com/mentorchat/mentorchat/internal/store"
	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// fakeStore is an in-memory durable store with insert notifications so
// tests can wait for the engine's async writes.
type fakeStore struct {
	mu        sync.Mutex
	messages  map[string][]wire.Message // roomID -> messages
	reactions []wire.Reaction
	rooms     []wire.Room
	profiles  []wire.Profile
	aiReply   string
	aiGate    chan struct{} // when set, AIReply blocks until closed
	inserted  chan wire.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string][]wire.Message),
		rooms: []wire.Room{
			{ID: "room-general", Name: "general", CreatedBy: "system@mentorchat", CreatedAt: t0},
			{ID: "room-algebra", Name: "algebra", CreatedBy: "me@x.com", CreatedAt: t0.Add(time.Hour)},
		},
		aiReply:  "assistant says hi",
		inserted: make(chan wire.Message, 16),
	}
}

func (f *fakeStore) Messages(_ context.Context, roomID string) ([]wire.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Message(nil), f.messages[roomID]...), nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m *wire.Message) error {
	f.mu.Lock()
	f.messages[m.RoomID] = append(f.messages[m.RoomID], *m)
	f.mu.Unlock()
	f.inserted <- *m
	return nil
}

func (f *fakeStore) EditMessage(_ context.Context, id, content string, editedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for roomID, msgs := range f.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				msgs[i].Content = content
				at := editedAt
				msgs[i].EditedAt = &at
				f.messages[roomID] = msgs
			}
		}
	}
	return nil
}

func (f *fakeStore) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for roomID, msgs := range f.messages {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.ID != id {
				kept = append(kept, m)
			}
		}
		f.messages[roomID] = kept
	}
	return nil
}

func (f *fakeStore) DeleteRoomMessages(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, roomID)
	return nil
}

func (f *fakeStore) Reactions(context.Context) ([]wire.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Reaction(nil), f.reactions...), nil
}

func (f *fakeStore) InsertReaction(_ context.Context, r *wire.Reaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, *r)
	return nil
}

func (f *fakeStore) DeleteReaction(_ context.Context, messageID, userEmail, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.reactions[:0]
	for _, r := range f.reactions {
		if r.MessageID == messageID && r.UserEmail == userEmail && r.Emoji == emoji {
			continue
		}
		kept = append(kept, r)
	}
	f.reactions = kept
	return nil
}

func (f *fakeStore) Rooms(context.Context) ([]wire.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Room(nil), f.rooms...), nil
}

func (f *fakeStore) InsertRoom(_ context.Context, r *wire.Room) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rooms = append(f.rooms, *r)
	return nil
}

func (f *fakeStore) DeleteRoom(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.rooms[:0]
	for _, r := range f.rooms {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.rooms = kept
	return nil
}

func (f *fakeStore) Profiles(context.Context) ([]wire.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Profile(nil), f.profiles...), nil
}

func (f *fakeStore) UpsertProfile(_ context.Context, p *wire.Profile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.profiles {
		if f.profiles[i].UserEmail == p.UserEmail {
			f.profiles[i] = *p
			return nil
		}
	}
	f.profiles = append(f.profiles, *p)
	return nil
}

func (f *fakeStore) Upload(_ context.Context, filename string, r io.Reader) (*store.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return &store.UploadResult{
		URL: "/files/stored-blob", Name: filename, Type: "text/plain", Size: int64(len(data)),
	}, nil
}

func (f *fakeStore) AIReply(ctx context.Context, _ string, _ []string) (string, error) {
	f.mu.Lock()
	gate := f.aiGate
	reply := f.aiReply
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, nil
}

// fakeChannel records subscription churn.
type fakeChannel struct {
	mu         sync.Mutex
	subscribed []string
	teardowns  int
	typing     []wire.TypingSignal
}

func (f *fakeChannel) Subscribe(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, roomID)
}

func (f *fakeChannel) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
}

func (f *fakeChannel) SendTyping(sig *wire.TypingSignal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, *sig)
}

func (f *fakeChannel) rooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

type fixture struct {
	engine  *Engine
	store   *fakeStore
	channel *fakeChannel
	bus     *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := newFakeStore()
	fc := &fakeChannel{}
	b := bus.New()
	e := New(Options{
		Self:         "me@x.com",
		TriggerToken: "@mentor",
		Store:        fs,
		Bus:          b,
		Channel:      fc,
		Logger:       zap.NewNop(),
	})
	e.PollInterval = time.Hour // tests trigger reconcile via events
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Stop)
	return &fixture{engine: e, store: fs, channel: fc, bus: b}
}

func waitInsert(t *testing.T, fs *fakeStore) wire.Message {
	t.Helper()
	select {
	case m := <-fs.inserted:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("durable insert never happened")
		return wire.Message{}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestStartSelectsFirstRoomAndSubscribes(t *testing.T) {
	f := newFixture(t)
	if got := f.engine.Selected(); got != "room-general" {
		t.Errorf("selected = %q, want oldest room", got)
	}
	rooms := f.channel.rooms()
	if len(rooms) != 1 || rooms[0] != "room-general" {
		t.Errorf("subscriptions = %v", rooms)
	}
}

func TestSendMessageOptimisticThenDurable(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.SendMessage("hello room"); err != nil {
		t.Fatal(err)
	}
	// Optimistic: visible before the durable write settles.
	msgs := f.engine.Messages()
	if len(msgs) != 1 || msgs[0].Content != "hello room" || msgs[0].UserEmail != "me@x.com" {
		t.Fatalf("timeline = %+v", msgs)
	}

	stored := waitInsert(t, f.store)
	if stored.ID != msgs[0].ID {
		t.Errorf("durable id = %q, want optimistic id %q", stored.ID, msgs[0].ID)
	}
	if stored.RoomID != "room-general" {
		t.Errorf("durable room = %q", stored.RoomID)
	}
}

func TestSendMessageRejectsBlank(t *testing.T) {
	f := newFixture(t)
	err := f.engine.SendMessage("   ")
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	if len(f.engine.Messages()) != 0 {
		t.Error("blank message entered the timeline")
	}
}

func TestMentionDispatchesAssistant(t *testing.T) {
	f := newFixture(t)

	if err := f.engine.SendMessage("hey @mentor what is calculus?"); err != nil {
		t.Fatal(err)
	}
	// The triggering message and the assistant reply are written by
	// independent goroutines, so the two inserts may land in any order.
	byAuthor := make(map[string]wire.Message)
	for i := 0; i < 2; i++ {
		m := waitInsert(t, f.store)
		byAuthor[m.UserEmail] = m
	}
	if _, ok := byAuthor["me@x.com"]; !ok {
		t.Fatal("triggering user message never stored")
	}
	reply, ok := byAuthor[wire.AssistantEmail]
	if !ok {
		t.Fatal("assistant reply never stored")
	}
	if reply.Content != "assistant says hi" {
		t.Errorf("reply content = %q", reply.Content)
	}
	// The reply is also in the local timeline via the optimistic path.
	waitFor(t, func() bool { return len(f.engine.Messages()) == 2 })
}

func TestAssistantReplyAfterRoomSwitchStaysOut(t *testing.T) {
	f := newFixture(t)
	gate := make(chan struct{})
	f.store.mu.Lock()
	f.store.aiGate = gate
	f.store.mu.Unlock()

	if err := f.engine.SendMessage("@mentor take your time"); err != nil {
		t.Fatal(err)
	}
	_ = waitInsert(t, f.store) // the triggering message

	// Move on while the reply is still in flight, then release it.
	if err := f.engine.SwitchRoom("room-algebra"); err != nil {
		t.Fatal(err)
	}
	close(gate)

	reply := waitInsert(t, f.store)
	if reply.UserEmail != wire.AssistantEmail || reply.RoomID != "room-general" {
		t.Fatalf("reply = %+v", reply)
	}
	time.Sleep(100 * time.Millisecond)
	for _, m := range f.engine.Messages() {
		if m.RoomID != "room-algebra" {
			t.Fatalf("message for room %q is visible in room-algebra's timeline", m.RoomID)
		}
	}

	// The skipped optimistic apply must not poison reconciliation: a
	// refetch with one message is a strict superset of the empty local
	// set and has to land.
	f.store.mu.Lock()
	f.store.messages["room-algebra"] = []wire.Message{
		{ID: "alg-1", RoomID: "room-algebra", UserEmail: "peer@x.com", Content: "hi", CreatedAt: t0},
	}
	f.store.mu.Unlock()
	f.bus.Publish(bus.Event{Kind: channel.KindUp, Room: "room-algebra"})
	waitFor(t, func() bool {
		msgs := f.engine.Messages()
		return len(msgs) == 1 && msgs[0].ID == "alg-1"
	})
}

func TestRemoteInsertMergesAndNotifies(t *testing.T) {
	fs := newFakeStore()
	fc := &fakeChannel{}
	b := bus.New()
	var mu sync.Mutex
	var notified []string
	e := New(Options{
		Self: "me@x.com", TriggerToken: "@mentor",
		Store: fs, Bus: b, Channel: fc, Logger: zap.NewNop(),
		OnNotify: func(m *wire.Message) {
			mu.Lock()
			notified = append(notified, m.ID)
			mu.Unlock()
		},
	})
	e.PollInterval = time.Hour
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	remote := &wire.Message{
		ID: "remote-1", RoomID: "room-general", UserEmail: "peer@x.com",
		Content: "hi", CreatedAt: t0,
	}
	b.Publish(bus.Event{Kind: channel.KindMessageInsert, Room: "room-general", Payload: remote})

	waitFor(t, func() bool { return len(e.Messages()) == 1 })
	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 1 || notified[0] != "remote-1" {
		t.Errorf("notified = %v", notified)
	}
}

func TestRemoteInsertForOtherRoomIgnored(t *testing.T) {
	f := newFixture(t)
	remote := &wire.Message{
		ID: "stray", RoomID: "room-algebra", UserEmail: "peer@x.com",
		Content: "wrong room", CreatedAt: t0,
	}
	f.bus.Publish(bus.Event{Kind: channel.KindMessageInsert, Room: "room-algebra", Payload: remote})

	time.Sleep(100 * time.Millisecond)
	if len(f.engine.Messages()) != 0 {
		t.Error("message for an unselected room entered the timeline")
	}
}

func TestSwitchRoomTearsDownAndReloads(t *testing.T) {
	f := newFixture(t)
	f.store.mu.Lock()
	f.store.messages["room-algebra"] = []wire.Message{
		{ID: "a1", RoomID: "room-algebra", UserEmail: "peer@x.com", Content: "algebra talk", CreatedAt: t0},
	}
	f.store.mu.Unlock()

	if err := f.engine.SwitchRoom("room-algebra"); err != nil {
		t.Fatal(err)
	}
	if got := f.engine.Selected(); got != "room-algebra" {
		t.Fatalf("selected = %q", got)
	}
	msgs := f.engine.Messages()
	if len(msgs) != 1 || msgs[0].ID != "a1" {
		t.Errorf("timeline after switch = %+v", msgs)
	}
	rooms := f.channel.rooms()
	if rooms[len(rooms)-1] != "room-algebra" {
		t.Errorf("subscriptions = %v", rooms)
	}
	f.channel.mu.Lock()
	teardowns := f.channel.teardowns
	f.channel.mu.Unlock()
	if teardowns == 0 {
		t.Error("old subscription was not torn down")
	}
}

func TestEditAndDeleteEnforceOwnership(t *testing.T) {
	f := newFixture(t)
	f.engine.timeline.LoadSnapshot([]wire.Message{
		{ID: "theirs", RoomID: "room-general", UserEmail: "peer@x.com", Content: "hands off", CreatedAt: t0},
	})

	var pd *errs.PermissionDenied
	if err := f.engine.EditMessage("theirs", "hijacked"); !errors.As(err, &pd) {
		t.Errorf("edit err = %v, want PermissionDenied", err)
	}
	if err := f.engine.DeleteMessage("theirs"); !errors.As(err, &pd) {
		t.Errorf("delete err = %v, want PermissionDenied", err)
	}
}

func TestEditOwnMessageStampsEditedAt(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.SendMessage("typo here"); err != nil {
		t.Fatal(err)
	}
	sent := waitInsert(t, f.store)

	if err := f.engine.EditMessage(sent.ID, "fixed"); err != nil {
		t.Fatal(err)
	}
	got, ok := f.engine.timeline.Get(sent.ID)
	if !ok || got.Content != "fixed" || got.EditedAt == nil {
		t.Errorf("edited message = %+v", got)
	}
}

func TestToggleReactionRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.ToggleReaction(ctx, "m1", "👍"); err != nil {
		t.Fatal(err)
	}
	if !f.engine.HasReacted("m1", "👍") {
		t.Error("toggle on not visible")
	}
	if err := f.engine.ToggleReaction(ctx, "m1", "👍"); err != nil {
		t.Fatal(err)
	}
	if f.engine.HasReacted("m1", "👍") {
		t.Error("toggle off not visible")
	}
}

func TestShareFilePostsFileMessage(t *testing.T) {
	f := newFixture(t)
	err := f.engine.ShareFile(context.Background(), "notes.txt",
		strings.NewReader("study notes"), "here are my notes")
	if err != nil {
		t.Fatal(err)
	}
	stored := waitInsert(t, f.store)
	if stored.FileURL != "/files/stored-blob" || stored.FileName != "notes.txt" {
		t.Errorf("file fields = %+v", stored)
	}
	if stored.FileSize != int64(len("study notes")) {
		t.Errorf("file size = %d", stored.FileSize)
	}
	if stored.Content != "here are my notes" {
		t.Errorf("content = %q", stored.Content)
	}
}

func TestDisplayNameResolution(t *testing.T) {
	f := newFixture(t)
	if err := f.engine.UpdateProfile(context.Background(), "Mido", "", ""); err != nil {
		t.Fatal(err)
	}
	if got := f.engine.DisplayName("me@x.com"); got != "Mido" {
		t.Errorf("DisplayName(self) = %q", got)
	}
	if got := f.engine.DisplayName("stranger@x.com"); got != "stranger" {
		t.Errorf("DisplayName(stranger) = %q", got)
	}
	if got := f.engine.DisplayName(wire.AssistantEmail); got != "MentorAI" {
		t.Errorf("DisplayName(assistant) = %q", got)
	}
}

func TestChannelUpTriggersReconcile(t *testing.T) {
	f := newFixture(t)
	// A message the realtime channel missed while offline.
	f.store.mu.Lock()
	f.store.messages["room-general"] = []wire.Message{
		{ID: "missed", RoomID: "room-general", UserEmail: "peer@x.com", Content: "offline msg", CreatedAt: t0},
	}
	f.store.mu.Unlock()

	f.bus.Publish(bus.Event{Kind: channel.KindUp, Room: "room-general"})

	waitFor(t, func() bool { return len(f.engine.Messages()) == 1 })
	if msgs := f.engine.Messages(); msgs[0].ID != "missed" {
		t.Errorf("timeline = %+v", msgs)
	}
}

func TestOnlineTracksChannelState(t *testing.T) {
	f := newFixture(t)
	if f.engine.Online() {
		t.Error("engine should start offline until the channel comes up")
	}

	f.bus.Publish(bus.Event{Kind: channel.KindUp, Room: "room-general"})
	waitFor(t, func() bool { return f.engine.Online() })

	f.bus.Publish(bus.Event{Kind: channel.KindDown, Room: "room-general"})
	waitFor(t, func() bool { return !f.engine.Online() })
}
