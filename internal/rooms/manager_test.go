package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mentorchat/mentorchat/internal/errs"
	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeStore struct {
	rooms           []wire.Room
	deletedMessages []string
	failDelete      bool
}

func (f *fakeStore) Rooms(context.Context) ([]wire.Room, error) {
	return append([]wire.Room(nil), f.rooms...), nil
}

func (f *fakeStore) InsertRoom(_ context.Context, r *wire.Room) error {
	f.rooms = append(f.rooms, *r)
	return nil
}

func (f *fakeStore) DeleteRoom(_ context.Context, id string) error {
	if f.failDelete {
		return errors.New("store down")
	}
	kept := f.rooms[:0]
	for _, r := range f.rooms {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	f.rooms = kept
	return nil
}

func (f *fakeStore) DeleteRoomMessages(_ context.Context, roomID string) error {
	if f.failDelete {
		return errors.New("store down")
	}
	f.deletedMessages = append(f.deletedMessages, roomID)
	return nil
}

func room(id string, offset time.Duration, createdBy string) wire.Room {
	return wire.Room{ID: id, Name: "room " + id, CreatedBy: createdBy, CreatedAt: t0.Add(offset)}
}

func newManager(fs *fakeStore, selections *[]string) *Manager {
	onSelect := func(roomID string) {
		if selections != nil {
			*selections = append(*selections, roomID)
		}
	}
	return New(fs, "me@x.com", onSelect, zap.NewNop())
}

func TestLoadSelectsOldestRoom(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{
		room("r2", time.Hour, SystemEmail),
		room("r1", 0, SystemEmail),
	}}
	var selections []string
	m := newManager(fs, &selections)

	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Selected() != "r1" {
		t.Errorf("selected = %q, want oldest room r1", m.Selected())
	}
	if len(selections) != 1 || selections[0] != "r1" {
		t.Errorf("selection pipeline calls = %v", selections)
	}
	got := m.Rooms()
	if got[0].ID != "r1" || got[1].ID != "r2" {
		t.Errorf("rooms not in creation order: %v", got)
	}
}

func TestReloadKeepsExistingSelection(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{
		room("r1", 0, SystemEmail),
		room("r2", time.Hour, SystemEmail),
	}}
	var selections []string
	m := newManager(fs, &selections)
	_ = m.Load(context.Background())
	_ = m.Switch("r2")

	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m.Selected() != "r2" {
		t.Errorf("reload stole the selection: %q", m.Selected())
	}
	// r1 on first load, r2 on switch, nothing on reload.
	if len(selections) != 2 {
		t.Errorf("selection pipeline calls = %v", selections)
	}
}

func TestCreateRejectsBlankName(t *testing.T) {
	m := newManager(&fakeStore{}, nil)
	for _, name := range []string{"", "   ", "\t"} {
		_, err := m.Create(context.Background(), name)
		var ve *errs.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("Create(%q) err = %v, want ValidationError", name, err)
		}
	}
}

func TestCreateSelectsNewRoom(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{room("r1", 0, SystemEmail)}}
	var selections []string
	m := newManager(fs, &selections)
	_ = m.Load(context.Background())

	created, err := m.Create(context.Background(), "  algebra  ")
	if err != nil {
		t.Fatal(err)
	}
	if created.Name != "algebra" {
		t.Errorf("name = %q, want trimmed", created.Name)
	}
	if created.CreatedBy != "me@x.com" || created.ID == "" {
		t.Errorf("created = %+v", created)
	}
	if m.Selected() != created.ID {
		t.Errorf("new room not selected: %q", m.Selected())
	}
	if len(fs.rooms) != 2 {
		t.Errorf("store rooms = %d", len(fs.rooms))
	}
}

func TestDeleteRequiresCreatorOrSystem(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{
		room("mine", 0, "me@x.com"),
		room("theirs", time.Minute, "peer@x.com"),
		room("seeded", 2*time.Minute, SystemEmail),
	}}
	m := newManager(fs, nil)
	_ = m.Load(context.Background())

	var pd *errs.PermissionDenied
	if err := m.Delete(context.Background(), "theirs"); !errors.As(err, &pd) {
		t.Fatalf("deleting a peer's room: err = %v, want PermissionDenied", err)
	}
	// Seeded rooms belong to the system identity, not to every user.
	if err := m.Delete(context.Background(), "seeded"); !errors.As(err, &pd) {
		t.Fatalf("deleting a system room: err = %v, want PermissionDenied", err)
	}

	if err := m.Delete(context.Background(), "mine"); err != nil {
		t.Errorf("deleting own room: %v", err)
	}
	if got := m.Rooms(); len(got) != 2 || got[0].ID != "theirs" || got[1].ID != "seeded" {
		t.Errorf("remaining rooms = %v", got)
	}
}

func TestSystemIdentityMayDeleteAnyRoom(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{
		room("r1", 0, "peer@x.com"),
		room("r2", time.Minute, "other@x.com"),
	}}
	m := New(fs, SystemEmail, func(string) {}, zap.NewNop())
	_ = m.Load(context.Background())

	if err := m.Delete(context.Background(), "r2"); err != nil {
		t.Errorf("system identity deleting a user's room: %v", err)
	}
}

func TestDeleteLastRoomRefused(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{room("only", 0, "me@x.com")}}
	m := newManager(fs, nil)
	_ = m.Load(context.Background())

	err := m.Delete(context.Background(), "only")
	var lre *errs.LastRoomError
	if !errors.As(err, &lre) {
		t.Fatalf("err = %v, want LastRoomError", err)
	}
	if len(fs.rooms) != 1 {
		t.Error("last room was deleted anyway")
	}
}

func TestDeleteCascadesMessagesAndReselects(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{
		room("r1", 0, SystemEmail),
		room("r2", time.Minute, "me@x.com"),
	}}
	var selections []string
	m := newManager(fs, &selections)
	_ = m.Load(context.Background())
	_ = m.Switch("r2")

	if err := m.Delete(context.Background(), "r2"); err != nil {
		t.Fatal(err)
	}
	if len(fs.deletedMessages) != 1 || fs.deletedMessages[0] != "r2" {
		t.Errorf("message cascade = %v", fs.deletedMessages)
	}
	if m.Selected() != "r1" {
		t.Errorf("selected = %q after deleting active room, want r1", m.Selected())
	}
	if selections[len(selections)-1] != "r1" {
		t.Errorf("selection pipeline calls = %v", selections)
	}
}

func TestDeleteUnselectedRoomKeepsSelection(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{
		room("r1", 0, SystemEmail),
		room("r2", time.Minute, "me@x.com"),
	}}
	var selections []string
	m := newManager(fs, &selections)
	_ = m.Load(context.Background())
	before := len(selections)

	if err := m.Delete(context.Background(), "r2"); err != nil {
		t.Fatal(err)
	}
	if m.Selected() != "r1" {
		t.Errorf("selected = %q", m.Selected())
	}
	if len(selections) != before {
		t.Errorf("selection pipeline re-ran without a selection change: %v", selections)
	}
}

func TestDeleteStoreFailureKeepsRoom(t *testing.T) {
	fs := &fakeStore{
		rooms:      []wire.Room{room("r1", 0, SystemEmail), room("r2", time.Minute, "me@x.com")},
		failDelete: true,
	}
	m := newManager(fs, nil)
	_ = m.Load(context.Background())

	if err := m.Delete(context.Background(), "r2"); err == nil {
		t.Fatal("expected store error")
	}
	if len(m.Rooms()) != 2 {
		t.Error("room dropped locally despite failed delete")
	}
}

func TestSwitchToSameRoomIsNoop(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{room("r1", 0, SystemEmail)}}
	var selections []string
	m := newManager(fs, &selections)
	_ = m.Load(context.Background())
	before := len(selections)

	if err := m.Switch("r1"); err != nil {
		t.Fatal(err)
	}
	if len(selections) != before {
		t.Error("switching to the active room re-ran the selection pipeline")
	}
}

func TestSwitchToUnknownRoomFails(t *testing.T) {
	fs := &fakeStore{rooms: []wire.Room{room("r1", 0, SystemEmail)}}
	m := newManager(fs, nil)
	_ = m.Load(context.Background())

	err := m.Switch("ghost")
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
	if m.Selected() != "r1" {
		t.Errorf("selection moved to unknown room: %q", m.Selected())
	}
}
