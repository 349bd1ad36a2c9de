// Package rooms manages the room list and the active-room selection.
// Exactly one room is selected whenever any room exists, and the room
// set is never allowed to become empty.
package rooms

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mentorchat/mentorchat/internal/errs"
	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

// SystemEmail owns seeded rooms. Rooms it created belong to everyone,
// so anyone may delete them.
const SystemEmail = "system@mentorchat"

// Store is the slice of the durable store the manager needs.
type Store interface {
	Rooms(ctx context.Context) ([]wire.Room, error)
	InsertRoom(ctx context.Context, r *wire.Room) error
	DeleteRoom(ctx context.Context, id string) error
	DeleteRoomMessages(ctx context.Context, roomID string) error
}

// SelectFunc is invoked whenever the active room changes, after the
// manager's own state is updated. The engine hooks room teardown and
// load into it.
type SelectFunc func(roomID string)

// Manager holds the room list in creation order plus the selection.
type Manager struct {
	mu       sync.Mutex
	store    Store
	self     string
	onSelect SelectFunc
	logger   *zap.Logger

	rooms    []wire.Room
	selected string
}

// New creates a manager for the given identity. onSelect may be nil.
func New(st Store, self string, onSelect SelectFunc, logger *zap.Logger) *Manager {
	return &Manager{store: st, self: self, onSelect: onSelect, logger: logger}
}

// Load fetches the room list and selects the first room by creation
// order if nothing is selected yet.
func (m *Manager) Load(ctx context.Context) error {
	fetched, err := m.store.Rooms(ctx)
	if err != nil {
		return err
	}
	sortRooms(fetched)

	m.mu.Lock()
	m.rooms = fetched
	roomID, changed := m.ensureSelectionLocked()
	m.mu.Unlock()

	if changed {
		m.selectionChanged(roomID)
	}
	return nil
}

// ensureSelectionLocked repairs the selection after the room list
// changed: keep it if the room still exists, otherwise fall back to the
// first room. Returns the selected id and whether it changed.
func (m *Manager) ensureSelectionLocked() (string, bool) {
	if m.selected != "" {
		for _, r := range m.rooms {
			if r.ID == m.selected {
				return m.selected, false
			}
		}
	}
	prev := m.selected
	if len(m.rooms) == 0 {
		m.selected = ""
	} else {
		m.selected = m.rooms[0].ID
	}
	return m.selected, m.selected != prev
}

// Create makes a new room and selects it. A blank name is rejected
// before any I/O happens.
func (m *Manager) Create(ctx context.Context, name string) (wire.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return wire.Room{}, &errs.ValidationError{Field: "room name", Reason: "must not be blank"}
	}
	room := wire.Room{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedBy: m.self,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.InsertRoom(ctx, &room); err != nil {
		return wire.Room{}, err
	}

	m.mu.Lock()
	m.rooms = append(m.rooms, room)
	sortRooms(m.rooms)
	m.selected = room.ID
	m.mu.Unlock()

	m.logger.Info("room created", zap.String("room", room.ID), zap.String("name", name))
	m.selectionChanged(room.ID)
	return room, nil
}

// Delete removes a room and its messages. Only the room's creator or
// the privileged system identity may delete a room. The last remaining
// room can never be deleted. If the deleted room was selected, the
// first remaining room takes over.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	var room *wire.Room
	for i := range m.rooms {
		if m.rooms[i].ID == id {
			room = &m.rooms[i]
			break
		}
	}
	if room == nil {
		m.mu.Unlock()
		return &errs.ValidationError{Field: "room", Reason: "unknown room " + id}
	}
	if m.self != room.CreatedBy && m.self != SystemEmail {
		m.mu.Unlock()
		return &errs.PermissionDenied{Actor: m.self, Action: "delete room " + room.Name}
	}
	if len(m.rooms) == 1 {
		m.mu.Unlock()
		return &errs.LastRoomError{RoomID: id}
	}
	m.mu.Unlock()

	// Messages first so a failure cannot leave an orphaned timeline.
	if err := m.store.DeleteRoomMessages(ctx, id); err != nil {
		return err
	}
	if err := m.store.DeleteRoom(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	kept := m.rooms[:0]
	for _, r := range m.rooms {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	m.rooms = kept
	roomID, changed := m.ensureSelectionLocked()
	m.mu.Unlock()

	m.logger.Info("room deleted", zap.String("room", id))
	if changed {
		m.selectionChanged(roomID)
	}
	return nil
}

// Switch changes the active room. Switching to the already selected
// room is a no-op and does not re-trigger the selection pipeline.
func (m *Manager) Switch(id string) error {
	m.mu.Lock()
	if m.selected == id {
		m.mu.Unlock()
		return nil
	}
	found := false
	for _, r := range m.rooms {
		if r.ID == id {
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return &errs.ValidationError{Field: "room", Reason: "unknown room " + id}
	}
	m.selected = id
	m.mu.Unlock()

	m.selectionChanged(id)
	return nil
}

// Rooms returns a copy of the room list in creation order.
func (m *Manager) Rooms() []wire.Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wire.Room(nil), m.rooms...)
}

// Selected returns the active room id, or "" when no rooms exist.
func (m *Manager) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// SelectedRoom returns the active room.
func (m *Manager) SelectedRoom() (wire.Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rooms {
		if r.ID == m.selected {
			return r, true
		}
	}
	return wire.Room{}, false
}

func (m *Manager) selectionChanged(roomID string) {
	if m.onSelect != nil {
		m.onSelect(roomID)
	}
}

// sortRooms orders by creation time, oldest first, ids breaking ties so
// every client agrees on "the first room".
func sortRooms(rooms []wire.Room) {
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
		}
		return rooms[i].ID < rooms[j].ID
	})
}
