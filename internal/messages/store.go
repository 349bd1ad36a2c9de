// Package messages holds the per-room message timeline. The timeline is
// kept in (created_at, id) ascending order at all times, and every
// mutation path converges on that order: optimistic local inserts,
// realtime change events, and periodic full refetches all land in the
// same slice.
package messages

import (
	"sort"
	"sync"

	"github.com/mentorchat/mentorchat/internal/wire"
)

// NotifyFunc is invoked when a remote-authored message first enters the
// timeline. Echoes of the local user's own writes never trigger it.
type NotifyFunc func(m *wire.Message)

// Store is the reconciling message timeline for the active room.
type Store struct {
	mu     sync.RWMutex
	self   string
	msgs   []*wire.Message
	byID   map[string]*wire.Message
	notify NotifyFunc
}

// New creates an empty timeline. self is the local user's identity,
// used to suppress notifications for echoes of its own writes. notify
// may be nil.
func New(self string, notify NotifyFunc) *Store {
	return &Store{
		self:   self,
		byID:   make(map[string]*wire.Message),
		notify: notify,
	}
}

// less is the total order on the timeline. Ties on created_at are
// broken by id so the order is identical on every client.
func less(a, b *wire.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// LoadSnapshot replaces the timeline with a freshly fetched set. No
// notifications fire; snapshots are history, not news.
func (s *Store) LoadSnapshot(msgs []wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(msgs)
}

func (s *Store) replaceLocked(msgs []wire.Message) {
	s.msgs = make([]*wire.Message, 0, len(msgs))
	s.byID = make(map[string]*wire.Message, len(msgs))
	for i := range msgs {
		m := msgs[i]
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.msgs = append(s.msgs, &m)
		s.byID[m.ID] = &m
	}
	sort.Slice(s.msgs, func(i, j int) bool { return less(s.msgs[i], s.msgs[j]) })
}

// ApplyOptimistic inserts a locally authored message before its durable
// write is acknowledged. The later remote echo is absorbed by
// MergeRemote's id dedup.
func (s *Store) ApplyOptimistic(m *wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertLocked(m)
}

// MergeRemote folds a remote insert event into the timeline. Applying
// the same event twice leaves the state unchanged. Returns true when
// the message was new.
func (s *Store) MergeRemote(m *wire.Message) bool {
	s.mu.Lock()
	if _, ok := s.byID[m.ID]; ok {
		s.mu.Unlock()
		return false
	}
	s.insertLocked(m)
	notify := s.notify
	s.mu.Unlock()

	if notify != nil && m.UserEmail != s.self {
		notify(m)
	}
	return true
}

func (s *Store) insertLocked(m *wire.Message) {
	if _, ok := s.byID[m.ID]; ok {
		return
	}
	cp := *m
	i := sort.Search(len(s.msgs), func(i int) bool { return less(&cp, s.msgs[i]) })
	s.msgs = append(s.msgs, nil)
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = &cp
	s.byID[cp.ID] = &cp
}

// ApplyUpdate rewrites a message in place from an update event. Unknown
// ids are ignored: an edit for a message that never arrived carries no
// position to restore.
func (s *Store) ApplyUpdate(m *wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[m.ID]
	if !ok {
		return
	}
	// created_at is immutable, so the slot's position still holds.
	*cur = *m
}

// ApplyDelete removes a message from the timeline. Unknown ids are a
// no-op.
func (s *Store) ApplyDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, m := range s.msgs {
		if m.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
}

// ReplaceIfSuperset reconciles the timeline against a full refetch. The
// fetched set is applied only when it contains every local id plus at
// least one more; anything else means the refetch raced a local write
// or lost data, and keeping local state is safer. Returns whether the
// replacement happened.
func (s *Store) ReplaceIfSuperset(fetched []wire.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(fetched) <= len(s.msgs) {
		return false
	}
	seen := make(map[string]struct{}, len(fetched))
	for i := range fetched {
		seen[fetched[i].ID] = struct{}{}
	}
	for id := range s.byID {
		if _, ok := seen[id]; !ok {
			return false
		}
	}
	s.replaceLocked(fetched)
	return true
}

// Clear empties the timeline. Used on room teardown so stale messages
// never bleed into the next room.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.byID = make(map[string]*wire.Message)
}

// Messages returns a copy of the timeline in display order.
func (s *Store) Messages() []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]wire.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

// Recent returns the last n messages in chronological order.
func (s *Store) Recent(n int) []wire.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	start := len(s.msgs) - n
	if start < 0 {
		start = 0
	}
	out := make([]wire.Message, 0, len(s.msgs)-start)
	for _, m := range s.msgs[start:] {
		out = append(out, *m)
	}
	return out
}

// Get looks a message up by id.
func (s *Store) Get(id string) (wire.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return wire.Message{}, false
	}
	return *m, true
}

// Len reports the number of messages in the timeline.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.msgs)
}
