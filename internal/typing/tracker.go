// Package typing tracks who is typing in the active room. Local
// keystrokes are debounced into at most one start signal until the user
// pauses; remote signals are held with a TTL so a peer that vanishes
// mid-keystroke does not stay "typing" forever.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/mentorchat/mentorchat/internal/wire"
)

const (
	// DefaultDebounce is the pause after the last keystroke before the
	// stop signal goes out.
	DefaultDebounce = 2 * time.Second
	// DefaultRemoteTTL evicts a remote typer that never sent a stop.
	DefaultRemoteTTL = 4 * time.Second
)

// SendFunc broadcasts a typing signal to the room.
type SendFunc func(sig *wire.TypingSignal)

type remoteTyper struct {
	displayName string
	timer       *time.Timer
}

// Tracker is the typing state for the active room.
type Tracker struct {
	mu       sync.Mutex
	self     string
	display  string
	roomID   string
	send     SendFunc
	onChange func()

	Debounce  time.Duration
	RemoteTTL time.Duration

	active bool
	timer  *time.Timer
	remote map[string]remoteTyper
}

// New creates a tracker for the given identity. send broadcasts
// signals; onChange is called when the visible typer set changes. Both
// may be nil.
func New(self, displayName string, send SendFunc, onChange func()) *Tracker {
	return &Tracker{
		self:      self,
		display:   displayName,
		send:      send,
		onChange:  onChange,
		Debounce:  DefaultDebounce,
		RemoteTTL: DefaultRemoteTTL,
		remote:    make(map[string]remoteTyper),
	}
}

// SetRoom switches the tracker to a new room: any local typing state is
// stopped and all remote typers are dropped.
func (t *Tracker) SetRoom(roomID string) {
	t.mu.Lock()
	stop := t.stopLocalLocked()
	for _, rt := range t.remote {
		rt.timer.Stop()
	}
	t.remote = make(map[string]remoteTyper)
	t.roomID = roomID
	send := t.send
	t.mu.Unlock()
	if stop != nil && send != nil {
		send(stop)
	}
	t.changed()
}

// Keystroke records local typing activity. The first keystroke sends a
// start signal; each further one pushes the stop signal out by the
// debounce window.
func (t *Tracker) Keystroke() {
	t.mu.Lock()
	var start *wire.TypingSignal
	if !t.active {
		t.active = true
		start = t.signalLocked(true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.Debounce, t.expireLocal)
	send := t.send
	t.mu.Unlock()

	if start != nil && send != nil {
		send(start)
	}
}

// Sent clears local typing state immediately, for when the pending
// input was submitted as a message.
func (t *Tracker) Sent() {
	t.mu.Lock()
	stop := t.stopLocalLocked()
	send := t.send
	t.mu.Unlock()
	if stop != nil && send != nil {
		send(stop)
	}
}

func (t *Tracker) expireLocal() {
	t.mu.Lock()
	stop := t.stopLocalLocked()
	send := t.send
	t.mu.Unlock()
	if stop != nil && send != nil {
		send(stop)
	}
}

// stopLocalLocked cancels the debounce timer and returns the stop
// signal to broadcast, or nil if the user was not typing.
func (t *Tracker) stopLocalLocked() *wire.TypingSignal {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.active {
		return nil
	}
	t.active = false
	return t.signalLocked(false)
}

func (t *Tracker) signalLocked(typing bool) *wire.TypingSignal {
	return &wire.TypingSignal{
		RoomID:      t.roomID,
		UserEmail:   t.self,
		DisplayName: t.display,
		Typing:      typing,
	}
}

// HandleRemote folds a peer's typing signal into the visible set. The
// local user's own signals are ignored, as are signals for other rooms.
func (t *Tracker) HandleRemote(sig *wire.TypingSignal) {
	if sig.UserEmail == t.self {
		return
	}
	t.mu.Lock()
	if sig.RoomID != t.roomID {
		t.mu.Unlock()
		return
	}
	if prev, ok := t.remote[sig.UserEmail]; ok {
		prev.timer.Stop()
	}
	if sig.Typing {
		name := sig.DisplayName
		if name == "" {
			name = wire.FallbackDisplayName(sig.UserEmail)
		}
		email := sig.UserEmail
		t.remote[email] = remoteTyper{
			displayName: name,
			timer:       time.AfterFunc(t.RemoteTTL, func() { t.evict(email) }),
		}
	} else {
		delete(t.remote, sig.UserEmail)
	}
	t.mu.Unlock()
	t.changed()
}

func (t *Tracker) evict(email string) {
	t.mu.Lock()
	_, ok := t.remote[email]
	if ok {
		delete(t.remote, email)
	}
	t.mu.Unlock()
	if ok {
		t.changed()
	}
}

// Typers returns the display names of peers currently typing, sorted
// for stable rendering.
func (t *Tracker) Typers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.remote))
	for _, rt := range t.remote {
		out = append(out, rt.displayName)
	}
	sort.Strings(out)
	return out
}

func (t *Tracker) changed() {
	if t.onChange != nil {
		t.onChange()
	}
}
