// Package reactions maintains the per-message emoji reaction state.
// The state is always rebuilt by a full refetch of the reaction table;
// change events only signal that a refetch is due. This trades a little
// bandwidth for never having to reconcile incremental reaction diffs.
package reactions

import (
	"context"
	"sync"
	"time"

	"github.com/mentorchat/mentorchat/internal/wire"
)

// Palette is the fixed emoji set offered by the reaction picker.
var Palette = []string{"👍", "❤️", "😄", "😮", "😢", "😡", "🎉", "🤔"}

// Store is the slice of the durable store the aggregator needs.
type Store interface {
	Reactions(ctx context.Context) ([]wire.Reaction, error)
	InsertReaction(ctx context.Context, r *wire.Reaction) error
	DeleteReaction(ctx context.Context, messageID, userEmail, emoji string) error
}

// Aggregator groups reactions as message id -> emoji -> reactor
// identities, in reaction creation order.
type Aggregator struct {
	mu    sync.RWMutex
	store Store
	self  string
	state map[string]map[string][]string
}

// New creates an empty aggregator. self is the identity used for
// toggles.
func New(st Store, self string) *Aggregator {
	return &Aggregator{
		store: st,
		self:  self,
		state: make(map[string]map[string][]string),
	}
}

// Refresh rebuilds the state from a full refetch of the reaction table.
func (a *Aggregator) Refresh(ctx context.Context) error {
	rows, err := a.store.Reactions(ctx)
	if err != nil {
		return err
	}
	state := make(map[string]map[string][]string)
	for _, r := range rows {
		byEmoji, ok := state[r.MessageID]
		if !ok {
			byEmoji = make(map[string][]string)
			state[r.MessageID] = byEmoji
		}
		byEmoji[r.Emoji] = append(byEmoji[r.Emoji], r.UserEmail)
	}
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	return nil
}

// Toggle adds the local user's reaction if absent, removes it if
// present, then refreshes from the store. Toggling twice restores the
// original state.
func (a *Aggregator) Toggle(ctx context.Context, messageID, emoji string) error {
	if a.HasReacted(messageID, emoji) {
		if err := a.store.DeleteReaction(ctx, messageID, a.self, emoji); err != nil {
			return err
		}
	} else {
		err := a.store.InsertReaction(ctx, &wire.Reaction{
			MessageID: messageID,
			UserEmail: a.self,
			Emoji:     emoji,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}
	return a.Refresh(ctx)
}

// HasReacted reports whether the local user currently has the given
// reaction on the message.
func (a *Aggregator) HasReacted(messageID, emoji string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, who := range a.state[messageID][emoji] {
		if who == a.self {
			return true
		}
	}
	return false
}

// For returns the message's reactions as emoji -> reactor identities.
// The result is a copy.
func (a *Aggregator) For(messageID string) map[string][]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	byEmoji, ok := a.state[messageID]
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(byEmoji))
	for emoji, who := range byEmoji {
		out[emoji] = append([]string(nil), who...)
	}
	return out
}

// Clear drops all state, for session teardown.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	a.state = make(map[string]map[string][]string)
	a.mu.Unlock()
}
