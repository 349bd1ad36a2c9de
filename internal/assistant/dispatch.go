// Package assistant detects tagged questions and turns them into
// in-chat replies from the assistant identity. Dispatch is fire and
// forget: the tagging user's message has already been sent, and both
// the reply and any failure surface as ordinary chat messages.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mentorchat/mentorchat/internal/errs"
	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

// contextWindow is how many recent messages accompany the question.
const contextWindow = 10

const dispatchTimeout = 60 * time.Second

// failureNotice is posted in chat when the assistant call fails.
const failureNotice = "Sorry, I'm having trouble responding right now. Please try again in a moment. Error: %s"

// Relay is the slice of the hub API the dispatcher needs.
type Relay interface {
	AIReply(ctx context.Context, message string, contextLines []string) (string, error)
}

// RecentFunc returns the latest n messages of the active room in
// chronological order.
type RecentFunc func(n int) []wire.Message

// PostFunc sends a message through the normal optimistic-then-durable
// path, as if a user had typed it.
type PostFunc func(m *wire.Message)

// NameFunc resolves an identity to its display name.
type NameFunc func(email string) string

// Dispatcher watches outgoing messages for the trigger token and relays
// tagged questions to the assistant.
type Dispatcher struct {
	trigger string
	relay   Relay
	recent  RecentFunc
	post    PostFunc
	name    NameFunc
	logger  *zap.Logger
}

// New creates a dispatcher. trigger is the tag token, e.g. "@mentor".
// name may be nil, in which case the email local part is used.
func New(trigger string, relay Relay, recent RecentFunc, post PostFunc, name NameFunc, logger *zap.Logger) *Dispatcher {
	if name == nil {
		name = wire.FallbackDisplayName
	}
	return &Dispatcher{
		trigger: strings.ToLower(trigger),
		relay:   relay,
		recent:  recent,
		post:    post,
		name:    name,
		logger:  logger,
	}
}

// Triggered reports whether the content tags the assistant. Matching is
// case insensitive and position independent.
func (d *Dispatcher) Triggered(content string) bool {
	return d.trigger != "" && strings.Contains(strings.ToLower(content), d.trigger)
}

// Dispatch relays a tagged message to the assistant and posts the
// outcome in chat. Blocks until done; callers that need fire and forget
// run it on its own goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *wire.Message) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	contextLines := d.contextLines(msg.ID)
	reply, err := d.relay.AIReply(ctx, msg.Content, contextLines)
	if err != nil {
		failure := &errs.AssistantFailure{Reason: "relay call", Err: err}
		d.logger.Warn("assistant dispatch failed",
			zap.String("room", msg.RoomID), zap.Error(failure))
		d.postAs(msg.RoomID, fmt.Sprintf(failureNotice, err))
		return
	}
	d.logger.Info("assistant replied", zap.String("room", msg.RoomID))
	d.postAs(msg.RoomID, reply)
}

// contextLines renders the recent-message window, skipping the tagging
// message itself so it is not doubled with the question.
func (d *Dispatcher) contextLines(excludeID string) []string {
	recent := d.recent(contextWindow)
	lines := make([]string, 0, len(recent))
	for _, m := range recent {
		if m.ID == excludeID {
			continue
		}
		lines = append(lines, d.name(m.UserEmail)+": "+m.Content)
	}
	return lines
}

func (d *Dispatcher) postAs(roomID, content string) {
	d.post(&wire.Message{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		UserEmail: wire.AssistantEmail,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}
