package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mentorchat/mentorchat/internal/wire"
	"go.uber.org/zap"
)

type fakeRelay struct {
	gotMessage string
	gotContext []string
	reply      string
	err        error
}

func (f *fakeRelay) AIReply(_ context.Context, message string, contextLines []string) (string, error) {
	f.gotMessage = message
	f.gotContext = contextLines
	return f.reply, f.err
}

func recentOf(msgs ...wire.Message) RecentFunc {
	return func(n int) []wire.Message {
		if len(msgs) > n {
			return msgs[len(msgs)-n:]
		}
		return msgs
	}
}

func TestTriggered(t *testing.T) {
	d := New("@mentor", nil, nil, nil, nil, zap.NewNop())
	cases := map[string]bool{
		"hey @mentor what is recursion?": true,
		"@MENTOR help":                   true,
		"ask the @Mentor about it":       true,
		"no tag here":                    false,
		"mentor without the at":          false,
		"":                               false,
	}
	for content, want := range cases {
		if got := d.Triggered(content); got != want {
			t.Errorf("Triggered(%q) = %v, want %v", content, got, want)
		}
	}
}

func TestDispatchPostsAssistantReply(t *testing.T) {
	relay := &fakeRelay{reply: "Recursion is a function calling itself."}
	var posted []*wire.Message
	post := func(m *wire.Message) { posted = append(posted, m) }

	history := []wire.Message{
		{ID: "m1", UserEmail: "alice@x.com", Content: "hi"},
		{ID: "m2", UserEmail: "bob@x.com", Content: "hello"},
		{ID: "q", UserEmail: "alice@x.com", Content: "@mentor what is recursion?"},
	}
	d := New("@mentor", relay, recentOf(history...), post, nil, zap.NewNop())

	d.Dispatch(context.Background(), &history[2])

	if relay.gotMessage != "@mentor what is recursion?" {
		t.Errorf("relayed message = %q", relay.gotMessage)
	}
	// The tagging message is excluded from its own context window.
	if len(relay.gotContext) != 2 {
		t.Fatalf("context = %v", relay.gotContext)
	}
	if relay.gotContext[0] != "alice: hi" || relay.gotContext[1] != "bob: hello" {
		t.Errorf("context lines = %v", relay.gotContext)
	}

	if len(posted) != 1 {
		t.Fatalf("posted %d messages, want 1", len(posted))
	}
	if posted[0].UserEmail != wire.AssistantEmail {
		t.Errorf("author = %q, want assistant identity", posted[0].UserEmail)
	}
	if posted[0].Content != relay.reply {
		t.Errorf("content = %q", posted[0].Content)
	}
	if posted[0].RoomID != history[2].RoomID || posted[0].ID == "" || posted[0].CreatedAt.IsZero() {
		t.Errorf("posted message fields: %+v", posted[0])
	}
}

func TestDispatchFailurePostsNotice(t *testing.T) {
	relay := &fakeRelay{err: errors.New("upstream 502")}
	var posted []*wire.Message
	post := func(m *wire.Message) { posted = append(posted, m) }

	d := New("@mentor", relay, recentOf(), post, nil, zap.NewNop())
	d.Dispatch(context.Background(), &wire.Message{
		ID: "q", RoomID: "r1", UserEmail: "alice@x.com", Content: "@mentor help",
	})

	if len(posted) != 1 {
		t.Fatalf("posted %d messages, want failure notice", len(posted))
	}
	if posted[0].UserEmail != wire.AssistantEmail {
		t.Errorf("notice author = %q", posted[0].UserEmail)
	}
	if !strings.Contains(posted[0].Content, "Sorry, I'm having trouble responding right now") ||
		!strings.Contains(posted[0].Content, "upstream 502") {
		t.Errorf("notice = %q", posted[0].Content)
	}
	if posted[0].RoomID != "r1" {
		t.Errorf("notice room = %q", posted[0].RoomID)
	}
}

func TestDispatchUsesDisplayNames(t *testing.T) {
	relay := &fakeRelay{reply: "ok"}
	names := map[string]string{"alice@x.com": "Alice Liddell"}
	name := func(email string) string {
		if n, ok := names[email]; ok {
			return n
		}
		return wire.FallbackDisplayName(email)
	}

	history := []wire.Message{
		{ID: "m1", UserEmail: "alice@x.com", Content: "hi"},
		{ID: "q", UserEmail: "bob@x.com", Content: "@mentor hi"},
	}
	d := New("@mentor", relay, recentOf(history...), func(*wire.Message) {}, name, zap.NewNop())
	d.Dispatch(context.Background(), &history[1])

	if len(relay.gotContext) != 1 || relay.gotContext[0] != "Alice Liddell: hi" {
		t.Errorf("context = %v", relay.gotContext)
	}
}

func TestContextWindowIsBounded(t *testing.T) {
	relay := &fakeRelay{reply: "ok"}
	var history []wire.Message
	for i := 0; i < 25; i++ {
		history = append(history, wire.Message{
			ID: fmt.Sprintf("m%02d", i), UserEmail: "u@x.com", Content: "msg",
			CreatedAt: time.Now(),
		})
	}
	d := New("@mentor", relay, recentOf(history...), func(*wire.Message) {}, nil, zap.NewNop())
	d.Dispatch(context.Background(), &wire.Message{ID: "q", Content: "@mentor hi"})

	if len(relay.gotContext) != contextWindow {
		t.Errorf("context size = %d, want %d", len(relay.gotContext), contextWindow)
	}
}
