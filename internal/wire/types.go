// Package wire defines the row shapes shared by the hub and the client,
// the realtime frame format, and the boundary parser that turns raw
// frames into typed events. Payloads are validated here so the rest of
// the client only ever sees well-formed data.
package wire

import (
	"strings"
	"time"
)

// Table names in the durable store.
const (
	TableMessages  = "messages"
	TableReactions = "message_reactions"
	TableRooms     = "rooms"
	TableProfiles  = "profiles"
)

// AssistantEmail is the reserved identity that authors assistant replies.
const AssistantEmail = "mentor@ai.assistant"

// assistantAliases are historical identities the assistant has posted
// under; messages from any of them render with assistant styling.
var assistantAliases = []string{AssistantEmail, "mentorai@assistant", "mentor@ai"}

// IsAssistant reports whether the given identity is the reserved
// assistant identity (including legacy aliases).
func IsAssistant(email string) bool {
	for _, a := range assistantAliases {
		if email == a {
			return true
		}
	}
	return false
}

// FallbackDisplayName derives a display name from an identity when no
// profile exists: the part of the email before the @.
func FallbackDisplayName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

// Message is the storage/wire shape of one chat message. ID is client
// generated before the durable insert is acknowledged.
type Message struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"room_id"`
	UserEmail string     `json:"user_email"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	FileURL   string     `json:"file_url,omitempty"`
	FileName  string     `json:"file_name,omitempty"`
	FileType  string     `json:"file_type,omitempty"`
	FileSize  int64      `json:"file_size,omitempty"`
}

// Reaction is one (message, reactor, emoji) triple. The triple is unique;
// a reaction is created on toggle-on and deleted on toggle-off, never
// updated in place.
type Reaction struct {
	MessageID string    `json:"message_id"`
	UserEmail string    `json:"user_email"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Room is the storage/wire shape of one chat room.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile holds per-identity presentation data. At most one per identity.
type Profile struct {
	UserEmail   string `json:"user_email"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// TypingSignal is the ephemeral broadcast payload. Never persisted;
// superseded by the next signal or by local inactivity timeout.
type TypingSignal struct {
	RoomID      string `json:"room_id"`
	UserEmail   string `json:"user_email"`
	DisplayName string `json:"display_name"`
	Typing      bool   `json:"typing"`
}
