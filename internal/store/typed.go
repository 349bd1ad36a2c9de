package store

import (
	"context"
	"time"

	"github.com/mentorchat/mentorchat/internal/wire"
)

// Messages fetches every message in a room in (created_at, id) order.
func (c *Client) Messages(ctx context.Context, roomID string) ([]wire.Message, error) {
	var out []wire.Message
	err := c.Select(ctx, wire.TableMessages,
		map[string]any{"room_id": roomID}, "created_at asc", 0, &out)
	return out, err
}

// RecentMessages fetches the latest n messages of a room in
// chronological order.
func (c *Client) RecentMessages(ctx context.Context, roomID string, n int) ([]wire.Message, error) {
	var out []wire.Message
	err := c.Select(ctx, wire.TableMessages,
		map[string]any{"room_id": roomID}, "created_at desc", n, &out)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// InsertMessage persists one message row.
func (c *Client) InsertMessage(ctx context.Context, m *wire.Message) error {
	return c.Insert(ctx, wire.TableMessages, []*wire.Message{m})
}

// EditMessage rewrites a message's content and stamps edited_at. The
// last writer wins; there is no concurrency token.
func (c *Client) EditMessage(ctx context.Context, id, content string, editedAt time.Time) error {
	return c.Update(ctx, wire.TableMessages,
		map[string]any{"content": content, "edited_at": editedAt.UTC().Format(time.RFC3339)},
		map[string]any{"id": id})
}

// DeleteMessage removes one message row. Its reactions cascade away on
// the hub side.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.Delete(ctx, wire.TableMessages, map[string]any{"id": id})
}

// DeleteRoomMessages removes every message of a room.
func (c *Client) DeleteRoomMessages(ctx context.Context, roomID string) error {
	return c.Delete(ctx, wire.TableMessages, map[string]any{"room_id": roomID})
}

// Reactions fetches the entire reaction table. Reaction state is always
// rebuilt from a full refetch, never patched incrementally.
func (c *Client) Reactions(ctx context.Context) ([]wire.Reaction, error) {
	var out []wire.Reaction
	err := c.Select(ctx, wire.TableReactions, nil, "created_at asc", 0, &out)
	return out, err
}

// InsertReaction persists one reaction triple.
func (c *Client) InsertReaction(ctx context.Context, r *wire.Reaction) error {
	return c.Insert(ctx, wire.TableReactions, []*wire.Reaction{r})
}

// DeleteReaction removes one reaction triple.
func (c *Client) DeleteReaction(ctx context.Context, messageID, userEmail, emoji string) error {
	return c.Delete(ctx, wire.TableReactions, map[string]any{
		"message_id": messageID, "user_email": userEmail, "emoji": emoji,
	})
}

// Rooms fetches all rooms in creation order.
func (c *Client) Rooms(ctx context.Context) ([]wire.Room, error) {
	var out []wire.Room
	err := c.Select(ctx, wire.TableRooms, nil, "created_at asc", 0, &out)
	return out, err
}

// InsertRoom persists one room row.
func (c *Client) InsertRoom(ctx context.Context, r *wire.Room) error {
	return c.Insert(ctx, wire.TableRooms, []*wire.Room{r})
}

// DeleteRoom removes one room row. Callers delete the room's messages
// first so no orphans remain.
func (c *Client) DeleteRoom(ctx context.Context, id string) error {
	return c.Delete(ctx, wire.TableRooms, map[string]any{"id": id})
}

// Profiles fetches every stored profile.
func (c *Client) Profiles(ctx context.Context) ([]wire.Profile, error) {
	var out []wire.Profile
	err := c.Select(ctx, wire.TableProfiles, nil, "", 0, &out)
	return out, err
}

// UpsertProfile creates or rewrites the caller's profile row.
func (c *Client) UpsertProfile(ctx context.Context, p *wire.Profile) error {
	var existing []wire.Profile
	if err := c.Select(ctx, wire.TableProfiles,
		map[string]any{"user_email": p.UserEmail}, "", 1, &existing); err != nil {
		return err
	}
	if len(existing) == 0 {
		return c.Insert(ctx, wire.TableProfiles, []*wire.Profile{p})
	}
	return c.Update(ctx, wire.TableProfiles,
		map[string]any{"display_name": p.DisplayName, "avatar": p.Avatar, "bio": p.Bio},
		map[string]any{"user_email": p.UserEmail})
}
