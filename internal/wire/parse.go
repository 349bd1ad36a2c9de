package wire

import (
	"encoding/json"
	"fmt"
)

// Frame ops carried on the realtime channel.
const (
	OpChange = "change" // durable-store change event
	OpTyping = "typing" // ephemeral typing signal
	OpHello  = "hello"  // sent by the hub after subscribe
)

// ChangeType tags a durable-store change event.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Frame is the raw envelope exchanged on the realtime channel. Exactly
// one of the payload fields is set depending on Op.
type Frame struct {
	Op     string          `json:"op"`
	Type   ChangeType      `json:"type,omitempty"`
	Table  string          `json:"table,omitempty"`
	RoomID string          `json:"room_id,omitempty"`
	New    json.RawMessage `json:"new,omitempty"`
	Old    json.RawMessage `json:"old,omitempty"`
	Typing *TypingSignal   `json:"typing_signal,omitempty"`
}

// ChangeEvent is the typed form of a change frame. Exactly one of the
// row pointers is non-nil, matching Table. Old rows are present only for
// update and delete events.
type ChangeEvent struct {
	Type   ChangeType
	Table  string
	RoomID string

	Message     *Message
	OldMessage  *Message
	Reaction    *Reaction
	OldReaction *Reaction
	Room        *Room
	OldRoom     *Room
}

// ParseFrame decodes and validates a raw realtime frame. Change frames
// are fully parsed into typed rows here so components downstream never
// handle loose JSON.
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	switch f.Op {
	case OpChange, OpTyping, OpHello:
	default:
		return nil, fmt.Errorf("unknown frame op %q", f.Op)
	}
	return &f, nil
}

// ChangeEvent converts a change frame into its typed form. Returns an
// error for unknown tables, missing rows, or rows that fail validation.
func (f *Frame) ChangeEvent() (*ChangeEvent, error) {
	if f.Op != OpChange {
		return nil, fmt.Errorf("frame op %q is not a change", f.Op)
	}
	switch f.Type {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return nil, fmt.Errorf("unknown change type %q", f.Type)
	}

	evt := &ChangeEvent{Type: f.Type, Table: f.Table, RoomID: f.RoomID}

	// Inserts and updates carry the new row; deletes carry the old one.
	switch f.Table {
	case TableMessages:
		if len(f.New) > 0 {
			m, err := decodeMessage(f.New)
			if err != nil {
				return nil, err
			}
			evt.Message = m
		}
		if len(f.Old) > 0 {
			m, err := decodeMessage(f.Old)
			if err != nil {
				return nil, err
			}
			evt.OldMessage = m
		}
		if evt.Message == nil && evt.OldMessage == nil {
			return nil, fmt.Errorf("message change event with no row")
		}
	case TableReactions:
		if len(f.New) > 0 {
			r, err := decodeReaction(f.New)
			if err != nil {
				return nil, err
			}
			evt.Reaction = r
		}
		if len(f.Old) > 0 {
			r, err := decodeReaction(f.Old)
			if err != nil {
				return nil, err
			}
			evt.OldReaction = r
		}
	case TableRooms:
		if len(f.New) > 0 {
			r := new(Room)
			if err := json.Unmarshal(f.New, r); err != nil {
				return nil, fmt.Errorf("decode room row: %w", err)
			}
			evt.Room = r
		}
		if len(f.Old) > 0 {
			r := new(Room)
			if err := json.Unmarshal(f.Old, r); err != nil {
				return nil, fmt.Errorf("decode room row: %w", err)
			}
			evt.OldRoom = r
		}
	default:
		return nil, fmt.Errorf("change event for unknown table %q", f.Table)
	}

	return evt, nil
}

func decodeMessage(raw json.RawMessage) (*Message, error) {
	m := new(Message)
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, fmt.Errorf("decode message row: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("message row missing id")
	}
	return m, nil
}

func decodeReaction(raw json.RawMessage) (*Reaction, error) {
	r := new(Reaction)
	if err := json.Unmarshal(raw, r); err != nil {
		return nil, fmt.Errorf("decode reaction row: %w", err)
	}
	if r.MessageID == "" || r.Emoji == "" {
		return nil, fmt.Errorf("reaction row missing message_id or emoji")
	}
	return r, nil
}

// EncodeChange builds a change frame for broadcast. new and old may be
// nil; they are marshalled as-is into the frame payload.
func EncodeChange(typ ChangeType, table, roomID string, newRow, oldRow any) ([]byte, error) {
	f := Frame{Op: OpChange, Type: typ, Table: table, RoomID: roomID}
	if newRow != nil {
		raw, err := json.Marshal(newRow)
		if err != nil {
			return nil, err
		}
		f.New = raw
	}
	if oldRow != nil {
		raw, err := json.Marshal(oldRow)
		if err != nil {
			return nil, err
		}
		f.Old = raw
	}
	return json.Marshal(&f)
}

// EncodeTyping builds a typing frame for broadcast.
func EncodeTyping(sig *TypingSignal) ([]byte, error) {
	return json.Marshal(&Frame{Op: OpTyping, RoomID: sig.RoomID, Typing: sig})
}

// EncodeHello builds the frame the hub sends once a subscription is
// established.
func EncodeHello(roomID string) ([]byte, error) {
	return json.Marshal(&Frame{Op: OpHello, RoomID: roomID})
}
