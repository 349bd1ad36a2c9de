package bus

import "time"

// Event represents a domain event published on the bus. Room carries the
// room scope for room-tagged events and is empty for global ones.
type Event struct {
	Kind      string
	Room      string
	Timestamp time.Time
	Payload   any
}
