// Package errs defines the error taxonomy every component boundary maps
// collaborator failures into. Nothing outside this set reaches the UI layer.
package errs

import "fmt"

// ValidationError reports blank or malformed required input. Recovered
// locally and surfaced inline; never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PermissionDenied reports an action rejected by an authorization rule.
type PermissionDenied struct {
	Actor  string
	Action string
}

func (e *PermissionDenied) Error() string {
	return fmt.Sprintf("%s is not allowed to %s", e.Actor, e.Action)
}

// LastRoomError reports an attempt to delete the only remaining room.
// The room set is never allowed to become empty.
type LastRoomError struct {
	RoomID string
}

func (e *LastRoomError) Error() string {
	return fmt.Sprintf("cannot delete room %s: it is the last room", e.RoomID)
}

// StoreUnavailable reports a durable-store I/O failure. Local optimistic
// state is preserved and shown as-is; the caller is not blocked.
type StoreUnavailable struct {
	Op  string
	Err error
}

func (e *StoreUnavailable) Error() string {
	return fmt.Sprintf("durable store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailable) Unwrap() error { return e.Err }

// AssistantFailure reports a failed external assistant call. It is
// converted into a visible in-chat message, never bubbled to the UI.
type AssistantFailure struct {
	Reason string
	Err    error
}

func (e *AssistantFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("assistant call failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("assistant call failed: %s", e.Reason)
}

func (e *AssistantFailure) Unwrap() error { return e.Err }
