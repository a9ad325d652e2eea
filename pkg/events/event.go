package events

import "time"

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the unique code for this event (e.g., "SESSION_STATUS_CHANGED").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// SessionStatusChanged is emitted on every session lifecycle transition.
const SessionStatusChanged = "SESSION_STATUS_CHANGED"

// SessionEvent is the wire shape of a session transition on every bus.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (e SessionEvent) EventType() string {
	return SessionStatusChanged
}

func (e SessionEvent) Payload() map[string]interface{} {
	data := map[string]interface{}{
		"session_id": e.SessionID,
		"status":     e.Status,
	}
	if e.Error != "" {
		data["error"] = e.Error
	}
	return data
}

func (e SessionEvent) Timestamp() time.Time {
	return e.OccurredAt
}
