package model

import "time"

type SessionStatus string

const (
	SessionUploading  SessionStatus = "uploading"
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	// SessionNotFound is only reported for ids the registry never issued.
	SessionNotFound SessionStatus = "not_found"
)

const SessionNotFoundMessage = "Session not found"

// Session is the lifecycle record of one upload.
type Session struct {
	ID        string        `json:"id"`
	Status    SessionStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (s SessionStatus) rank() int {
	switch s {
	case SessionUploading:
		return 0
	case SessionProcessing:
		return 1
	case SessionCompleted, SessionFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanAdvanceTo reports whether moving from s to next goes strictly forward.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}
