package glitch

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies a detector lifecycle event.
type EventType string

const (
	GlitchDetectedEvent EventType = "glitch:detected"
	GlitchResolvedEvent EventType = "glitch:resolved"
	RecoverySuccess     EventType = "recovery:success"
	RecoveryFailed      EventType = "recovery:failed"
	RecoveryError       EventType = "recovery:error"
)

// Event is emitted to all registered observers when the detector changes
// state or a recovery attempt concludes.
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Signals   []string      `json:"signals,omitempty"`  // which signals fired, on detection
	Duration  time.Duration `json:"duration,omitempty"` // glitch duration, on resolution
	Method    string        `json:"method,omitempty"`   // recovery method, on success
	Error     string        `json:"error,omitempty"`    // on recovery:error
}

func newEvent(t EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now(),
	}
}
