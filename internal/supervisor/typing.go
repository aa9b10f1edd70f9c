package supervisor

import (
	"sync"
	"time"
)

// TypingTracker records when the user last pressed a key. Corrective
// scrollback clears are deferred while typing is active so an injected
// directive never lands between a keystroke and its echo.
type TypingTracker struct {
	mu       sync.Mutex
	last     time.Time
	cooldown func() time.Duration
	now      func() time.Time
}

// NewTypingTracker builds a tracker whose cooldown window is re-read on
// every check so runtime tuning applies immediately.
func NewTypingTracker(cooldown func() time.Duration) *TypingTracker {
	return &TypingTracker{
		cooldown: cooldown,
		now:      time.Now,
	}
}

// RecordActivity marks now as the last keystroke time. The timestamp only
// moves forward. Called on every inbound keystroke and every outbound
// keystroke echo, so it has to stay O(1).
func (t *TypingTracker) RecordActivity() {
	t.mu.Lock()
	if now := t.now(); now.After(t.last) {
		t.last = now
	}
	t.mu.Unlock()
}

// IsActive reports whether the last keystroke is within the cooldown
// window. A non-positive cooldown disables typing deferral entirely.
func (t *TypingTracker) IsActive() bool {
	cooldown := t.cooldown()
	if cooldown <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last.IsZero() {
		return false
	}
	return t.now().Sub(t.last) < cooldown
}

// LastActivity returns the last recorded keystroke time.
func (t *TypingTracker) LastActivity() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
