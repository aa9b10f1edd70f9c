package models

import (
	"time"

	"github.com/vanpelt/scrollguard/internal/config"
	"github.com/vanpelt/scrollguard/internal/glitch"
)

// Snapshot is the read-only diagnostics view served by the stats endpoint.
type Snapshot struct {
	Config         config.Settings `json:"config"`
	RenderCount    int             `json:"render_count"`
	LineCount      int             `json:"line_count"`
	ClearsInjected int64           `json:"clears_injected"`
	ForcedTrims    int64           `json:"forced_trims"`
	ChunksHandled  int64           `json:"chunks_handled"`
	BytesRelayed   int64           `json:"bytes_relayed"`
	Detector       *glitch.Metrics `json:"detector,omitempty"`
}

// SessionSummary is persisted to disk when a relay session ends.
type SessionSummary struct {
	SessionID      string          `json:"session_id"`
	Command        []string        `json:"command"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
	ExitCode       int             `json:"exit_code"`
	BytesRelayed   int64           `json:"bytes_relayed"`
	ClearsInjected int64           `json:"clears_injected"`
	ForcedTrims    int64           `json:"forced_trims"`
	Detector       *glitch.Metrics `json:"detector,omitempty"`
}
