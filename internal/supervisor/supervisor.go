package supervisor

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanpelt/scrollguard/internal/config"
	"github.com/vanpelt/scrollguard/internal/glitch"
	"github.com/vanpelt/scrollguard/internal/logger"
	"github.com/vanpelt/scrollguard/internal/models"
	"github.com/vanpelt/scrollguard/internal/recovery"
	"github.com/vanpelt/scrollguard/internal/term"
)

// Supervisor intercepts every outbound chunk on its way to the terminal,
// classifies it, and decides whether to prepend corrective directives. It
// owns the render and line counters and coordinates against the typing
// tracker so a clear never clobbers a keystroke echo in flight.
type Supervisor struct {
	mu sync.Mutex

	cfg      *config.Store
	typing   *TypingTracker
	detector *glitch.Detector // optional; nil degrades gracefully

	// sink is the single locked write path, used only by periodic
	// maintenance and recovery. Relay chunks are written by the caller
	// after HandleOutbound returns.
	sink        io.Writer
	interactive bool

	renderCount        int
	lineCount          int
	maintenancePending bool
	maintenanceTimer   *time.Timer

	recoveryInFlight atomic.Bool

	clearsInjected int64
	forcedTrims    int64
	chunksHandled  int64
	bytesRelayed   int64

	stopCh   chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

// New builds a supervisor. interactive gates every injected directive and
// the recovery dispatch: pipes and files receive the child's output
// byte-identical and never see corrective writes. detector may be nil.
func New(cfg *config.Store, sink io.Writer, interactive bool, detector *glitch.Detector) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		typing:      NewTypingTracker(func() time.Duration { return cfg.Get().TypingCooldown }),
		detector:    detector,
		sink:        sink,
		interactive: interactive,
		stopCh:      make(chan struct{}),
	}
}

// Typing exposes the tracker so the inbound relay can feed it keystrokes.
func (s *Supervisor) Typing() *TypingTracker {
	return s.typing
}

// RecordKeystroke is called for every inbound keystroke: it feeds the
// typing tracker and the detector's stdin-activity sample.
func (s *Supervisor) RecordKeystroke() {
	s.typing.RecordActivity()
	if s.detector != nil {
		s.detector.RecordStdin()
	}
}

// HandleOutbound classifies one outbound chunk and returns the corrected
// chunk to emit in its place. It never reorders output, at most it
// prepends directives to the chunk it was given, and it never fails:
// classification and counters are pure arithmetic and pattern matching.
func (s *Supervisor) HandleOutbound(chunk []byte) []byte {
	class := Classify(chunk)

	// The typing path bypasses all counters: interactive latency is never
	// added while the user is editing the input line.
	if class == KeystrokeEcho {
		s.typing.RecordActivity()
		return chunk
	}

	if s.detector != nil {
		s.detector.RecordOutput()
	}

	s.mu.Lock()
	cfg := s.cfg.Get()

	s.chunksHandled++
	s.bytesRelayed += int64(len(chunk))
	s.renderCount++
	s.lineCount += CountLineEndings(chunk)

	var prefix []byte

	// Hard safety cap: fires even while typing, because unbounded buffer
	// growth is worse than a momentary visual hiccup. On non-interactive
	// sinks there is no terminal buffer to protect, so the counter just
	// keeps counting.
	if s.interactive && cfg.MaxLineCount > 0 && s.lineCount > cfg.MaxLineCount {
		s.lineCount = 0
		s.forcedTrims++
		prefix = append(prefix, term.ForcedTrim...)
	}

	switch class {
	case Repaint:
		s.lineCount = 0
		if s.interactive && cfg.RenderClearThreshold > 0 && s.renderCount >= cfg.RenderClearThreshold {
			if s.typing.IsActive() {
				// Skip this cycle; the next repaint re-evaluates, so no
				// retry latch is needed.
				logger.Debugf("⏳ Deferring scrollback clear, typing active (renderCount=%d)", s.renderCount)
			} else {
				s.renderCount = 0
				s.clearsInjected++
				prefix = append(prefix, term.ClearScrollback...)
			}
		}
	case ExplicitClear:
		// The program cleared its own view, so the counters reset either
		// way; the injected directive is only for real terminals. The
		// user asked for this clear and it is never deferred.
		s.renderCount = 0
		s.lineCount = 0
		if s.interactive {
			s.clearsInjected++
			prefix = append(prefix, term.ClearScrollback...)
		}
	}

	// Glitch feedback: force an immediate trim and dispatch recovery
	// without blocking the output path. Recovery writes directives to the
	// sink, so like every other injection it is gated on interactivity.
	// The in-flight guard prevents re-entrant recovery spawns; completion
	// clears it regardless of outcome.
	if s.interactive && s.detector != nil && cfg.GlitchRecoveryEnabled && s.detector.IsGlitched() &&
		s.recoveryInFlight.CompareAndSwap(false, true) {
		s.renderCount = 0
		s.lineCount = 0
		prefix = append(prefix, term.ForcedTrim...)
		det := s.detector
		recovery.SafeGoWithCleanup("glitch-recovery", func() {
			det.Recover()
		}, func() {
			s.recoveryInFlight.Store(false)
		})
	}
	s.mu.Unlock()

	if len(prefix) == 0 {
		return chunk
	}

	out := make([]byte, 0, len(prefix)+len(chunk))
	out = append(out, prefix...)
	return append(out, chunk...)
}

// RunMaintenance performs one unconditional maintenance clear, deferring
// while typing is active. The deferral is latched: repeated calls while
// typing continues re-arm a single retry instead of stacking them.
func (s *Supervisor) RunMaintenance() {
	if !s.interactive {
		return
	}

	if s.typing.IsActive() {
		s.mu.Lock()
		if !s.maintenancePending {
			s.maintenancePending = true
			s.maintenanceTimer = time.AfterFunc(s.cfg.Get().TypingCooldown, func() {
				s.mu.Lock()
				s.maintenancePending = false
				s.maintenanceTimer = nil
				s.mu.Unlock()
				s.RunMaintenance()
			})
		}
		s.mu.Unlock()
		return
	}

	// No chunk is in flight, so this bypasses the chunk path and goes
	// straight to the locked sink.
	if _, err := s.sink.Write([]byte(term.ClearScrollback)); err != nil {
		logger.Debugf("⚠️  Maintenance clear write failed: %v", err)
		return
	}
	s.mu.Lock()
	s.clearsInjected++
	s.mu.Unlock()
	logger.Debugf("🧹 Periodic scrollback clear emitted")
}

// Start launches the periodic maintenance loop. A non-positive interval
// disables it.
func (s *Supervisor) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	recovery.SafeGo("periodic-maintenance", func() {
		interval := s.cfg.Get().PeriodicClearInterval
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunMaintenance()
			case <-s.stopCh:
				return
			}
		}
	})
}

// Stop cancels the maintenance loop and any pending deferred clear.
// Idempotent: stopping twice, or before Start, is a no-op.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.mu.Lock()
	if s.maintenanceTimer != nil {
		s.maintenanceTimer.Stop()
		s.maintenanceTimer = nil
	}
	s.maintenancePending = false
	s.mu.Unlock()
}

// Snapshot returns a read-only view of counters, config, and detector
// metrics for the diagnostics surface.
func (s *Supervisor) Snapshot() models.Snapshot {
	s.mu.Lock()
	snap := models.Snapshot{
		Config:         s.cfg.Get(),
		RenderCount:    s.renderCount,
		LineCount:      s.lineCount,
		ClearsInjected: s.clearsInjected,
		ForcedTrims:    s.forcedTrims,
		ChunksHandled:  s.chunksHandled,
		BytesRelayed:   s.bytesRelayed,
	}
	s.mu.Unlock()

	if s.detector != nil {
		m := s.detector.Snapshot()
		snap.Detector = &m
	}
	return snap
}
