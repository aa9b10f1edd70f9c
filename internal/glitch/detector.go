package glitch

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanpelt/scrollguard/internal/config"
	"github.com/vanpelt/scrollguard/internal/logger"
	"github.com/vanpelt/scrollguard/internal/recovery"
	"github.com/vanpelt/scrollguard/internal/term"
)

// outputActiveWindow is how recently the child must have produced output
// for stdin silence to count as anomalous. Silence with no output at all
// just means the session is idle.
const outputActiveWindow = 5 * time.Second

// sampleWindow is the trailing window for render-rate samples.
const sampleWindow = 60 * time.Second

// Metrics is the detector's cumulative counter snapshot.
type Metrics struct {
	Glitched             bool          `json:"glitched"`
	GlitchDuration       time.Duration `json:"glitch_duration,omitempty"`
	GlitchesDetected     int           `json:"glitches_detected"`
	RecoveriesAttempted  int           `json:"recoveries_attempted"`
	RecoveriesSucceeded  int           `json:"recoveries_succeeded"`
	StdinSilenceTriggers int           `json:"stdin_silence_triggers"`
	ResizeStormTriggers  int           `json:"resize_storm_triggers"`
	RenderSpikeTriggers  int           `json:"render_spike_triggers"`
}

// Detector watches timestamped activity samples for the pathological state
// where the terminal has stopped responding: output flowing but input
// blocked, resize storms, or runaway repaint rates. It votes on each
// periodic check and drives automated recovery when the vote flips.
//
// The detector never references the supervisor; it communicates through
// emitted events and queried state only.
type Detector struct {
	mu sync.Mutex

	cfg  *config.Store
	sink io.Writer // direct terminal writes for the clear-scrollback recovery

	// rolling state
	lastStdin     time.Time
	lastStdout    time.Time
	lastResize    time.Time
	resizeBurst   int
	outputSamples []time.Time
	glitched      bool
	glitchStart   time.Time

	metrics   Metrics
	observers []func(Event)

	recovering atomic.Bool
	started    atomic.Bool
	stopCh     chan struct{}
	stopOnce   sync.Once

	// injectable for tests
	now        func() time.Time
	sleep      func(time.Duration)
	sendEnter  func(pane string) error
	tmuxPane   string
	decayAfter func(time.Duration, func()) *time.Timer
}

// NewDetector builds a detector. sink is the terminal write path used by
// the last-resort recovery method.
func NewDetector(cfg *config.Store, sink io.Writer) *Detector {
	now := time.Now()
	return &Detector{
		cfg:        cfg,
		sink:       sink,
		lastStdin:  now,
		lastStdout: now,
		stopCh:     make(chan struct{}),
		now:        time.Now,
		sleep:      time.Sleep,
		sendEnter:  term.TmuxSendEnter,
		tmuxPane:   term.TmuxPane(),
		decayAfter: time.AfterFunc,
	}
}

// Subscribe registers an observer for detector events. Observers are
// invoked in registration order; a panic in one does not block the rest.
func (d *Detector) Subscribe(fn func(Event)) {
	d.mu.Lock()
	d.observers = append(d.observers, fn)
	d.mu.Unlock()
}

// RecordStdin samples inbound keystroke activity.
func (d *Detector) RecordStdin() {
	d.mu.Lock()
	d.lastStdin = d.now()
	d.mu.Unlock()
}

// RecordOutput samples outbound render activity.
func (d *Detector) RecordOutput() {
	d.mu.Lock()
	now := d.now()
	d.lastStdout = now
	d.outputSamples = append(d.outputSamples, now)
	d.pruneSamples(now)
	d.mu.Unlock()
}

// RecordResize samples a resize notification. Two notifications closer
// together than the storm threshold bump the burst counter; each bump
// decays one second later, so sustained storms stay elevated while an
// isolated burst drains back to zero.
func (d *Detector) RecordResize() {
	d.mu.Lock()
	now := d.now()
	threshold := d.cfg.Get().ResizeStormThreshold
	if threshold > 0 && !d.lastResize.IsZero() && now.Sub(d.lastResize) < threshold {
		d.resizeBurst++
		d.decayAfter(time.Second, d.decayBurst)
	}
	d.lastResize = now
	d.mu.Unlock()
}

func (d *Detector) decayBurst() {
	d.mu.Lock()
	if d.resizeBurst > 0 {
		d.resizeBurst--
	}
	d.mu.Unlock()
}

// pruneSamples drops output samples older than the trailing window.
// Callers hold d.mu.
func (d *Detector) pruneSamples(now time.Time) {
	cutoff := now.Add(-sampleWindow)
	i := 0
	for i < len(d.outputSamples) && d.outputSamples[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		d.outputSamples = append(d.outputSamples[:0], d.outputSamples[i:]...)
	}
}

// Check evaluates the vote once and handles state transitions. Called on
// each periodic tick and after every recovery attempt.
func (d *Detector) Check() {
	d.mu.Lock()

	s := d.cfg.Get()
	now := d.now()

	silence := s.StdinSilenceThreshold > 0 &&
		now.Sub(d.lastStdin) > s.StdinSilenceThreshold &&
		now.Sub(d.lastStdout) < outputActiveWindow

	storm := s.ResizeStormCount > 0 && d.resizeBurst >= s.ResizeStormCount

	d.pruneSamples(now)
	spike := s.RenderRateLimit > 0 && len(d.outputSamples) > s.RenderRateLimit

	var fired []string
	if silence {
		fired = append(fired, "stdin-silence")
	}
	if storm {
		fired = append(fired, "resize-storm")
	}
	if spike {
		fired = append(fired, "render-spike")
	}

	// Stdin silence is independently sufficient: of the three signals it
	// has the lowest false-positive rate. Otherwise two must agree.
	vote := silence || len(fired) >= 2

	var event *Event
	switch {
	case vote && !d.glitched:
		d.glitched = true
		d.glitchStart = now
		d.metrics.Glitched = true
		d.metrics.GlitchesDetected++
		if silence {
			d.metrics.StdinSilenceTriggers++
		}
		if storm {
			d.metrics.ResizeStormTriggers++
		}
		if spike {
			d.metrics.RenderSpikeTriggers++
		}
		ev := newEvent(GlitchDetectedEvent)
		ev.Signals = fired
		event = &ev
	case !vote && d.glitched:
		elapsed := now.Sub(d.glitchStart)
		d.glitched = false
		d.glitchStart = time.Time{}
		d.metrics.Glitched = false
		ev := newEvent(GlitchResolvedEvent)
		ev.Duration = elapsed
		event = &ev
	}

	d.mu.Unlock()

	if event != nil {
		if event.Type == GlitchDetectedEvent {
			logger.Warnf("🚨 Glitch detected (signals: %v)", event.Signals)
		} else {
			logger.Infof("✅ Glitch resolved after %s", event.Duration)
		}
		d.emit(*event)
	}
}

// IsGlitched reports the current vote state.
func (d *Detector) IsGlitched() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.glitched
}

// Snapshot returns the cumulative metrics.
func (d *Detector) Snapshot() Metrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.metrics
	m.Glitched = d.glitched
	if d.glitched {
		m.GlitchDuration = d.now().Sub(d.glitchStart)
	}
	return m
}

// Reset clears all rolling state and forces Normal. Used after an external
// actor confirms manual recovery.
func (d *Detector) Reset() {
	d.mu.Lock()
	now := d.now()
	d.lastStdin = now
	d.lastStdout = now
	d.lastResize = time.Time{}
	d.resizeBurst = 0
	d.outputSamples = nil
	wasGlitched := d.glitched
	elapsed := now.Sub(d.glitchStart)
	d.glitched = false
	d.glitchStart = time.Time{}
	d.metrics.Glitched = false
	d.mu.Unlock()

	if wasGlitched {
		ev := newEvent(GlitchResolvedEvent)
		ev.Duration = elapsed
		d.emit(ev)
	}
}

// Start launches the periodic check loop. Calling it again is a no-op.
func (d *Detector) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	recovery.SafeGo("glitch-check", func() {
		interval := d.cfg.Get().CheckInterval
		if interval <= 0 {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Check()
			case <-d.stopCh:
				return
			}
		}
	})
}

// Stop ends the periodic checks. Idempotent.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// Recover attempts the recovery chain: a multiplexer carriage-return
// injection when a tmux pane is available, then an unconditional
// scrollback clear. Each attempt waits the recovery delay and re-votes.
// Re-entrant calls while an attempt is in flight return false immediately.
func (d *Detector) Recover() bool {
	if !d.recovering.CompareAndSwap(false, true) {
		return false
	}
	defer d.recovering.Store(false)

	d.mu.Lock()
	d.metrics.RecoveriesAttempted++
	delay := d.cfg.Get().RecoveryDelay
	pane := d.tmuxPane
	d.mu.Unlock()

	if pane != "" {
		if d.attempt("tmux-enter", delay, func() error {
			return d.sendEnter(pane)
		}) {
			return true
		}
	}

	if d.attempt("scrollback-clear", delay, func() error {
		_, err := d.sink.Write([]byte(term.ClearScrollback))
		return err
	}) {
		return true
	}

	logger.Warnf("❌ Glitch recovery exhausted all methods")
	d.emit(newEvent(RecoveryFailed))
	return false
}

// attempt runs one recovery method. Errors and panics are converted into a
// recovery:error event and a failed attempt; they never propagate.
func (d *Detector) attempt(method string, delay time.Duration, fn func() error) bool {
	if err := runSafely(fn); err != nil {
		logger.Warnf("⚠️  Recovery method %s errored: %v", method, err)
		ev := newEvent(RecoveryError)
		ev.Method = method
		ev.Error = err.Error()
		d.emit(ev)
		return false
	}

	d.sleep(delay)
	d.Check()
	if d.IsGlitched() {
		return false
	}

	logger.Infof("✅ Glitch recovered via %s", method)
	d.mu.Lock()
	d.metrics.RecoveriesSucceeded++
	d.mu.Unlock()
	ev := newEvent(RecoverySuccess)
	ev.Method = method
	d.emit(ev)
	return true
}

func runSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery attempt panicked: %v", r)
		}
	}()
	return fn()
}

func (d *Detector) emit(ev Event) {
	d.mu.Lock()
	observers := make([]func(Event), len(d.observers))
	copy(observers, d.observers)
	d.mu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("🚨 PANIC recovered in glitch observer: %v", r)
				}
			}()
			fn(ev)
		}()
	}
}
