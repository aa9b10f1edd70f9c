package supervisor

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanpelt/scrollguard/internal/config"
	"github.com/vanpelt/scrollguard/internal/glitch"
	"github.com/vanpelt/scrollguard/internal/term"
)

// syncBuffer is a goroutine-safe sink for maintenance-write assertions.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestSupervisor(mutate func(*config.Settings)) (*Supervisor, *config.Store, *syncBuffer) {
	s := config.Defaults()
	s.PeriodicClearInterval = 0 // background loops off in unit tests
	s.TypingCooldown = 0
	if mutate != nil {
		mutate(&s)
	}
	store := config.NewStore(s)
	sink := &syncBuffer{}
	return New(store, sink, true, nil), store, sink
}

const repaintFrame = "\x1b[2J\x1b[Hredrawn frame\n"

func TestKeystrokeEchoPassesThroughUntouched(t *testing.T) {
	sup, _, _ := newTestSupervisor(nil)

	for _, chunk := range []string{"a", "\b \b", "\r\n", "\x1b[C"} {
		out := sup.HandleOutbound([]byte(chunk))
		assert.Equal(t, []byte(chunk), out, "echo chunk %q must come back byte-identical", chunk)
	}

	snap := sup.Snapshot()
	assert.Zero(t, snap.RenderCount, "echo chunks bypass all counters")
	assert.Zero(t, snap.LineCount)
	assert.Zero(t, snap.ChunksHandled)
}

func TestRepaintClearAtThreshold(t *testing.T) {
	sup, _, _ := newTestSupervisor(func(s *config.Settings) {
		s.RenderClearThreshold = 500
	})

	for i := 1; i < 500; i++ {
		out := sup.HandleOutbound([]byte(repaintFrame))
		require.False(t, bytes.Contains(out, []byte(term.ClearScrollback)),
			"no clear before the threshold (repaint %d)", i)
	}

	// The 500th repaint crosses the threshold and gets the directive.
	out := sup.HandleOutbound([]byte(repaintFrame))
	assert.True(t, bytes.HasPrefix(out, []byte(term.ClearScrollback)))
	assert.True(t, bytes.HasSuffix(out, []byte(repaintFrame)), "original chunk follows the directive")

	// renderCount reset before chunk 501 is processed.
	out = sup.HandleOutbound([]byte(repaintFrame))
	assert.False(t, bytes.Contains(out, []byte(term.ClearScrollback)))
	assert.Equal(t, 1, sup.Snapshot().RenderCount)
}

func TestRepaintClearDeferredWhileTyping(t *testing.T) {
	sup, _, _ := newTestSupervisor(func(s *config.Settings) {
		s.RenderClearThreshold = 3
		s.TypingCooldown = 500 * time.Millisecond
	})

	base := time.Now()
	sup.typing.now = func() time.Time { return base }
	sup.typing.RecordActivity()

	// Keystroke 50ms ago: typing is active, clears are deferred.
	sup.typing.now = func() time.Time { return base.Add(50 * time.Millisecond) }
	for i := 0; i < 5; i++ {
		out := sup.HandleOutbound([]byte(repaintFrame))
		assert.False(t, bytes.Contains(out, []byte(term.ClearScrollback)),
			"repaint %d deferred while typing", i)
	}

	// Once the cooldown lapses, the next qualifying repaint gets the clear.
	sup.typing.now = func() time.Time { return base.Add(time.Second) }
	out := sup.HandleOutbound([]byte(repaintFrame))
	assert.True(t, bytes.HasPrefix(out, []byte(term.ClearScrollback)))
}

func TestExplicitClearNeverDeferred(t *testing.T) {
	sup, _, _ := newTestSupervisor(func(s *config.Settings) {
		s.TypingCooldown = 500 * time.Millisecond
	})

	base := time.Now()
	sup.typing.now = func() time.Time { return base }
	sup.typing.RecordActivity()
	sup.typing.now = func() time.Time { return base.Add(50 * time.Millisecond) }
	require.True(t, sup.typing.IsActive())

	out := sup.HandleOutbound([]byte("Conversation cleared\r\n"))
	assert.True(t, bytes.HasPrefix(out, []byte(term.ClearScrollback)),
		"user-requested clears are injected even mid-typing")
	assert.Zero(t, sup.Snapshot().LineCount)
	assert.Zero(t, sup.Snapshot().RenderCount)
}

func TestHardLineCapFiresEvenWhileTyping(t *testing.T) {
	sup, _, _ := newTestSupervisor(func(s *config.Settings) {
		s.MaxLineCount = 10
		s.TypingCooldown = time.Hour // typing effectively always active
	})
	sup.typing.RecordActivity()

	chunk := []byte(strings.Repeat("line\n", 11))
	out := sup.HandleOutbound(chunk)
	assert.True(t, bytes.HasPrefix(out, []byte(term.ForcedTrim)),
		"the cap is a hard safety limit, typing does not defer it")

	snap := sup.Snapshot()
	assert.Zero(t, snap.LineCount, "lineCount resets after a forced trim")
	assert.Equal(t, int64(1), snap.ForcedTrims)
}

func TestLineCountResetsAndNeverGoesNegative(t *testing.T) {
	sup, _, _ := newTestSupervisor(nil)

	sup.HandleOutbound([]byte("one\ntwo\n"))
	assert.Equal(t, 2, sup.Snapshot().LineCount)

	sup.HandleOutbound([]byte(repaintFrame))
	assert.Zero(t, sup.Snapshot().LineCount, "repaint resets lineCount")

	sup.HandleOutbound([]byte("three\n"))
	sup.HandleOutbound([]byte("Chat cleared"))
	assert.Zero(t, sup.Snapshot().LineCount, "explicit clear resets lineCount")
	assert.GreaterOrEqual(t, sup.Snapshot().LineCount, 0)
}

func TestNonInteractiveSinkNeverReceivesDirectives(t *testing.T) {
	s := config.Defaults()
	s.RenderClearThreshold = 1
	s.MaxLineCount = 1
	s.TypingCooldown = 0
	store := config.NewStore(s)
	sink := &syncBuffer{}
	sup := New(store, sink, false, nil)

	out := sup.HandleOutbound([]byte(strings.Repeat("x\n", 5)))
	assert.Equal(t, []byte(strings.Repeat("x\n", 5)), out)

	out = sup.HandleOutbound([]byte(repaintFrame))
	assert.Equal(t, []byte(repaintFrame), out, "pipes get the child's output untouched")

	sup.RunMaintenance()
	assert.Empty(t, sink.String(), "no maintenance writes to non-interactive sinks")

	snap := sup.Snapshot()
	assert.Zero(t, snap.ClearsInjected, "suppressed clears must not be counted")
	assert.Zero(t, snap.ForcedTrims, "suppressed trims must not be counted")
}

func TestNonInteractiveSinkSkipsGlitchRecovery(t *testing.T) {
	s := config.Defaults()
	s.TypingCooldown = 0
	s.PeriodicClearInterval = 0
	s.CheckInterval = 0
	s.StdinSilenceThreshold = time.Nanosecond
	s.RecoveryDelay = 10 * time.Millisecond
	store := config.NewStore(s)
	sink := &syncBuffer{}

	det := glitch.NewDetector(store, sink)
	sup := New(store, sink, false, det)

	// Piped stdout means stdin is silent by nature, so output flow alone
	// trips the stdin-silence vote.
	det.RecordOutput()
	time.Sleep(time.Millisecond)
	det.Check()
	require.True(t, det.IsGlitched())

	out := sup.HandleOutbound([]byte("piped output\n"))
	assert.Equal(t, []byte("piped output\n"), out)

	// A dispatched recovery would write its clear directive to the sink
	// almost immediately; give a stray one time to show up.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.String(), "recovery directives must never reach a pipe")
	assert.False(t, sup.recoveryInFlight.Load(), "no recovery dispatched for non-interactive sinks")
}

func TestRunMaintenanceWritesClear(t *testing.T) {
	sup, _, sink := newTestSupervisor(nil)

	sup.RunMaintenance()
	assert.Equal(t, term.ClearScrollback, sink.String())
	assert.Equal(t, int64(1), sup.Snapshot().ClearsInjected)
}

func TestRunMaintenanceDefersWhileTypingWithSingleRearm(t *testing.T) {
	sup, _, sink := newTestSupervisor(func(s *config.Settings) {
		s.TypingCooldown = 60 * time.Millisecond
	})
	sup.typing.RecordActivity()

	// Repeated calls while typing latch a single retry instead of stacking.
	sup.RunMaintenance()
	sup.RunMaintenance()
	sup.RunMaintenance()
	assert.Empty(t, sink.String(), "deferred while typing")

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, term.ClearScrollback, sink.String(),
		"exactly one clear after the cooldown, not one per deferred call")
}

func TestStopIsIdempotent(t *testing.T) {
	sup, _, _ := newTestSupervisor(nil)

	// Disable before install is a no-op, not an error.
	sup.Stop()
	sup.Stop()

	sup2, _, _ := newTestSupervisor(nil)
	sup2.Start()
	sup2.Stop()
	sup2.Stop()
}

func TestConfigRoundTripThroughSnapshot(t *testing.T) {
	sup, store, _ := newTestSupervisor(nil)

	assert.True(t, store.Set("render_clear_threshold", "42"))
	assert.Equal(t, 42, sup.Snapshot().Config.RenderClearThreshold)

	before := sup.Snapshot().Config
	assert.False(t, store.Set("not_a_real_key", "1"), "unknown keys are ignored")
	assert.Equal(t, before, sup.Snapshot().Config)
}

func TestGlitchFeedbackForcesTrimOnce(t *testing.T) {
	s := config.Defaults()
	s.TypingCooldown = 0
	s.PeriodicClearInterval = 0
	s.StdinSilenceThreshold = time.Nanosecond
	s.RecoveryDelay = 300 * time.Millisecond
	s.CheckInterval = 0
	store := config.NewStore(s)
	sink := &syncBuffer{}

	det := glitch.NewDetector(store, sink)
	sup := New(store, sink, true, det)

	// Output flowing but stdin silent past the threshold: the next check
	// votes glitched.
	det.RecordOutput()
	time.Sleep(time.Millisecond)
	det.Check()
	require.True(t, det.IsGlitched())

	out := sup.HandleOutbound([]byte("stuck output"))
	assert.True(t, bytes.Contains(out, []byte(term.ForcedTrim)))
	assert.Zero(t, sup.Snapshot().RenderCount)

	// Recovery is in flight (recovery delay keeps it busy); a second chunk
	// must not dispatch another one or re-prepend the trim.
	out = sup.HandleOutbound([]byte("still stuck"))
	assert.False(t, bytes.Contains(out, []byte(term.ForcedTrim)),
		"in-flight guard prevents duplicate recovery injection")
}
