package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsArePositive(t *testing.T) {
	s := Defaults()
	assert.Positive(t, s.ResizeDebounceWindow)
	assert.Positive(t, s.PeriodicClearInterval)
	assert.Positive(t, s.RenderClearThreshold)
	assert.Positive(t, s.TypingCooldown)
	assert.Positive(t, s.MaxLineCount)
	assert.Positive(t, s.StdinSilenceThreshold)
	assert.Positive(t, s.ResizeStormThreshold)
	assert.Positive(t, s.ResizeStormCount)
	assert.Positive(t, s.RenderRateLimit)
	assert.Positive(t, s.CheckInterval)
	assert.Positive(t, s.RecoveryDelay)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("SCROLLGUARD_TYPING_COOLDOWN", "750ms")
	t.Setenv("SCROLLGUARD_RENDER_CLEAR_THRESHOLD", "250")
	t.Setenv("SCROLLGUARD_GLITCH_RECOVERY", "false")

	s := FromEnv()
	assert.Equal(t, 750*time.Millisecond, s.TypingCooldown)
	assert.Equal(t, 250, s.RenderClearThreshold)
	assert.False(t, s.GlitchRecoveryEnabled)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SCROLLGUARD_TYPING_COOLDOWN", "soon")
	t.Setenv("SCROLLGUARD_MAX_LINE_COUNT", "lots")

	s := FromEnv()
	assert.Equal(t, Defaults().TypingCooldown, s.TypingCooldown)
	assert.Equal(t, Defaults().MaxLineCount, s.MaxLineCount)
}

func TestStoreSetKnownKeys(t *testing.T) {
	store := NewStore(Defaults())

	t.Run("durations", func(t *testing.T) {
		assert.True(t, store.Set("typing_cooldown", "1s"))
		assert.Equal(t, time.Second, store.Get().TypingCooldown)
	})

	t.Run("counts", func(t *testing.T) {
		assert.True(t, store.Set("max_line_count", "5000"))
		assert.Equal(t, 5000, store.Get().MaxLineCount)
	})

	t.Run("booleans", func(t *testing.T) {
		assert.True(t, store.Set("glitch_recovery_enabled", "false"))
		assert.False(t, store.Get().GlitchRecoveryEnabled)
	})
}

func TestStoreSetUnknownKeyLeavesSnapshotUnchanged(t *testing.T) {
	store := NewStore(Defaults())
	before := store.Get()

	assert.False(t, store.Set("scrollback_turbo_mode", "on"))
	assert.Equal(t, before, store.Get())
}

func TestStoreSetBadValueLeavesSnapshotUnchanged(t *testing.T) {
	store := NewStore(Defaults())
	before := store.Get()

	assert.False(t, store.Set("typing_cooldown", "whenever"))
	assert.Equal(t, before, store.Get())
}

func TestLoadFileOverlaysYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scrollguard.yaml")
	content := "render_clear_threshold: 123\ntyping_cooldown: 2s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	s, err := LoadFile(path, Defaults())
	require.NoError(t, err)
	assert.Equal(t, 123, s.RenderClearThreshold)
	assert.Equal(t, 2*time.Second, s.TypingCooldown)
	// Untouched keys keep their defaults.
	assert.Equal(t, Defaults().MaxLineCount, s.MaxLineCount)
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	s, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), Defaults())
	require.NoError(t, err)
	assert.Equal(t, Defaults(), s)
}

func TestLoadFileMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0644))

	_, err := LoadFile(path, Defaults())
	assert.Error(t, err)
}

func TestWatcherAppliesLiveEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scrollguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte("render_clear_threshold: 100\n"), 0644))

	initial, err := LoadFile(path, Defaults())
	require.NoError(t, err)
	store := NewStore(initial)

	w, err := NewWatcher(store, path)
	require.NoError(t, err)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("render_clear_threshold: 900\n"), 0644))

	assert.Eventually(t, func() bool {
		return store.Get().RenderClearThreshold == 900
	}, 2*time.Second, 20*time.Millisecond)

	w.Stop() // stopping twice is fine
}
