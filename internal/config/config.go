package config

import (
	"os"
	"strconv"
	"sync"
	"time"
)

// Settings holds every tunable of the supervisor and the glitch detector.
// A zero or negative threshold disables the corresponding feature.
type Settings struct {
	// Supervisor tunables
	ResizeDebounceWindow  time.Duration `json:"resize_debounce_window"`
	PeriodicClearInterval time.Duration `json:"periodic_clear_interval"`
	RenderClearThreshold  int           `json:"render_clear_threshold"`
	TypingCooldown        time.Duration `json:"typing_cooldown"`
	MaxLineCount          int           `json:"max_line_count"`
	GlitchRecoveryEnabled bool          `json:"glitch_recovery_enabled"`

	// Detector tunables
	StdinSilenceThreshold time.Duration `json:"stdin_silence_threshold"`
	ResizeStormThreshold  time.Duration `json:"resize_storm_threshold"`
	ResizeStormCount      int           `json:"resize_storm_count"`
	RenderRateLimit       int           `json:"render_rate_limit"`
	CheckInterval         time.Duration `json:"check_interval"`
	RecoveryDelay         time.Duration `json:"recovery_delay"`

	// Process tunables
	DiagnosticsPort int  `json:"diagnostics_port"`
	Debug           bool `json:"debug"`
}

// Defaults returns the baseline settings before env or file overrides.
func Defaults() Settings {
	return Settings{
		ResizeDebounceWindow:  200 * time.Millisecond,
		PeriodicClearInterval: 60 * time.Second,
		RenderClearThreshold:  500,
		TypingCooldown:        500 * time.Millisecond,
		MaxLineCount:          10000,
		GlitchRecoveryEnabled: true,
		StdinSilenceThreshold: 30 * time.Second,
		ResizeStormThreshold:  time.Second,
		ResizeStormCount:      5,
		RenderRateLimit:       120,
		CheckInterval:         5 * time.Second,
		RecoveryDelay:         3 * time.Second,
		DiagnosticsPort:       0,
		Debug:                 false,
	}
}

// FromEnv builds settings from defaults plus SCROLLGUARD_* environment
// variables. Durations accept time.ParseDuration syntax ("500ms", "1m").
func FromEnv() Settings {
	s := Defaults()
	envDuration("SCROLLGUARD_RESIZE_DEBOUNCE", &s.ResizeDebounceWindow)
	envDuration("SCROLLGUARD_PERIODIC_CLEAR_INTERVAL", &s.PeriodicClearInterval)
	envInt("SCROLLGUARD_RENDER_CLEAR_THRESHOLD", &s.RenderClearThreshold)
	envDuration("SCROLLGUARD_TYPING_COOLDOWN", &s.TypingCooldown)
	envInt("SCROLLGUARD_MAX_LINE_COUNT", &s.MaxLineCount)
	envBool("SCROLLGUARD_GLITCH_RECOVERY", &s.GlitchRecoveryEnabled)
	envDuration("SCROLLGUARD_STDIN_SILENCE_THRESHOLD", &s.StdinSilenceThreshold)
	envDuration("SCROLLGUARD_RESIZE_STORM_THRESHOLD", &s.ResizeStormThreshold)
	envInt("SCROLLGUARD_RESIZE_STORM_COUNT", &s.ResizeStormCount)
	envInt("SCROLLGUARD_RENDER_RATE_LIMIT", &s.RenderRateLimit)
	envDuration("SCROLLGUARD_CHECK_INTERVAL", &s.CheckInterval)
	envDuration("SCROLLGUARD_RECOVERY_DELAY", &s.RecoveryDelay)
	envInt("SCROLLGUARD_DIAGNOSTICS_PORT", &s.DiagnosticsPort)
	envBool("DEBUG", &s.Debug)
	return s
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		switch v {
		case "1", "true", "TRUE", "True":
			*dst = true
		case "0", "false", "FALSE", "False":
			*dst = false
		}
	}
}

// Store is the shared, mutable view of the settings. The supervisor and
// detector read through it so runtime tuning applies without a restart.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

// NewStore wraps an initial settings value.
func NewStore(s Settings) *Store {
	return &Store{s: s}
}

// Get returns a copy of the current settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Replace swaps in a whole new settings value (used by the file watcher).
func (st *Store) Replace(s Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = s
}

// Set applies a single runtime update by key name. Unknown keys are
// ignored and reported as false, never treated as an error.
func (st *Store) Set(key, value string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return apply(&st.s, key, value)
}

// apply is shared by runtime tuning and the YAML file loader, so both
// accept the same key names and value syntax.
func apply(s *Settings, key, value string) bool {
	switch key {
	case "resize_debounce_window":
		return setDuration(&s.ResizeDebounceWindow, value)
	case "periodic_clear_interval":
		return setDuration(&s.PeriodicClearInterval, value)
	case "render_clear_threshold":
		return setInt(&s.RenderClearThreshold, value)
	case "typing_cooldown":
		return setDuration(&s.TypingCooldown, value)
	case "max_line_count":
		return setInt(&s.MaxLineCount, value)
	case "glitch_recovery_enabled":
		return setBool(&s.GlitchRecoveryEnabled, value)
	case "stdin_silence_threshold":
		return setDuration(&s.StdinSilenceThreshold, value)
	case "resize_storm_threshold":
		return setDuration(&s.ResizeStormThreshold, value)
	case "resize_storm_count":
		return setInt(&s.ResizeStormCount, value)
	case "render_rate_limit":
		return setInt(&s.RenderRateLimit, value)
	case "check_interval":
		return setDuration(&s.CheckInterval, value)
	case "recovery_delay":
		return setDuration(&s.RecoveryDelay, value)
	case "diagnostics_port":
		return setInt(&s.DiagnosticsPort, value)
	case "debug":
		return setBool(&s.Debug, value)
	default:
		return false
	}
}

func setDuration(dst *time.Duration, value string) bool {
	d, err := time.ParseDuration(value)
	if err != nil {
		return false
	}
	*dst = d
	return true
}

func setInt(dst *int, value string) bool {
	n, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	*dst = n
	return true
}

func setBool(dst *bool, value string) bool {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false
	}
	*dst = b
	return true
}
