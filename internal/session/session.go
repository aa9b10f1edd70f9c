package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	xterm "golang.org/x/term"

	"github.com/vanpelt/scrollguard/internal/config"
	"github.com/vanpelt/scrollguard/internal/glitch"
	"github.com/vanpelt/scrollguard/internal/logger"
	"github.com/vanpelt/scrollguard/internal/models"
	"github.com/vanpelt/scrollguard/internal/recovery"
	"github.com/vanpelt/scrollguard/internal/supervisor"
	"github.com/vanpelt/scrollguard/internal/term"
)

// Session runs one supervised program on a pseudo-terminal and relays
// bytes both ways: keystrokes feed the typing tracker and the detector's
// stdin sample on the way in, and every outbound chunk passes through the
// supervisor before reaching the real terminal.
type Session struct {
	ID      string
	Command []string

	cfg       *config.Store
	sup       *supervisor.Supervisor
	det       *glitch.Detector
	debouncer *supervisor.ResizeDebouncer
	stdout    *term.LockedWriter
	stdin     *os.File

	cmd       *exec.Cmd
	ptyFile   *os.File
	startedAt time.Time
}

// Options controls optional collaborators.
type Options struct {
	// DisableDetector runs without glitch detection; the supervisor
	// degrades gracefully.
	DisableDetector bool
}

// New wires a session together. The output sink is the process's stdout
// behind the single locked write path.
func New(cfg *config.Store, command []string, opts Options) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("no command to supervise")
	}

	stdout := term.NewLockedWriter(os.Stdout)
	interactive := term.IsInteractive(os.Stdout)

	var det *glitch.Detector
	if !opts.DisableDetector {
		det = glitch.NewDetector(cfg, stdout)
		det.Subscribe(logDetectorEvent)
	}

	s := &Session{
		ID:        uuid.NewString(),
		Command:   command,
		cfg:       cfg,
		sup:       supervisor.New(cfg, stdout, interactive, det),
		det:       det,
		debouncer: supervisor.NewResizeDebouncer(func() time.Duration { return cfg.Get().ResizeDebounceWindow }),
		stdout:    stdout,
		stdin:     os.Stdin,
	}
	return s, nil
}

// logDetectorEvent mirrors every detector event into the diagnostic log
// with structured fields, so sessions can be audited after the fact.
func logDetectorEvent(ev glitch.Event) {
	entry := logger.Logger.Info().
		Str("event_id", ev.ID).
		Str("type", string(ev.Type))
	if len(ev.Signals) > 0 {
		entry = entry.Strs("signals", ev.Signals)
	}
	if ev.Method != "" {
		entry = entry.Str("method", ev.Method)
	}
	if ev.Duration > 0 {
		entry = entry.Dur("duration", ev.Duration)
	}
	if ev.Error != "" {
		entry = entry.Str("error", ev.Error)
	}
	entry.Msg("detector event")
}

// Supervisor exposes the supervisor for the diagnostics surface.
func (s *Session) Supervisor() *supervisor.Supervisor {
	return s.sup
}

// Detector exposes the detector, nil when disabled.
func (s *Session) Detector() *glitch.Detector {
	return s.det
}

// Run spawns the command on a PTY, relays until it exits, and returns its
// exit code.
func (s *Session) Run() (int, error) {
	s.startedAt = time.Now()

	cmd := exec.Command(s.Command[0], s.Command[1:]...) // #nosec G204 - user-supplied command by design
	cmd.Env = os.Environ()
	s.cmd = cmd

	ptyFile, err := pty.Start(cmd)
	if err != nil {
		return -1, fmt.Errorf("failed to start PTY: %w", err)
	}
	s.ptyFile = ptyFile
	defer ptyFile.Close()

	logger.Infof("🚀 Supervising %v (session %s, pid %d)", s.Command, s.ID, cmd.Process.Pid)

	// Match the child's terminal size to ours, now and on every settled
	// resize burst.
	if err := pty.InheritSize(s.stdin, ptyFile); err != nil {
		logger.Debugf("⚠️  Failed to inherit terminal size: %v", err)
	}
	s.debouncer.RegisterReaction(func() {
		if err := pty.InheritSize(s.stdin, ptyFile); err != nil {
			logger.Debugf("⚠️  PTY resize failed: %v", err)
		}
	})

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	recovery.SafeGo("resize-signals", func() {
		for range winch {
			if s.det != nil {
				s.det.RecordResize()
			}
			s.debouncer.Notify()
		}
	})

	// Raw mode so keystrokes reach the child unbuffered. Restored before
	// returning even if the relay fails.
	if xterm.IsTerminal(int(s.stdin.Fd())) {
		oldState, err := xterm.MakeRaw(int(s.stdin.Fd()))
		if err != nil {
			return -1, fmt.Errorf("failed to enter raw mode: %w", err)
		}
		defer func() {
			_ = xterm.Restore(int(s.stdin.Fd()), oldState)
		}()
	}

	s.sup.Start()
	defer s.sup.Stop()
	if s.det != nil {
		s.det.Start()
		defer s.det.Stop()
	}

	// Inbound: keystrokes to the child.
	recovery.SafeGo("stdin-relay", func() {
		buf := make([]byte, 1024)
		for {
			n, err := s.stdin.Read(buf)
			if n > 0 {
				s.sup.RecordKeystroke()
				if _, werr := ptyFile.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	})

	// Outbound: child output through the supervisor to the terminal. Runs
	// on this goroutine so the relay ends when the PTY closes.
	relayErr := s.relayOutput()

	err = cmd.Wait()
	s.debouncer.Cancel()
	signal.Stop(winch)
	close(winch)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return -1, fmt.Errorf("command failed: %w", err)
		}
	}

	s.writeSummary(exitCode)
	logger.Infof("🏁 Session %s finished with exit code %d", s.ID, exitCode)

	if relayErr != nil {
		// Transport-level write errors surface to the caller unchanged;
		// corrective logic itself never fails the relay.
		return exitCode, relayErr
	}
	return exitCode, nil
}

func (s *Session) relayOutput() error {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptyFile.Read(buf)
		if n > 0 {
			corrected := s.sup.HandleOutbound(buf[:n])
			if _, werr := s.stdout.Write(corrected); werr != nil {
				return fmt.Errorf("terminal write failed: %w", werr)
			}
		}
		if err != nil {
			// EOF or EIO means the child closed its side; either way the
			// relay is over.
			if err == io.EOF {
				return nil
			}
			return nil
		}
	}
}

// writeSummary persists a JSON summary of the session under
// ~/.scrollguard/sessions/. Failures are logged, never fatal.
func (s *Session) writeSummary(exitCode int) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	dir := filepath.Join(home, ".scrollguard", "sessions")
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Debugf("⚠️  Failed to create session summary directory: %v", err)
		return
	}

	snap := s.sup.Snapshot()
	summary := models.SessionSummary{
		SessionID:      s.ID,
		Command:        s.Command,
		StartedAt:      s.startedAt,
		EndedAt:        time.Now(),
		ExitCode:       exitCode,
		BytesRelayed:   snap.BytesRelayed,
		ClearsInjected: snap.ClearsInjected,
		ForcedTrims:    snap.ForcedTrims,
		Detector:       snap.Detector,
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.json", s.ID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		logger.Debugf("⚠️  Failed to write session summary: %v", err)
	}
}
