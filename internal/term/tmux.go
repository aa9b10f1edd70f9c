package term

import (
	"fmt"
	"os"
	"os/exec"
)

// TmuxPane returns the identifier of the tmux pane this process runs in,
// or "" when not inside a tmux session. Absence is a fully supported
// configuration; multiplexer-based recovery simply won't be attempted.
func TmuxPane() string {
	if os.Getenv("TMUX") == "" {
		return ""
	}
	return os.Getenv("TMUX_PANE")
}

// TmuxSendEnter injects a carriage return into the given pane, the least
// invasive way to nudge a stalled interactive program.
func TmuxSendEnter(pane string) error {
	cmd := exec.Command("tmux", "send-keys", "-t", pane, "Enter")
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("tmux send-keys failed: %w (%s)", err, output)
	}
	return nil
}
