package term

import (
	"io"
	"os"
	"sync"

	"golang.org/x/term"
)

// LockedWriter is the single write path to the terminal. Relay output,
// corrective directives, and maintenance clears all funnel through one of
// these so concurrent writers can never interleave bytes.
type LockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLockedWriter wraps the underlying sink.
func NewLockedWriter(w io.Writer) *LockedWriter {
	return &LockedWriter{w: w}
}

func (lw *LockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// IsInteractive reports whether w is attached to a real terminal. Injected
// directives are only valid on interactive destinations; pipes and files
// must receive the child's output untouched.
func IsInteractive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
