package supervisor

import (
	"bytes"

	"github.com/vanpelt/scrollguard/internal/term"
)

// Class is the verdict for a single outbound chunk.
type Class int

const (
	// Ordinary is the safe default for anything unmatched.
	Ordinary Class = iota
	// KeystrokeEcho is the terminal echoing the user's own input. It must
	// never be misclassified: touching the echo path adds typing latency.
	KeystrokeEcho
	// Repaint is a full-screen redraw cycle by the monitored program.
	Repaint
	// ExplicitClear is the monitored program acknowledging its own
	// clear command; the user asked for it, so it is never deferred.
	ExplicitClear
)

func (c Class) String() string {
	switch c {
	case KeystrokeEcho:
		return "keystroke-echo"
	case Repaint:
		return "screen-repaint"
	case ExplicitClear:
		return "explicit-clear"
	default:
		return "ordinary"
	}
}

// clearMarkers are the literal phrases the monitored program prints when it
// has cleared its own conversation view.
var clearMarkers = [][]byte{
	[]byte("Conversation cleared"),
	[]byte("Chat cleared"),
	[]byte("History cleared"),
}

const (
	csiIntroducer = "\x1b["
	backspace     = 0x08
	del           = 0x7f
)

// Classify assigns a chunk exactly one class. Pure function, no side
// effects. Priority order matters: the keystroke-echo checks short-circuit
// everything else, and explicit-clear outranks repaint when a chunk
// contains both markers.
func Classify(chunk []byte) Class {
	if isKeystrokeEcho(chunk) {
		return KeystrokeEcho
	}

	for _, marker := range clearMarkers {
		if bytes.Contains(chunk, marker) {
			return ExplicitClear
		}
	}

	if bytes.Contains(chunk, []byte(term.EraseScreen)) || bytes.Contains(chunk, []byte(term.CursorHome)) {
		return Repaint
	}

	return Ordinary
}

func isKeystrokeEcho(chunk []byte) bool {
	n := len(chunk)
	if n == 0 {
		return false
	}

	// A single printable ASCII character.
	if n == 1 && chunk[0] >= 0x20 && chunk[0] <= 0x7e {
		return true
	}

	// A short sequence carrying a backspace or delete.
	if n <= 4 && (bytes.IndexByte(chunk, backspace) >= 0 || bytes.IndexByte(chunk, del) >= 0) {
		return true
	}

	// A short CSI sequence that is not an erase-display or cursor-home,
	// e.g. cursor movement echoed while editing the input line.
	if n <= 6 && bytes.HasPrefix(chunk, []byte(csiIntroducer)) &&
		bytes.IndexByte(chunk, 'J') < 0 && bytes.IndexByte(chunk, 'H') < 0 {
		return true
	}

	// A bare line ending submitted by the user.
	switch string(chunk) {
	case "\n", "\r", "\r\n":
		return true
	}

	return false
}

// CountLineEndings reports how many line-ending units a chunk carries:
// every "\n" plus every "\r" that is not part of a "\r\n" pair.
func CountLineEndings(chunk []byte) int {
	count := 0
	for i := 0; i < len(chunk); i++ {
		switch chunk[i] {
		case '\n':
			count++
		case '\r':
			if i+1 >= len(chunk) || chunk[i+1] != '\n' {
				count++
			}
		}
	}
	return count
}
