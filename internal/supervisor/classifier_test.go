package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyKeystrokeEcho(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
	}{
		{"single printable letter", "a"},
		{"single printable space", " "},
		{"single printable tilde", "~"},
		{"backspace alone", "\b"},
		{"backspace erase sequence", "\b \b"},
		{"delete control code", "\x7f"},
		{"short CSI cursor right", "\x1b[C"},
		{"short CSI cursor left", "\x1b[D"},
		{"short CSI with count", "\x1b[10C"},
		{"newline", "\n"},
		{"carriage return", "\r"},
		{"crlf", "\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, KeystrokeEcho, Classify([]byte(tt.chunk)))
		})
	}
}

func TestClassifyNotKeystrokeEcho(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  Class
	}{
		{"two printable characters", "ab", Ordinary},
		{"long text", "hello world", Ordinary},
		{"cursor home is a repaint marker", "\x1b[H", Repaint},
		{"erase display is a repaint marker", "\x1b[2J", Repaint},
		{"long CSI sequence", "\x1b[38;5;212m", Ordinary},
		{"empty chunk", "", Ordinary},
		{"non-printable single byte", "\x01", Ordinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.chunk)))
		})
	}
}

func TestClassifyRepaint(t *testing.T) {
	assert.Equal(t, Repaint, Classify([]byte("\x1b[2J\x1b[Hredrawn screen content")))
	assert.Equal(t, Repaint, Classify([]byte("some output with \x1b[H embedded")))
}

func TestClassifyExplicitClear(t *testing.T) {
	assert.Equal(t, ExplicitClear, Classify([]byte("... Conversation cleared ...")))
	assert.Equal(t, ExplicitClear, Classify([]byte("Chat cleared")))
	assert.Equal(t, ExplicitClear, Classify([]byte("History cleared\r\n")))
}

func TestClassifyExplicitClearOutranksRepaint(t *testing.T) {
	// A chunk can carry both the clear acknowledgment and repaint escapes;
	// explicit clear wins so the injection is never deferred.
	chunk := []byte("\x1b[2J\x1b[HConversation cleared")
	assert.Equal(t, ExplicitClear, Classify(chunk))
}

func TestClassifyOrdinaryFallthrough(t *testing.T) {
	assert.Equal(t, Ordinary, Classify([]byte("regular program output\nwith lines\n")))
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "keystroke-echo", KeystrokeEcho.String())
	assert.Equal(t, "screen-repaint", Repaint.String())
	assert.Equal(t, "explicit-clear", ExplicitClear.String())
	assert.Equal(t, "ordinary", Ordinary.String())
}

func TestCountLineEndings(t *testing.T) {
	tests := []struct {
		name  string
		chunk string
		want  int
	}{
		{"no endings", "abc", 0},
		{"single newline", "abc\n", 1},
		{"crlf counts once", "abc\r\n", 1},
		{"bare cr counts", "abc\rdef", 1},
		{"mixed", "a\nb\r\nc\rd\n", 4},
		{"empty", "", 0},
		{"trailing cr", "abc\r", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountLineEndings([]byte(tt.chunk)))
		})
	}
}
