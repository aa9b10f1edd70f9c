package supervisor

import (
	"strings"
	"testing"

	"github.com/hinshun/vt10x"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanpelt/scrollguard/internal/config"
)

// renderScreen flattens a vt10x terminal into plain text, trailing blank
// lines trimmed.
func renderScreen(vt vt10x.Terminal, cols, rows int) string {
	var b strings.Builder
	for row := 0; row < rows; row++ {
		if row > 0 {
			b.WriteString("\n")
		}
		for col := 0; col < cols; col++ {
			cell := vt.Cell(col, row)
			if cell.Char == 0 {
				b.WriteRune(' ')
			} else {
				b.WriteRune(cell.Char)
			}
		}
	}
	lines := strings.Split(b.String(), "\n")
	last := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			last = i
			break
		}
	}
	if last < 0 {
		return ""
	}
	return strings.Join(lines[:last+1], "\n")
}

// TestCorrectedOutputPreservesScreenContent replays the same repaint
// stream through a raw terminal and a supervised terminal: the injected
// scrollback directives must only touch history, never the visible screen.
func TestCorrectedOutputPreservesScreenContent(t *testing.T) {
	const cols, rows = 40, 10

	sup, _, _ := newTestSupervisor(func(s *config.Settings) {
		s.RenderClearThreshold = 2
	})

	raw := vt10x.New(vt10x.WithSize(cols, rows))
	supervised := vt10x.New(vt10x.WithSize(cols, rows))

	frames := []string{
		"\x1b[2J\x1b[Hstatus: thinking\r\nline one\r\n",
		"\x1b[2J\x1b[Hstatus: writing\r\nline one\r\nline two\r\n",
		"\x1b[2J\x1b[Hstatus: done\r\nline one\r\nline two\r\nline three\r\n",
		"\x1b[2J\x1b[Hstatus: idle\r\nfinal content\r\n",
	}

	injected := 0
	for _, frame := range frames {
		_, err := raw.Write([]byte(frame))
		require.NoError(t, err)

		corrected := sup.HandleOutbound([]byte(frame))
		if len(corrected) > len(frame) {
			injected++
		}
		_, err = supervised.Write(corrected)
		require.NoError(t, err)
	}

	require.Greater(t, injected, 0, "the threshold must have triggered at least one injection")
	assert.Equal(t, renderScreen(raw, cols, rows), renderScreen(supervised, cols, rows),
		"visible screen content identical with and without supervision")
}
