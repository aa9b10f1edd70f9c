// Package term holds the escape-directive vocabulary the supervisor emits
// or recognizes. These are literal byte sequences; terminal compatibility
// depends on exact matches.
package term

const (
	// ClearScrollback discards the terminal's retained scrollback history.
	ClearScrollback = "\x1b[3J"
	// CursorSave checkpoints the cursor position.
	CursorSave = "\x1b[s"
	// CursorRestore returns the cursor to the checkpointed position.
	CursorRestore = "\x1b[u"
	// EraseScreen is detected (never emitted) as a repaint marker.
	EraseScreen = "\x1b[2J"
	// CursorHome is detected (never emitted) as a repaint marker.
	CursorHome = "\x1b[H"
)

// ForcedTrim clears scrollback without disturbing the cursor: save, clear,
// restore. Used for the hard line-count cap and glitch recovery.
const ForcedTrim = CursorSave + ClearScrollback + CursorRestore
