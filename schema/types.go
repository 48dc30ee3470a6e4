package schema

import "time"

// SessionID identifies a transcript session.
type SessionID string

// SessionInfo describes a live session.
type SessionInfo struct {
	ID     SessionID
	User   string
	Opened time.Time
}

// Phase is the edit-gate state of a session.
type Phase string

const (
	// PhaseAwaitingInput allows edits at or after the command boundary.
	PhaseAwaitingInput Phase = "awaiting_input"
	// PhaseBlocked rejects every edit until the dispatched command completes.
	PhaseBlocked Phase = "blocked"
)

// ColorKind selects how a Color value is interpreted.
type ColorKind uint8

const (
	// ColorDefault means the renderer's default color.
	ColorDefault ColorKind = iota
	// ColorIndexed is a palette color (0-15 basic/bright, 16-255 extended).
	ColorIndexed
	// ColorRGB is a 24-bit color.
	ColorRGB
)

// Color is a foreground or background color.
type Color struct {
	Kind  ColorKind
	Index uint8
	R     uint8
	G     uint8
	B     uint8
}

// IndexedColor returns a palette color.
func IndexedColor(index uint8) Color {
	return Color{Kind: ColorIndexed, Index: index}
}

// RGBColor returns a 24-bit color.
func RGBColor(r, g, b uint8) Color {
	return Color{Kind: ColorRGB, R: r, G: g, B: b}
}

// Style holds the text attributes active for a run.
type Style struct {
	Fg        Color
	Bg        Color
	Bold      bool
	Faint     bool
	Italic    bool
	Underline bool
	Blink     bool
	Inverse   bool
	Hidden    bool
	Strike    bool
}

// IsZero reports whether no attribute is active.
func (s Style) IsZero() bool {
	return s == Style{}
}

// Run is a span of text sharing one style.
type Run struct {
	Text  string
	Style Style
}

// PlainRun returns an unstyled run.
func PlainRun(text string) Run {
	return Run{Text: text}
}
