package sshserver

import (
	"strconv"
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/schema"
)

const tabWidth = 8

// frame is a rendered view of a session: the visible lines and the 1-based
// cursor position on screen.
type frame struct {
	lines     []string
	cursorRow int
	cursorCol int
}

// layout is the transcript wrapped to the terminal width.
type layout struct {
	lines []string
	// row/col of the caret, 0-based, within lines.
	row int
	col int
}

// layoutTranscript wraps runs at width columns. caret is a rune offset into
// the transcript; a negative caret hides the cursor at the end.
func layoutTranscript(runs []schema.Run, width, caret int) layout {
	if width <= 0 {
		width = 80
	}
	var (
		out   layout
		line  strings.Builder
		col   int
		pos   int
		style schema.Style
		found bool
	)
	flush := func() {
		if !style.IsZero() {
			line.WriteString(ansiReset)
		}
		out.lines = append(out.lines, line.String())
		line.Reset()
		col = 0
		if !style.IsZero() {
			line.WriteString(sgr(style))
		}
	}
	for _, run := range runs {
		if run.Style != style {
			if !style.IsZero() {
				line.WriteString(ansiReset)
			}
			style = run.Style
			if !style.IsZero() {
				line.WriteString(sgr(style))
			}
		}
		for _, r := range run.Text {
			if pos == caret {
				if col >= width {
					flush()
				}
				out.row, out.col, found = len(out.lines), col, true
			}
			pos++
			switch {
			case r == '\n':
				flush()
				continue
			case r == '\t':
				n := tabWidth - col%tabWidth
				if col+n > width {
					n = width - col
				}
				line.WriteString(strings.Repeat(" ", n))
				col += n
				continue
			case r < 0x20 || r == 0x7f:
				// Control characters that survived formatting are shown in caret notation.
				text := "^" + string(rune(r^0x40))
				if col+2 > width {
					flush()
				}
				line.WriteString(text)
				col += 2
				continue
			}
			w := runewidth.RuneWidth(r)
			if col+w > width {
				flush()
			}
			line.WriteRune(r)
			col += w
		}
	}
	if !found {
		if col >= width {
			flush()
		}
		out.row, out.col = len(out.lines), col
	}
	if !style.IsZero() {
		line.WriteString(ansiReset)
	}
	out.lines = append(out.lines, line.String())
	return out
}

// renderFrame lays out snap for a width x height terminal. The last line is
// the status bar; scroll moves the view up by that many lines.
func renderFrame(snap core.Snapshot, cursor int, width, height, scroll int, theme tuiTheme) frame {
	if width <= 0 {
		width = 80
	}
	if height <= 1 {
		height = 24
	}
	caret := -1
	if snap.Valid {
		caret = snap.Boundary + cursor
	}
	lay := layoutTranscript(snap.Runs, width, caret)
	view := height - 1
	maxScroll := len(lay.lines) - view
	if maxScroll < 0 {
		maxScroll = 0
	}
	if scroll > maxScroll {
		scroll = maxScroll
	}
	if scroll < 0 {
		scroll = 0
	}
	end := len(lay.lines) - scroll
	start := end - view
	if start < 0 {
		start = 0
	}
	lines := make([]string, 0, height)
	for _, line := range lay.lines[start:end] {
		lines = append(lines, xansi.Truncate(line, width, ""))
	}
	for len(lines) < view {
		lines = append(lines, "")
	}
	lines = append(lines, statusBar(snap, width, scroll, theme))
	f := frame{lines: lines, cursorRow: lay.row - start + 1, cursorCol: lay.col + 1}
	if f.cursorRow < 1 || f.cursorRow > view {
		f.cursorRow = height
		f.cursorCol = 1
	}
	return f
}

func statusBar(snap core.Snapshot, width, scroll int, theme tuiTheme) string {
	left := " " + snap.WorkingDir
	right := "ready "
	if snap.Phase == schema.PhaseBlocked {
		right = "running "
	}
	if scroll > 0 {
		right = "scrolled " + strconv.Itoa(scroll) + " · " + right
	}
	pad := width - xansi.StringWidth(left) - xansi.StringWidth(right)
	if pad < 1 {
		left = xansi.Truncate(left, width-xansi.StringWidth(right)-1, "…")
		pad = width - xansi.StringWidth(left) - xansi.StringWidth(right)
		if pad < 0 {
			pad = 0
		}
	}
	body := left + strings.Repeat(" ", pad) + right
	rightStyle := ansiFgRGB(theme.StatusFG)
	if snap.Phase == schema.PhaseBlocked {
		rightStyle = ansiFgRGB(theme.BusyFG) + ansiBold
	}
	bar := ansiBgRGB(theme.StatusBG) + ansiFgRGB(theme.StatusFG) + body[:len(body)-len(right)] +
		rightStyle + right + ansiReset
	return xansi.Truncate(bar, width, "")
}

// sgr renders style as a single SGR sequence starting from a reset.
func sgr(s schema.Style) string {
	codes := []string{"0"}
	flags := []struct {
		on   bool
		code string
	}{
		{s.Bold, "1"}, {s.Faint, "2"}, {s.Italic, "3"}, {s.Underline, "4"},
		{s.Blink, "5"}, {s.Inverse, "7"}, {s.Hidden, "8"}, {s.Strike, "9"},
	}
	for _, f := range flags {
		if f.on {
			codes = append(codes, f.code)
		}
	}
	codes = appendColor(codes, s.Fg, 30, 90, "38")
	codes = appendColor(codes, s.Bg, 40, 100, "48")
	return "\x1b[" + strings.Join(codes, ";") + "m"
}

func appendColor(codes []string, c schema.Color, base, bright int, extended string) []string {
	switch c.Kind {
	case schema.ColorIndexed:
		switch {
		case c.Index < 8:
			return append(codes, strconv.Itoa(base+int(c.Index)))
		case c.Index < 16:
			return append(codes, strconv.Itoa(bright+int(c.Index)-8))
		default:
			return append(codes, extended, "5", strconv.Itoa(int(c.Index)))
		}
	case schema.ColorRGB:
		return append(codes, extended, "2", strconv.Itoa(int(c.R)), strconv.Itoa(int(c.G)), strconv.Itoa(int(c.B)))
	}
	return codes
}
