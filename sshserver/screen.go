package sshserver

import (
	"fmt"
	"io"
	"strings"
)

type screen struct {
	out io.Writer
}

func newScreen(out io.Writer) *screen {
	return &screen{out: out}
}

func (s *screen) EnterAltScreen() {
	_, _ = io.WriteString(s.out, "\x1b[?1049h\x1b[H\x1b[2J")
}

func (s *screen) ExitAltScreen() {
	_, _ = io.WriteString(s.out, "\x1b[?1049l\x1b[?25h")
}

// Draw repaints the whole screen with f in a single write.
func (s *screen) Draw(f frame) error {
	row, col := f.cursorRow, f.cursorCol
	if row < 1 {
		row = 1
	}
	if col < 1 {
		col = 1
	}
	var b strings.Builder
	b.WriteString("\x1b[?25l\x1b[H")
	for i, line := range f.lines {
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(line)
		b.WriteString("\x1b[K")
	}
	b.WriteString("\x1b[J")
	fmt.Fprintf(&b, "\x1b[%d;%dH", row, col)
	b.WriteString("\x1b[?25h")
	_, err := io.WriteString(s.out, b.String())
	return err
}

// Bell rings the terminal bell, e.g. for a rejected edit.
func (s *screen) Bell() {
	_, _ = io.WriteString(s.out, "\a")
}
