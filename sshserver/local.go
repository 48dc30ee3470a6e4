package sshserver

import (
	"context"
	"io"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/eventbus"
)

// Terminal describes a terminal attached outside of SSH, e.g. the local tty.
type Terminal struct {
	In      io.Reader
	Out     io.Writer
	Session *core.Session
	Events  <-chan eventbus.Event
	Theme   string
	Width   int
	Height  int
	// Resize delivers window size changes; nil when the size is fixed.
	Resize <-chan gliderssh.Window
}

// RunTerminal drives t like an SSH session until the user exits or ctx is done.
func RunTerminal(ctx context.Context, t Terminal) error {
	ui := newTerminalSession(t.In, t.Out, t.Session, t.Events, themeForName(t.Theme))
	ui.SetSize(t.Width, t.Height)
	return ui.Run(ctx, t.Resize)
}
