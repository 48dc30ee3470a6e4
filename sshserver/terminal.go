package sshserver

import (
	"context"
	"errors"
	"io"

	gliderssh "github.com/gliderlabs/ssh"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/eventbus"
	"pkt.systems/promptline/internal/logx"
	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

// terminalSession drives one interactive terminal attached to a session: keys
// become proposed edits, session events trigger repaints.
type terminalSession struct {
	in      io.Reader
	screen  *screen
	session *core.Session
	events  <-chan eventbus.Event
	theme   tuiTheme
	ctx     context.Context

	width  int
	height int

	cursor lineCursor
	scroll int
	dirty  bool
}

func newTerminalSession(in io.Reader, out io.Writer, session *core.Session, events <-chan eventbus.Event, theme tuiTheme) *terminalSession {
	return &terminalSession{
		in:      in,
		screen:  newScreen(out),
		session: session,
		events:  events,
		theme:   theme,
		ctx:     context.Background(),
	}
}

func (t *terminalSession) log() pslog.Logger {
	return logx.SessionCtx(t.ctx, t.session.ID())
}

func (t *terminalSession) SetSize(width, height int) {
	if width <= 0 {
		width = 80
	}
	if height <= 1 {
		height = 24
	}
	t.width = width
	t.height = height
}

// Run serves the terminal until the input closes, the user exits, the
// session stops or ctx is done.
func (t *terminalSession) Run(ctx context.Context, winCh <-chan gliderssh.Window) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.ctx = ctx
	t.screen.EnterAltScreen()
	defer t.screen.ExitAltScreen()

	if err := t.render(); err != nil {
		return err
	}
	t.log().Info("tui session start", "width", t.width, "height", t.height)

	keys := make(chan key, 16)
	go readKeys(t.in, keys)

	events := t.events
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.session.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			done, err := t.handleKey(k)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case win, ok := <-winCh:
			if !ok {
				winCh = nil
				break
			}
			t.SetSize(win.Width, win.Height)
			t.dirty = true
			t.log().Debug("tui resize", "width", t.width, "height", t.height)
		case ev, ok := <-events:
			if !ok {
				events = nil
				break
			}
			t.handleEvent(ev)
		}
		if t.dirty {
			if err := t.render(); err != nil {
				return err
			}
		}
	}
}

func (t *terminalSession) handleEvent(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.EventTranscript:
		if ev.Transcript.Cleared {
			t.scroll = 0
		}
		t.dirty = true
	case eventbus.EventPhase, eventbus.EventDirectory, eventbus.EventBoundary:
		t.dirty = true
	}
}

// handleKey reports true when the terminal should close.
func (t *terminalSession) handleKey(k key) (bool, error) {
	ctx := t.ctx
	t.dirty = true
	switch k.kind {
	case keyCtrlD:
		snap, err := t.session.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		if snap.Phase == schema.PhaseAwaitingInput && snap.Pending == "" {
			t.log().Info("tui exit", "reason", "ctrl-d")
			return true, nil
		}
		return false, t.edit(key{kind: keyDelete})
	case keyCtrlC:
		snap, err := t.session.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		if snap.Phase == schema.PhaseBlocked {
			err := t.session.Interrupt(ctx)
			if err == nil || errors.Is(err, schema.ErrSessionClosed) || ctx.Err() != nil {
				return false, err
			}
			t.log().Debug("tui interrupt failed", "err", err)
			t.screen.Bell()
			return false, nil
		}
		t.cursor.pos = 0
		return false, t.session.SetCurrentCommand(ctx, "")
	case keyCtrlL:
		return false, t.clear()
	case keyUp:
		ok, err := t.session.HistoryPrev(ctx)
		if ok {
			t.cursor.pos = maxCursor
		}
		return false, err
	case keyDown:
		ok, err := t.session.HistoryNext(ctx)
		if ok {
			t.cursor.pos = maxCursor
		}
		return false, err
	case keyPageUp:
		t.scroll += t.pageSize()
		return false, nil
	case keyPageDown:
		t.scroll -= t.pageSize()
		if t.scroll < 0 {
			t.scroll = 0
		}
		return false, nil
	case keyTab:
		t.screen.Bell()
		return false, nil
	}
	return false, t.edit(k)
}

// maxCursor parks the cursor at the end of whatever the command becomes.
const maxCursor = int(^uint(0) >> 1)

func (t *terminalSession) edit(k key) error {
	var (
		proposal core.Proposal
		region   core.Region
		proposed bool
	)
	decision, err := t.session.ProposeFunc(t.ctx, func(r core.Region) (core.Proposal, bool) {
		region = r
		proposal, proposed = t.cursor.proposal(k, r)
		return proposal, proposed
	})
	if err != nil {
		return err
	}
	if !proposed {
		return nil
	}
	if decision == core.DecisionReject {
		t.log().Trace("tui edit rejected", "start", proposal.Start, "end", proposal.End)
		t.screen.Bell()
		return nil
	}
	t.cursor.applied(proposal, decision, region)
	t.scroll = 0
	return nil
}

// clear empties the screen and keeps whatever command was being typed.
func (t *terminalSession) clear() error {
	if err := t.session.ClearKeepingCommand(t.ctx); err != nil {
		return err
	}
	t.scroll = 0
	return nil
}

func (t *terminalSession) pageSize() int {
	if t.height <= 2 {
		return 1
	}
	return (t.height - 1) / 2
}

func (t *terminalSession) render() error {
	snap, err := t.session.Snapshot(t.ctx)
	if err != nil {
		return err
	}
	pending := len([]rune(snap.Pending))
	if t.cursor.pos > pending {
		t.cursor.pos = pending
	}
	f := renderFrame(snap, t.cursor.pos, t.width, t.height, t.scroll, t.theme)
	t.dirty = false
	return t.screen.Draw(f)
}
