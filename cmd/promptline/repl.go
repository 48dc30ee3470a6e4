package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	xansi "github.com/charmbracelet/x/ansi"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/promptline"
	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/appconfig"
	"pkt.systems/promptline/internal/eventbus"
	"pkt.systems/promptline/schema"
	"pkt.systems/promptline/sshserver"
	"pkt.systems/pslog"
)

func newReplCmd() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Run a promptline session on the local terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := appconfig.Load(configPath(cmd))
			if err != nil {
				return err
			}
			serverCfg := toServerConfig(cfg)
			state, err := promptline.OpenStateStore(serverCfg.StateDir, pslog.Ctx(ctx))
			if err != nil {
				return err
			}
			bus := eventbus.New(pslog.Ctx(ctx))
			sessions := promptline.NewSessionManager(serverCfg, bus, state)
			sessions.Bind(ctx)
			defer sessions.CloseAll()

			session, release, err := sessions.Open(ctx, localUser())
			if err != nil {
				return err
			}
			defer release()
			events, unsubscribe := bus.Subscribe(session.ID())
			defer unsubscribe()

			fd := int(os.Stdin.Fd())
			if plain || !term.IsTerminal(fd) {
				return runLineREPL(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), session, events)
			}
			return runRawREPL(ctx, fd, session, events, cfg.SSH.Theme)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "read whole lines instead of driving the terminal")
	return cmd
}

func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

func runRawREPL(ctx context.Context, fd int, session *core.Session, events <-chan eventbus.Event, theme string) error {
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw terminal: %w", err)
	}
	defer func() { _ = term.Restore(fd, state) }()
	width, height, err := term.GetSize(fd)
	if err != nil {
		width, height = 80, 24
	}
	resize, stop := watchResize(ctx, fd)
	defer stop()
	return sshserver.RunTerminal(ctx, sshserver.Terminal{
		In:      os.Stdin,
		Out:     os.Stdout,
		Session: session,
		Events:  events,
		Theme:   theme,
		Width:   width,
		Height:  height,
		Resize:  resize,
	})
}

// runLineREPL submits one command per input line and echoes the transcript
// as plain text.
func runLineREPL(ctx context.Context, in io.Reader, out io.Writer, session *core.Session, events <-chan eventbus.Event) error {
	printed := 0
	flush := func() error {
		snap, err := session.Snapshot(ctx)
		if err != nil {
			return err
		}
		text := runsText(snap.Runs)
		runes := []rune(text)
		if printed > len(runes) {
			printed = 0
		}
		_, err = io.WriteString(out, string(runes[printed:]))
		printed = len(runes)
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimRight(xansi.Strip(scanner.Text()), "\r")
		if err := session.SetCurrentCommand(ctx, line); err != nil {
			return err
		}
		snap, err := session.Snapshot(ctx)
		if err != nil {
			return err
		}
		decision, err := session.Propose(ctx, snap.Length, snap.Length, "\n")
		if err != nil {
			return err
		}
		if decision == core.DecisionSubmit {
			if err := waitIdle(ctx, session, events); err != nil {
				return err
			}
		}
		if err := flush(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	_, err := io.WriteString(out, "\n")
	return err
}

func waitIdle(ctx context.Context, session *core.Session, events <-chan eventbus.Event) error {
	for {
		snap, err := session.Snapshot(ctx)
		if err != nil {
			return err
		}
		if snap.Phase == schema.PhaseAwaitingInput {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-session.Done():
			return schema.ErrSessionClosed
		case _, ok := <-events:
			if !ok {
				return errors.New("session events closed")
			}
		}
	}
}

func runsText(runs []schema.Run) string {
	var b strings.Builder
	for _, run := range runs {
		b.WriteString(run.Text)
	}
	return b.String()
}
