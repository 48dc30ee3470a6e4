//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	gliderssh "github.com/gliderlabs/ssh"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// watchResize reports terminal size changes signalled by SIGWINCH.
func watchResize(ctx context.Context, fd int) (<-chan gliderssh.Window, func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGWINCH)
	out := make(chan gliderssh.Window, 1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-sig:
				width, height, err := term.GetSize(fd)
				if err != nil {
					continue
				}
				select {
				case out <- gliderssh.Window{Width: width, Height: height}:
				default:
				}
			}
		}
	}()
	return out, func() {
		signal.Stop(sig)
		close(done)
	}
}
