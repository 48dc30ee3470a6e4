//go:build !unix

package main

import (
	"context"

	gliderssh "github.com/gliderlabs/ssh"
)

func watchResize(ctx context.Context, fd int) (<-chan gliderssh.Window, func()) {
	return nil, func() {}
}
