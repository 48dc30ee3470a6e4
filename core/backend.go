package core

import (
	"context"

	"pkt.systems/promptline/schema"
)

// Backend executes submitted commands. A session holds it without owning it.
type Backend interface {
	// Dispatch starts command and returns without waiting. Output, directory
	// changes and exactly one exit code are reported to sink, in that order
	// per stream, from any goroutine.
	Dispatch(ctx context.Context, command string, sink BackendSink)
	// WorkingDirectory returns the backend's current directory.
	WorkingDirectory() string
}

// Interrupter is implemented by backends that can stop a running command.
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

// BackendSink receives notifications about a dispatched command.
type BackendSink interface {
	OnStdout(ctx context.Context, chunk string)
	OnStderr(ctx context.Context, chunk string)
	OnExitCode(ctx context.Context, code int)
	OnWorkingDirectoryChanged(ctx context.Context, path string)
}

// Delegate is the application side of a session. Calls arrive on the session
// loop; ctx is only valid for the duration of the call.
type Delegate interface {
	DidEnterCommand(ctx context.Context, command string)
	DidChangeCurrentWorkingDirectory(ctx context.Context, path string)
}

// BoundaryObserver is told whenever the command boundary moves or the
// pending command changes, e.g. to refresh completions.
type BoundaryObserver interface {
	BoundaryChanged(ctx context.Context, event schema.BoundaryEvent)
}
