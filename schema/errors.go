package schema

import "errors"

var (
	// ErrBeforeBoundary indicates an edit that starts before the command boundary.
	ErrBeforeBoundary = errors.New("edit before command boundary")
	// ErrBoundaryUnset indicates an edit while no command boundary exists.
	ErrBoundaryUnset = errors.New("command boundary unset")
	// ErrRangeOutOfBounds indicates an edit range outside the transcript.
	ErrRangeOutOfBounds = errors.New("range out of bounds")
	// ErrSessionClosed indicates the session loop is no longer running.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoBackend indicates a session was built without an execution backend.
	ErrNoBackend = errors.New("backend not configured")
	// ErrNotRunning indicates there is no command to interrupt.
	ErrNotRunning = errors.New("no command running")
	// ErrInvalidSessionID indicates a malformed session identifier.
	ErrInvalidSessionID = errors.New("invalid session id")
)
