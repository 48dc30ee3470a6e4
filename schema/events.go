package schema

// TranscriptEvent reports that transcript content changed.
type TranscriptEvent struct {
	SessionID SessionID
	Length    int
	// Cleared is set when the transcript was emptied.
	Cleared bool
	// Trimmed counts runes dropped from the front to honour the history cap.
	Trimmed int
}

// BoundaryEvent reports a new command boundary or a change to the pending command.
type BoundaryEvent struct {
	SessionID SessionID
	Boundary  int
	// Valid is false while the boundary is unset.
	Valid   bool
	Pending string
}

// CommandEvent reports a submitted command.
type CommandEvent struct {
	SessionID SessionID
	Command   string
}

// DirectoryEvent reports a working-directory change from the backend.
type DirectoryEvent struct {
	SessionID SessionID
	Path      string
}

// PhaseEvent reports an edit-gate transition.
type PhaseEvent struct {
	SessionID SessionID
	Phase     Phase
	// ExitCode is set when the transition was caused by command completion.
	ExitCode *int
}
