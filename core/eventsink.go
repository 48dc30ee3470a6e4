package core

import "pkt.systems/promptline/schema"

// EventSink receives session events for fan-out to other goroutines. Calls
// arrive on the session loop and must not block.
type EventSink interface {
	OnTranscript(event schema.TranscriptEvent)
	OnBoundary(event schema.BoundaryEvent)
	OnCommand(event schema.CommandEvent)
	OnDirectory(event schema.DirectoryEvent)
	OnPhase(event schema.PhaseEvent)
}
