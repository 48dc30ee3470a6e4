package eventbus

import (
	"context"
	"sync"

	"pkt.systems/promptline/schema"
	"pkt.systems/pslog"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventTranscript signals that the transcript text changed.
	EventTranscript EventType = "transcript"
	// EventBoundary carries a boundary or pending-command change.
	EventBoundary EventType = "boundary"
	// EventCommand carries a submitted command.
	EventCommand EventType = "command"
	// EventDirectory carries a working directory change.
	EventDirectory EventType = "directory"
	// EventPhase carries a gate phase change.
	EventPhase EventType = "phase"
)

// Event represents a renderer-facing event emitted by a session.
type Event struct {
	Type       EventType
	Transcript schema.TranscriptEvent
	Boundary   schema.BoundaryEvent
	Command    schema.CommandEvent
	Directory  schema.DirectoryEvent
	Phase      schema.PhaseEvent
}

// SessionID returns the session the event belongs to.
func (e Event) SessionID() schema.SessionID {
	switch e.Type {
	case EventTranscript:
		return e.Transcript.SessionID
	case EventBoundary:
		return e.Boundary.SessionID
	case EventCommand:
		return e.Command.SessionID
	case EventDirectory:
		return e.Directory.SessionID
	case EventPhase:
		return e.Phase.SessionID
	}
	return ""
}

// Bus fans events out to per-session subscribers. Publishing never blocks;
// a subscriber that falls behind loses events.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[chan Event]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[sessionID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			close(ch)
			b.mu.Unlock()
			if b.log != nil {
				b.log.With("session", sessionID).Debug("eventbus unsubscribe")
			}
		})
	}
}

// OnTranscript publishes a transcript event.
func (b *Bus) OnTranscript(event schema.TranscriptEvent) {
	b.publish(event.SessionID, Event{Type: EventTranscript, Transcript: event})
}

// OnBoundary publishes a boundary event.
func (b *Bus) OnBoundary(event schema.BoundaryEvent) {
	b.publish(event.SessionID, Event{Type: EventBoundary, Boundary: event})
}

// OnCommand publishes a command event.
func (b *Bus) OnCommand(event schema.CommandEvent) {
	b.publish(event.SessionID, Event{Type: EventCommand, Command: event})
}

// OnDirectory publishes a directory event.
func (b *Bus) OnDirectory(event schema.DirectoryEvent) {
	b.publish(event.SessionID, Event{Type: EventDirectory, Directory: event})
}

// OnPhase publishes a phase event.
func (b *Bus) OnPhase(event schema.PhaseEvent) {
	b.publish(event.SessionID, Event{Type: EventPhase, Phase: event})
}

func (b *Bus) publish(sessionID schema.SessionID, event Event) {
	if b == nil {
		return
	}
	dropped := 0
	delivered := 0
	b.mu.Lock()
	for sub := range b.subs[sessionID] {
		select {
		case sub <- event:
			delivered++
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("session", sessionID).Trace("eventbus dropped", "type", event.Type, "count", dropped, "delivered", delivered)
	}
}
