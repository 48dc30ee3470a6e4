package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/internal/logx"
	"pkt.systems/promptline/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64           `json:"seq"`
	Type      string           `json:"type"`
	SessionID schema.SessionID `json:"session_id"`
	Length    *int             `json:"length,omitempty"`
	Cleared   bool             `json:"cleared,omitempty"`
	Trimmed   int              `json:"trimmed,omitempty"`
	Boundary  *int             `json:"boundary,omitempty"`
	Valid     bool             `json:"valid,omitempty"`
	Pending   *string          `json:"pending,omitempty"`
	Command   string           `json:"command,omitempty"`
	Path      string           `json:"path,omitempty"`
	Phase     schema.Phase     `json:"phase,omitempty"`
	ExitCode  *int             `json:"exit_code,omitempty"`
	Snapshot  *SnapshotPayload `json:"snapshot,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Hub broadcasts session events to stream clients and keeps a bounded
// history per session for replay.
type Hub struct {
	mu          sync.Mutex
	sessions    map[schema.SessionID]*sessionHub
	historySize int
}

var _ core.EventSink = (*Hub)(nil)

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		sessions:    make(map[schema.SessionID]*sessionHub),
		historySize: historySize,
	}
}

// OnTranscript implements core.EventSink.
func (h *Hub) OnTranscript(event schema.TranscriptEvent) {
	length := event.Length
	h.publish(event.SessionID, StreamEvent{
		Type:    "transcript",
		Length:  &length,
		Cleared: event.Cleared,
		Trimmed: event.Trimmed,
	})
}

// OnBoundary implements core.EventSink.
func (h *Hub) OnBoundary(event schema.BoundaryEvent) {
	boundary := event.Boundary
	pending := event.Pending
	h.publish(event.SessionID, StreamEvent{
		Type:     "boundary",
		Boundary: &boundary,
		Valid:    event.Valid,
		Pending:  &pending,
	})
}

// OnCommand implements core.EventSink.
func (h *Hub) OnCommand(event schema.CommandEvent) {
	h.publish(event.SessionID, StreamEvent{Type: "command", Command: event.Command})
}

// OnDirectory implements core.EventSink.
func (h *Hub) OnDirectory(event schema.DirectoryEvent) {
	h.publish(event.SessionID, StreamEvent{Type: "directory", Path: event.Path})
}

// OnPhase implements core.EventSink.
func (h *Hub) OnPhase(event schema.PhaseEvent) {
	h.publish(event.SessionID, StreamEvent{Type: "phase", Phase: event.Phase, ExitCode: event.ExitCode})
}

// Subscribe registers a subscriber for a session. It returns the last
// published sequence number at the time of subscribing.
func (h *Hub) Subscribe(sessionID schema.SessionID) (<-chan StreamEvent, func(), uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.getOrCreateLocked(sessionID)
	ch := make(chan StreamEvent, 256)
	sh.subs[ch] = struct{}{}
	seq := sh.seq
	log := logx.SessionCtx(context.Background(), sessionID)
	log.Debug("hub subscribe", "subs", len(sh.subs), "seq", seq)
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := sh.subs[ch]; ok {
				delete(sh.subs, ch)
				close(ch)
			}
			remaining := len(sh.subs)
			h.mu.Unlock()
			log.Debug("hub unsubscribe", "subs", remaining)
		})
	}
	return ch, unsub, seq
}

// Replay returns events after seq, up to and including until.
func (h *Hub) Replay(sessionID schema.SessionID, after, until uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.sessions[sessionID]
	if sh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(sh.history))
	for _, event := range sh.history {
		if event.Seq > after && event.Seq <= until {
			events = append(events, event)
		}
	}
	logx.SessionCtx(context.Background(), sessionID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

// Forget drops the history of a finished session and ends its streams.
func (h *Hub) Forget(sessionID schema.SessionID) {
	h.mu.Lock()
	sh := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	if sh != nil {
		for sub := range sh.subs {
			close(sub)
		}
		sh.subs = nil
	}
	h.mu.Unlock()
}

func (h *Hub) publish(sessionID schema.SessionID, event StreamEvent) {
	event.SessionID = sessionID
	event.Timestamp = time.Now()
	h.mu.Lock()
	sh := h.getOrCreateLocked(sessionID)
	sh.seq++
	event.Seq = sh.seq
	sh.history = append(sh.history, event)
	if len(sh.history) > h.historySize {
		sh.history = sh.history[len(sh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range sh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()

	if dropped > 0 {
		logx.SessionCtx(context.Background(), sessionID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateLocked(sessionID schema.SessionID) *sessionHub {
	sh := h.sessions[sessionID]
	if sh == nil {
		sh = &sessionHub{subs: make(map[chan StreamEvent]struct{})}
		h.sessions[sessionID] = sh
	}
	return sh
}

type sessionHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
