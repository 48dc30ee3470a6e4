package promptline

import (
	"pkt.systems/promptline/core"
	"pkt.systems/promptline/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnTranscript(event schema.TranscriptEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTranscript(event)
	}
}

func (f eventFanout) OnBoundary(event schema.BoundaryEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnBoundary(event)
	}
}

func (f eventFanout) OnCommand(event schema.CommandEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnCommand(event)
	}
}

func (f eventFanout) OnDirectory(event schema.DirectoryEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnDirectory(event)
	}
}

func (f eventFanout) OnPhase(event schema.PhaseEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnPhase(event)
	}
}
