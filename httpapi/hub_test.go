package httpapi

import (
	"testing"
	"time"

	"pkt.systems/promptline/schema"
)

func TestHubPublishesInOrder(t *testing.T) {
	hub := NewHub(0)
	ch, unsub, seq := hub.Subscribe("s1")
	defer unsub()
	if seq != 0 {
		t.Fatalf("expected empty hub, got seq %d", seq)
	}
	code := 2
	hub.OnCommand(schema.CommandEvent{SessionID: "s1", Command: "ls"})
	hub.OnPhase(schema.PhaseEvent{SessionID: "s1", Phase: schema.PhaseAwaitingInput, ExitCode: &code})
	hub.OnCommand(schema.CommandEvent{SessionID: "other", Command: "pwd"})

	for i, want := range []string{"command", "phase"} {
		select {
		case event := <-ch:
			if event.Type != want || event.Seq != uint64(i+1) || event.SessionID != "s1" {
				t.Fatalf("unexpected event %d: %+v", i, event)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case event := <-ch:
		t.Fatalf("unexpected event from another session %+v", event)
	default:
	}
}

func TestHubHistoryIsCapped(t *testing.T) {
	hub := NewHub(2)
	for _, cmd := range []string{"a", "b", "c"} {
		hub.OnCommand(schema.CommandEvent{SessionID: "s1", Command: cmd})
	}
	events := hub.Replay("s1", 0, 10)
	if len(events) != 2 || events[0].Command != "b" || events[1].Seq != 3 {
		t.Fatalf("unexpected history %+v", events)
	}
	if events := hub.Replay("s1", 2, 2); len(events) != 0 {
		t.Fatalf("expected empty window, got %+v", events)
	}
	if events := hub.Replay("missing", 0, 10); events != nil {
		t.Fatalf("expected nil replay for unknown session")
	}
}

func TestHubForgetClosesSubscribers(t *testing.T) {
	hub := NewHub(0)
	ch, unsub, _ := hub.Subscribe("s1")
	hub.Forget("s1")
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for close")
	}
	unsub()
	if events := hub.Replay("s1", 0, 10); events != nil {
		t.Fatalf("expected history dropped, got %+v", events)
	}
}
