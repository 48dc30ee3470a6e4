package sshserver

import (
	"testing"

	"pkt.systems/promptline/core"
)

func TestLineCursorProposals(t *testing.T) {
	region := core.Region{Boundary: 5, Valid: true, End: 14, Pending: "echo  one"}
	cases := []struct {
		name string
		pos  int
		k    key
		want core.Proposal
		ok   bool
	}{
		{"insert", 4, key{kind: keyRune, r: 'x'}, core.Proposal{Start: 9, End: 9, Text: "x"}, true},
		{"enter at end", 0, key{kind: keyEnter}, core.Proposal{Start: 14, End: 14, Text: "\n"}, true},
		{"backspace", 4, key{kind: keyBackspace}, core.Proposal{Start: 8, End: 9}, true},
		{"backspace at start", 0, key{kind: keyBackspace}, core.Proposal{}, false},
		{"delete", 0, key{kind: keyDelete}, core.Proposal{Start: 5, End: 6}, true},
		{"delete at end", 9, key{kind: keyDelete}, core.Proposal{}, false},
		{"ctrl-w", 9, key{kind: keyCtrlW}, core.Proposal{Start: 11, End: 14}, true},
		{"ctrl-w over spaces", 6, key{kind: keyCtrlW}, core.Proposal{Start: 5, End: 11}, true},
		{"ctrl-u", 4, key{kind: keyCtrlU}, core.Proposal{Start: 5, End: 9}, true},
		{"ctrl-k", 4, key{kind: keyCtrlK}, core.Proposal{Start: 9, End: 14}, true},
		{"clamped cursor", 99, key{kind: keyRune, r: '!'}, core.Proposal{Start: 14, End: 14, Text: "!"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := lineCursor{pos: tc.pos}
			got, ok := c.proposal(tc.k, region)
			if ok != tc.ok {
				t.Fatalf("expected ok=%v, got %v", tc.ok, ok)
			}
			if got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestLineCursorMoves(t *testing.T) {
	region := core.Region{Boundary: 0, Valid: true, End: 9, Pending: "echo  one"}
	c := lineCursor{pos: 9}
	steps := []struct {
		k    keyKind
		want int
	}{
		{keyAltB, 6},
		{keyAltB, 0},
		{keyAltF, 4},
		{keyRight, 5},
		{keyLeft, 4},
		{keyEnd, 9},
		{keyRight, 9},
		{keyHome, 0},
		{keyLeft, 0},
		{keyCtrlE, 9},
		{keyCtrlA, 0},
	}
	for i, step := range steps {
		if _, ok := c.proposal(key{kind: step.k}, region); ok {
			t.Fatalf("step %d: expected no proposal", i)
		}
		if c.pos != step.want {
			t.Fatalf("step %d: expected cursor %d, got %d", i, step.want, c.pos)
		}
	}
}

func TestLineCursorApplied(t *testing.T) {
	region := core.Region{Boundary: 5, Valid: true, End: 7, Pending: "ab"}
	c := lineCursor{pos: 1}
	c.applied(core.Proposal{Start: 6, End: 6, Text: "xyz"}, core.DecisionApply, region)
	if c.pos != 4 {
		t.Fatalf("expected cursor after insert at 4, got %d", c.pos)
	}
	c.applied(core.Proposal{Start: 7, End: 7, Text: "\n"}, core.DecisionSubmit, region)
	if c.pos != 0 {
		t.Fatalf("expected cursor reset on submit, got %d", c.pos)
	}
	c.pos = 2
	c.applied(core.Proposal{Start: 6, End: 7}, core.DecisionReject, region)
	if c.pos != 2 {
		t.Fatalf("expected cursor unchanged on reject, got %d", c.pos)
	}
}
