package core

import "pkt.systems/promptline/schema"

// Decision is the verdict of the edit gate on a proposed replacement.
type Decision int

const (
	// DecisionReject refuses the edit; the transcript is not touched.
	DecisionReject Decision = iota
	// DecisionApply applies the replacement verbatim.
	DecisionApply
	// DecisionPrompt swallows a newline on an empty command and re-emits the prompt.
	DecisionPrompt
	// DecisionSubmit swallows a newline and submits the pending command.
	DecisionSubmit
)

func (d Decision) String() string {
	switch d {
	case DecisionReject:
		return "reject"
	case DecisionApply:
		return "apply"
	case DecisionPrompt:
		return "prompt"
	case DecisionSubmit:
		return "submit"
	default:
		return "unknown"
	}
}

// Proposal is a replacement of the rune range [Start, End) with Text.
type Proposal struct {
	Start int
	End   int
	Text  string
}

// Region is the editable state a proposal is judged against.
type Region struct {
	Boundary int
	Valid    bool
	End      int
	Pending  string
}

// EditGate decides whether proposed edits are legal. Its verdict depends only
// on its phase and the region handed to Evaluate.
type EditGate struct {
	phase schema.Phase
}

// NewEditGate returns a gate that accepts input.
func NewEditGate() *EditGate {
	return &EditGate{phase: schema.PhaseAwaitingInput}
}

// Phase returns the current phase.
func (g *EditGate) Phase() schema.Phase {
	return g.phase
}

// Block closes the gate. It reports whether the phase changed.
func (g *EditGate) Block() bool {
	if g.phase == schema.PhaseBlocked {
		return false
	}
	g.phase = schema.PhaseBlocked
	return true
}

// Open re-opens the gate. It reports whether the phase changed.
func (g *EditGate) Open() bool {
	if g.phase == schema.PhaseAwaitingInput {
		return false
	}
	g.phase = schema.PhaseAwaitingInput
	return true
}

// Evaluate judges p against r.
func (g *EditGate) Evaluate(p Proposal, r Region) Decision {
	if g.phase != schema.PhaseAwaitingInput {
		return DecisionReject
	}
	if !r.Valid || p.Start < r.Boundary {
		return DecisionReject
	}
	if p.Start > p.End || p.End > r.End {
		return DecisionReject
	}
	if isNewline(p.Text) {
		if r.Pending == "" {
			return DecisionPrompt
		}
		return DecisionSubmit
	}
	return DecisionApply
}

func isNewline(text string) bool {
	return text == "\n" || text == "\r"
}
