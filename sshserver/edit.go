package sshserver

import (
	"unicode"

	"pkt.systems/promptline/core"
)

// lineCursor is the caret position inside the pending command, in runes from
// the boundary. It only exists on the terminal side; the transcript decides
// whether the edits it produces are legal.
type lineCursor struct {
	pos int
}

func (c *lineCursor) clamp(pending []rune) {
	if c.pos < 0 {
		c.pos = 0
	}
	if c.pos > len(pending) {
		c.pos = len(pending)
	}
}

// proposal translates an editing key into a replacement of part of the
// pending command. It returns false for keys that do not edit, moving the
// cursor instead where that applies.
func (c *lineCursor) proposal(k key, region core.Region) (core.Proposal, bool) {
	pending := []rune(region.Pending)
	c.clamp(pending)
	base := region.Boundary
	at := base + c.pos
	end := base + len(pending)
	switch k.kind {
	case keyRune:
		return core.Proposal{Start: at, End: at, Text: string(k.r)}, true
	case keyEnter:
		return core.Proposal{Start: end, End: end, Text: "\n"}, true
	case keyBackspace:
		if c.pos == 0 {
			return core.Proposal{}, false
		}
		return core.Proposal{Start: at - 1, End: at}, true
	case keyDelete:
		if c.pos >= len(pending) {
			return core.Proposal{}, false
		}
		return core.Proposal{Start: at, End: at + 1}, true
	case keyCtrlW:
		start := wordStart(pending, c.pos)
		if start == c.pos {
			return core.Proposal{}, false
		}
		return core.Proposal{Start: base + start, End: at}, true
	case keyCtrlU:
		if c.pos == 0 {
			return core.Proposal{}, false
		}
		return core.Proposal{Start: base, End: at}, true
	case keyCtrlK:
		if c.pos >= len(pending) {
			return core.Proposal{}, false
		}
		return core.Proposal{Start: at, End: end}, true
	case keyLeft:
		c.pos--
	case keyRight:
		c.pos++
	case keyHome, keyCtrlA:
		c.pos = 0
	case keyEnd, keyCtrlE:
		c.pos = len(pending)
	case keyAltB:
		c.pos = wordStart(pending, c.pos)
	case keyAltF:
		c.pos = wordEnd(pending, c.pos)
	}
	c.clamp(pending)
	return core.Proposal{}, false
}

// applied moves the cursor after p was accepted.
func (c *lineCursor) applied(p core.Proposal, d core.Decision, region core.Region) {
	switch d {
	case core.DecisionApply:
		c.pos = p.Start - region.Boundary + len([]rune(p.Text))
	case core.DecisionPrompt, core.DecisionSubmit:
		c.pos = 0
	}
}

func wordStart(line []rune, pos int) int {
	i := pos
	for i > 0 && unicode.IsSpace(line[i-1]) {
		i--
	}
	for i > 0 && !unicode.IsSpace(line[i-1]) {
		i--
	}
	return i
}

func wordEnd(line []rune, pos int) int {
	i := pos
	for i < len(line) && unicode.IsSpace(line[i]) {
		i++
	}
	for i < len(line) && !unicode.IsSpace(line[i]) {
		i++
	}
	return i
}
