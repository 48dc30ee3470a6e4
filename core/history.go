package core

import "strings"

// historyBuffer keeps submitted commands and a recall cursor.
type historyBuffer struct {
	entries []string
	max     int
	// index is the recalled entry, or -1 while editing a fresh line.
	index int
	draft string
}

func newHistory(max int) *historyBuffer {
	if max <= 0 {
		max = defaultHistoryMax
	}
	return &historyBuffer{max: max, index: -1}
}

const defaultHistoryMax = 200

func (h *historyBuffer) Append(entry string) bool {
	h.index = -1
	h.draft = ""
	if strings.TrimSpace(entry) == "" {
		return false
	}
	if len(h.entries) > 0 && h.entries[len(h.entries)-1] == entry {
		return false
	}
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	return true
}

func (h *historyBuffer) Entries() []string {
	return append([]string(nil), h.entries...)
}

// Prev steps back from current, remembering it as the draft on the first step.
func (h *historyBuffer) Prev(current string) (string, bool) {
	if len(h.entries) == 0 {
		return "", false
	}
	switch {
	case h.index == -1:
		h.draft = current
		h.index = len(h.entries) - 1
	case h.index > 0:
		h.index--
	default:
		return "", false
	}
	return h.entries[h.index], true
}

// Next steps forward; past the newest entry it restores the draft.
func (h *historyBuffer) Next() (string, bool) {
	if h.index == -1 {
		return "", false
	}
	if h.index < len(h.entries)-1 {
		h.index++
		return h.entries[h.index], true
	}
	h.index = -1
	draft := h.draft
	h.draft = ""
	return draft, true
}

// Reset leaves recall mode, e.g. after the user edits the line.
func (h *historyBuffer) Reset() {
	h.index = -1
	h.draft = ""
}
