package core

import (
	"strings"
	"unicode/utf8"

	"pkt.systems/promptline/schema"
)

// ChangeKind classifies a transcript mutation.
type ChangeKind int

const (
	// ChangeAppend means runs were added at the end.
	ChangeAppend ChangeKind = iota
	// ChangeReplace means part of the pending command was replaced.
	ChangeReplace
	// ChangeClear means the transcript was emptied.
	ChangeClear
	// ChangeTrim means old history was dropped from the front.
	ChangeTrim
	// ChangeBoundary means the command boundary moved.
	ChangeBoundary
)

// Change describes one mutation. Indices are rune offsets.
type Change struct {
	Kind     ChangeKind
	Start    int
	End      int
	Length   int
	Boundary int
	Valid    bool
}

// Transcript is the styled text of a session plus the command boundary that
// separates immutable history from the editable command line. Offsets are
// counted in runes.
type Transcript struct {
	runs     []schema.Run
	sizes    []int
	length   int
	boundary int
	maxRunes int
	hook     func(Change)
}

const noBoundary = -1

// NewTranscript returns an empty transcript with an unset boundary.
// maxRunes caps retained history; zero keeps everything.
func NewTranscript(maxRunes int) *Transcript {
	if maxRunes < 0 {
		maxRunes = 0
	}
	return &Transcript{boundary: noBoundary, maxRunes: maxRunes}
}

// SetHook installs the change observer.
func (t *Transcript) SetHook(fn func(Change)) {
	t.hook = fn
}

// Len returns the transcript length in runes.
func (t *Transcript) Len() int {
	return t.length
}

// Boundary returns the command boundary and whether it is set.
func (t *Transcript) Boundary() (int, bool) {
	if t.boundary == noBoundary {
		return 0, false
	}
	return t.boundary, true
}

// Append inserts runs at the end and returns the new end offset.
func (t *Transcript) Append(runs ...schema.Run) int {
	start := t.length
	for _, r := range runs {
		t.push(r)
	}
	if t.length == start {
		return t.length
	}
	t.notify(Change{Kind: ChangeAppend, Start: start, End: t.length})
	t.trim()
	return t.length
}

// Write feeds raw output through f and appends the result.
func (t *Transcript) Write(f *Formatter, raw string) int {
	runs := f.Apply(raw)
	if f.takeCleared() {
		t.Clear(nil)
	}
	return t.Append(runs...)
}

// ReplaceRange replaces [start, end) with runs. It refuses any range that
// starts before the boundary and leaves the transcript untouched on error.
func (t *Transcript) ReplaceRange(start, end int, runs ...schema.Run) error {
	if t.boundary == noBoundary {
		return schema.ErrBoundaryUnset
	}
	if start < t.boundary {
		return schema.ErrBeforeBoundary
	}
	if start > end || end > t.length {
		return schema.ErrRangeOutOfBounds
	}
	a := t.split(start)
	b := t.split(end)
	tail := append([]schema.Run(nil), t.runs[b:]...)
	t.runs = t.runs[:a]
	t.sizes = t.sizes[:a]
	t.length = start
	for _, r := range runs {
		t.push(r)
	}
	for _, r := range tail {
		t.push(r)
	}
	t.notify(Change{Kind: ChangeReplace, Start: start, End: end})
	return nil
}

// Clear empties the transcript, unsets the boundary and resets f when given.
func (t *Transcript) Clear(f *Formatter) {
	t.runs = nil
	t.sizes = nil
	t.length = 0
	t.boundary = noBoundary
	if f != nil {
		f.Reset()
	}
	t.notify(Change{Kind: ChangeClear})
}

// SetBoundary moves the boundary, clamped to [0, Len()].
func (t *Transcript) SetBoundary(idx int) {
	if idx < 0 {
		idx = 0
	}
	if idx > t.length {
		idx = t.length
	}
	t.boundary = idx
	t.notify(Change{Kind: ChangeBoundary})
}

// AdvanceBoundary moves the boundary to the end of the transcript.
func (t *Transcript) AdvanceBoundary() {
	t.SetBoundary(t.length)
}

// Pending returns the editable command text between the boundary and the end.
func (t *Transcript) Pending() string {
	if t.boundary == noBoundary || t.boundary > t.length {
		return ""
	}
	return t.Slice(t.boundary, t.length)
}

// Slice returns the plain text of [from, to), clamped to the transcript.
func (t *Transcript) Slice(from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > t.length {
		to = t.length
	}
	if from >= to {
		return ""
	}
	var b strings.Builder
	first, pos := t.locate(from)
	for i := first; i < len(t.runs); i++ {
		r, size := t.runs[i], t.sizes[i]
		if pos >= to {
			break
		}
		lo := 0
		if from > pos {
			lo = from - pos
		}
		hi := size
		if to < pos+size {
			hi = to - pos
		}
		b.WriteString(runeSlice(r.Text, lo, hi))
		pos += size
	}
	return b.String()
}

// String returns the whole transcript as plain text.
func (t *Transcript) String() string {
	var b strings.Builder
	for _, r := range t.runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Runs returns a copy of the styled runs.
func (t *Transcript) Runs() []schema.Run {
	return append([]schema.Run(nil), t.runs...)
}

// EndsWithNewline reports whether the last rune is a line feed.
func (t *Transcript) EndsWithNewline() bool {
	if len(t.runs) == 0 {
		return false
	}
	return strings.HasSuffix(t.runs[len(t.runs)-1].Text, "\n")
}

func (t *Transcript) push(r schema.Run) {
	if r.Text == "" {
		return
	}
	size := utf8.RuneCountInString(r.Text)
	if n := len(t.runs); n > 0 && t.runs[n-1].Style == r.Style {
		t.runs[n-1].Text += r.Text
		t.sizes[n-1] += size
	} else {
		t.runs = append(t.runs, r)
		t.sizes = append(t.sizes, size)
	}
	t.length += size
}

// locate returns the index of the run containing rune idx and the offset at
// which that run starts. It walks from the end, where edits happen.
func (t *Transcript) locate(idx int) (int, int) {
	if idx >= t.length {
		return len(t.runs), t.length
	}
	pos := t.length
	for i := len(t.runs) - 1; i >= 0; i-- {
		pos -= t.sizes[i]
		if pos <= idx {
			return i, pos
		}
	}
	return 0, 0
}

// split makes sure a run starts at idx and returns that run's index.
func (t *Transcript) split(idx int) int {
	i, pos := t.locate(idx)
	if i == len(t.runs) || pos == idx {
		return i
	}
	size := t.sizes[i]
	off := idx - pos
	r := t.runs[i]
	left := schema.Run{Text: runeSlice(r.Text, 0, off), Style: r.Style}
	right := schema.Run{Text: runeSlice(r.Text, off, size), Style: r.Style}
	t.runs = append(t.runs[:i], append([]schema.Run{left, right}, t.runs[i+1:]...)...)
	t.sizes = append(t.sizes[:i], append([]int{off, size - off}, t.sizes[i+1:]...)...)
	return i + 1
}

// trim drops whole lines of history from the front while the transcript is
// over its cap. Nothing at or after the start of the boundary's line is dropped.
func (t *Transcript) trim() {
	if t.maxRunes <= 0 || t.length <= t.maxRunes || t.boundary == noBoundary {
		return
	}
	excess := t.length - t.maxRunes
	text := t.Slice(0, t.boundary)
	cut := 0
	pos := 0
	for _, r := range text {
		pos++
		if r == '\n' && pos >= excess {
			cut = pos
			break
		}
	}
	if cut == 0 {
		return
	}
	b := t.split(cut)
	t.runs = append([]schema.Run(nil), t.runs[b:]...)
	t.sizes = append([]int(nil), t.sizes[b:]...)
	t.length -= cut
	t.boundary -= cut
	t.notify(Change{Kind: ChangeTrim, Start: 0, End: cut})
}

func (t *Transcript) notify(c Change) {
	if t.hook == nil {
		return
	}
	c.Length = t.length
	c.Boundary = t.boundary
	c.Valid = t.boundary != noBoundary
	if !c.Valid {
		c.Boundary = 0
	}
	t.hook(c)
}

// runeSlice returns runes [lo, hi) of s.
func runeSlice(s string, lo, hi int) string {
	if lo >= hi {
		return ""
	}
	start, end := -1, len(s)
	n := 0
	for i := range s {
		if n == lo {
			start = i
		}
		if n == hi {
			end = i
			break
		}
		n++
	}
	if start < 0 {
		return ""
	}
	return s[start:end]
}
