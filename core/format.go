package core

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/ansi/parser"

	"pkt.systems/promptline/schema"
)

// maxResidual bounds how many bytes of an unfinished sequence are carried
// between chunks before they are given up on and emitted as text.
const maxResidual = 256

const esc = 0x1b

// Formatter turns backend output into styled runs. It keeps the active style
// and any unfinished escape sequence or UTF-8 rune between calls to Apply.
type Formatter struct {
	style    schema.Style
	residual []byte
	cleared  bool

	parser *ansi.Parser
	seq    sequence
}

// NewFormatter returns an empty formatter.
func NewFormatter() *Formatter {
	return &Formatter{}
}

// Style returns the style that the next plain text will carry.
func (f *Formatter) Style() schema.Style {
	if f == nil {
		return schema.Style{}
	}
	return f.style
}

// Empty reports whether no attribute is active and nothing is buffered.
func (f *Formatter) Empty() bool {
	if f == nil {
		return true
	}
	return f.style.IsZero() && len(f.residual) == 0
}

// Reset drops every active attribute and discards a buffered partial sequence.
func (f *Formatter) Reset() {
	if f == nil {
		return
	}
	f.style = schema.Style{}
	f.residual = f.residual[:0]
	f.cleared = false
}

// takeCleared reports and clears an erase-display request seen by the last Apply.
func (f *Formatter) takeCleared() bool {
	if f == nil || !f.cleared {
		return false
	}
	f.cleared = false
	return true
}

// Apply consumes one chunk of output. Text before an erase-display sequence in
// the same chunk is discarded along with the screen it would have been on.
func (f *Formatter) Apply(chunk string) []schema.Run {
	if f == nil {
		return appendRun(nil, schema.PlainRun(strings.ReplaceAll(chunk, "\r", "")))
	}
	data := chunk
	if len(f.residual) > 0 {
		data = string(f.residual) + chunk
		f.residual = f.residual[:0]
	}
	var runs []schema.Run
	for i := 0; i < len(data); {
		b := data[i]
		switch {
		case b == esc:
			next, status := f.escape(data, i)
			switch status {
			case escIncomplete:
				return f.carry(runs, data[i:])
			case escMalformed:
				runs = appendRun(runs, schema.Run{Text: data[i:next], Style: f.style})
			case escErase:
				runs = nil
			}
			i = next
		case b == '\r':
			i++
		case b >= utf8.RuneSelf:
			if !utf8.FullRuneInString(data[i:]) {
				return f.carry(runs, data[i:])
			}
			r, size := utf8.DecodeRuneInString(data[i:])
			text := data[i : i+size]
			if r == utf8.RuneError && size == 1 {
				text = string(utf8.RuneError)
			}
			runs = appendRun(runs, schema.Run{Text: text, Style: f.style})
			i += size
		default:
			j := i + 1
			for j < len(data) && data[j] != esc && data[j] != '\r' && data[j] < utf8.RuneSelf {
				j++
			}
			runs = appendRun(runs, schema.Run{Text: data[i:j], Style: f.style})
			i = j
		}
	}
	return runs
}

func (f *Formatter) carry(runs []schema.Run, rest string) []schema.Run {
	if len(rest) > maxResidual {
		return appendRun(runs, schema.Run{Text: rest, Style: f.style})
	}
	f.residual = append(f.residual, rest...)
	return runs
}

type escStatus int

const (
	escConsumed escStatus = iota
	escMalformed
	escIncomplete
	escErase
)

// sequence records what the parser reported while one sequence was fed to it.
type sequence struct {
	done     bool
	executed bool
	erase    bool
}

func (f *Formatter) vt() *ansi.Parser {
	if f.parser != nil {
		return f.parser
	}
	p := ansi.NewParser()
	p.SetDataSize(maxResidual)
	p.SetHandler(ansi.Handler{
		Execute:   func(byte) { f.seq.executed = true },
		HandleCsi: f.handleCsi,
		HandleEsc: f.handleEsc,
		HandleOsc: func(int, []byte) { f.seq.done = true },
		HandleDcs: func(ansi.Cmd, ansi.Params, []byte) { f.seq.done = true },
		HandleSos: func([]byte) { f.seq.done = true },
		HandlePm:  func([]byte) { f.seq.done = true },
		HandleApc: func([]byte) { f.seq.done = true },
	})
	f.parser = p
	return p
}

// escape feeds the sequence starting at data[i] (an ESC byte) to the parser
// and returns the index just past it. Anything the parser would execute,
// cancel or abandon marks the sequence malformed so the caller keeps it as text.
func (f *Formatter) escape(data string, i int) (int, escStatus) {
	p := f.vt()
	p.Reset()
	f.seq = sequence{}
	for j := i; j < len(data); j++ {
		if j-i > maxResidual {
			return j, escMalformed
		}
		b := data[j]
		state := p.State()
		if j > i && b == esc {
			if !inString(state) {
				return j, escMalformed
			}
			// ESC ends a string; ESC \ is the string terminator.
			if j+1 >= len(data) {
				return i, escIncomplete
			}
			if data[j+1] == '\\' {
				return j + 2, escConsumed
			}
			return j, escConsumed
		}
		if j > i && b >= utf8.RuneSelf && state != parser.OscStringState && state != parser.DcsStringState {
			return j, escMalformed
		}
		p.Advance(b)
		switch {
		case f.seq.done && f.seq.erase:
			return j + 1, escErase
		case f.seq.done:
			return j + 1, escConsumed
		case f.seq.executed, p.State() == parser.GroundState:
			return j, escMalformed
		}
	}
	return i, escIncomplete
}

func inString(state parser.State) bool {
	switch state {
	case parser.OscStringState, parser.SosStringState, parser.PmStringState, parser.ApcStringState,
		parser.DcsEntryState, parser.DcsParamState, parser.DcsIntermediateState, parser.DcsStringState:
		return true
	}
	return false
}

func (f *Formatter) handleCsi(cmd ansi.Cmd, params ansi.Params) {
	f.seq.done = true
	if cmd.Prefix() != 0 || cmd.Intermediate() != 0 {
		return
	}
	switch cmd.Final() {
	case 'm':
		f.applySGR(params)
	case 'J':
		if n, _, _ := params.Param(0, 0); n == 2 || n == 3 {
			f.cleared = true
			f.seq.erase = true
		}
	}
}

func (f *Formatter) handleEsc(cmd ansi.Cmd) {
	f.seq.done = true
	if cmd.Intermediate() == 0 && cmd.Final() == 'c' {
		f.style = schema.Style{}
		f.cleared = true
		f.seq.erase = true
	}
}

func (f *Formatter) applySGR(params ansi.Params) {
	if len(params) == 0 {
		f.style = schema.Style{}
		return
	}
	for k := 0; k < len(params); k++ {
		if params[k].HasMore() {
			end := k
			for end < len(params)-1 && params[end].HasMore() {
				end++
			}
			f.applySubparams(params[k : end+1])
			k = end
			continue
		}
		n := params[k].Param(0)
		switch n {
		case 38, 48, 58:
			color, used, ok := extendedColor(params[k+1:])
			k += used
			if ok {
				f.setColor(n, color)
			}
		default:
			f.applyCode(n)
		}
	}
}

// applySubparams handles one colon-separated group such as 38:2::r:g:b or 4:3.
func (f *Formatter) applySubparams(group ansi.Params) {
	n := group[0].Param(0)
	switch n {
	case 38, 48, 58:
		args := group[1:]
		if len(args) == 0 {
			return
		}
		if args[0].Param(0) == 2 && len(args) >= 5 {
			// 38:2:<colorspace>:r:g:b
			args = append(ansi.Params{args[0]}, args[2:]...)
		}
		if color, _, ok := extendedColor(args); ok {
			f.setColor(n, color)
		}
	case 4:
		if len(group) > 1 && group[1].Param(0) == 0 {
			f.style.Underline = false
			return
		}
		f.style.Underline = true
	default:
		f.applyCode(n)
	}
}

func (f *Formatter) setColor(n int, color schema.Color) {
	switch n {
	case 38:
		f.style.Fg = color
	case 48:
		f.style.Bg = color
	}
}

func (f *Formatter) applyCode(n int) {
	s := &f.style
	switch {
	case n == 0:
		*s = schema.Style{}
	case n == 1:
		s.Bold = true
	case n == 2:
		s.Faint = true
	case n == 3:
		s.Italic = true
	case n == 4 || n == 21:
		s.Underline = true
	case n == 5 || n == 6:
		s.Blink = true
	case n == 7:
		s.Inverse = true
	case n == 8:
		s.Hidden = true
	case n == 9:
		s.Strike = true
	case n == 22:
		s.Bold = false
		s.Faint = false
	case n == 23:
		s.Italic = false
	case n == 24:
		s.Underline = false
	case n == 25:
		s.Blink = false
	case n == 27:
		s.Inverse = false
	case n == 28:
		s.Hidden = false
	case n == 29:
		s.Strike = false
	case n >= 30 && n <= 37:
		s.Fg = schema.IndexedColor(uint8(n - 30))
	case n == 39:
		s.Fg = schema.Color{}
	case n >= 40 && n <= 47:
		s.Bg = schema.IndexedColor(uint8(n - 40))
	case n == 49:
		s.Bg = schema.Color{}
	case n >= 90 && n <= 97:
		s.Fg = schema.IndexedColor(uint8(n - 90 + 8))
	case n >= 100 && n <= 107:
		s.Bg = schema.IndexedColor(uint8(n - 100 + 8))
	}
}

// extendedColor decodes the parameters following 38/48/58 and reports how
// many it consumed.
func extendedColor(args ansi.Params) (schema.Color, int, bool) {
	if len(args) == 0 {
		return schema.Color{}, 0, false
	}
	switch args[0].Param(0) {
	case 5:
		if len(args) < 2 {
			return schema.Color{}, len(args), false
		}
		return schema.IndexedColor(clampByte(args[1].Param(0))), 2, true
	case 2:
		if len(args) < 4 {
			return schema.Color{}, len(args), false
		}
		r, g, b := args[1].Param(0), args[2].Param(0), args[3].Param(0)
		return schema.RGBColor(clampByte(r), clampByte(g), clampByte(b)), 4, true
	default:
		return schema.Color{}, len(args), false
	}
}

func clampByte(n int) uint8 {
	if n > 255 {
		return 255
	}
	return uint8(n)
}

// appendRun appends r, merging it into the last run when the styles match.
func appendRun(runs []schema.Run, r schema.Run) []schema.Run {
	if r.Text == "" {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Style == r.Style {
		runs[n-1].Text += r.Text
		return runs
	}
	return append(runs, r)
}
