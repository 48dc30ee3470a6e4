package sshserver

import (
	"strings"
	"testing"
	"unicode/utf8"

	xansi "github.com/charmbracelet/x/ansi"

	"pkt.systems/promptline/core"
	"pkt.systems/promptline/schema"
)

func plainLines(lines []string) []string {
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = xansi.Strip(line)
	}
	return out
}

func TestLayoutTranscriptWraps(t *testing.T) {
	lay := layoutTranscript([]schema.Run{schema.PlainRun("ab\ncdefg")}, 3, -1)
	got := plainLines(lay.lines)
	want := []string{"ab", "cde", "fg"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if lay.row != 2 || lay.col != 2 {
		t.Fatalf("expected caret at end 2:2, got %d:%d", lay.row, lay.col)
	}
}

func TestLayoutTranscriptCaret(t *testing.T) {
	lay := layoutTranscript([]schema.Run{schema.PlainRun("box: ls")}, 80, 5)
	if lay.row != 0 || lay.col != 5 {
		t.Fatalf("expected caret 0:5, got %d:%d", lay.row, lay.col)
	}
	lay = layoutTranscript([]schema.Run{schema.PlainRun("abc")}, 3, 3)
	if lay.row != 1 || lay.col != 0 {
		t.Fatalf("expected caret wrapped to 1:0, got %d:%d", lay.row, lay.col)
	}
	if len(lay.lines) != 2 {
		t.Fatalf("expected an empty continuation line, got %q", lay.lines)
	}
}

func TestLayoutTranscriptSpecialRunes(t *testing.T) {
	lay := layoutTranscript([]schema.Run{schema.PlainRun("a\tb\x07")}, 20, -1)
	if got := xansi.Strip(lay.lines[0]); got != "a       b^G" {
		t.Fatalf("unexpected tab/control rendering %q", got)
	}
	lay = layoutTranscript([]schema.Run{schema.PlainRun("日本")}, 3, -1)
	if got := plainLines(lay.lines); len(got) != 2 || got[0] != "日" || got[1] != "本" {
		t.Fatalf("expected wide runes to wrap, got %q", got)
	}
}

func TestLayoutTranscriptStyles(t *testing.T) {
	bold := schema.Style{Bold: true, Fg: schema.IndexedColor(1)}
	lay := layoutTranscript([]schema.Run{{Text: "hot", Style: bold}, schema.PlainRun(" cold")}, 80, -1)
	line := lay.lines[0]
	if !strings.Contains(line, "\x1b[0;1;31mhot"+ansiReset) {
		t.Fatalf("expected styled run, got %q", line)
	}
	if got := xansi.Strip(line); got != "hot cold" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestSGR(t *testing.T) {
	cases := []struct {
		style schema.Style
		want  string
	}{
		{schema.Style{}, "\x1b[0m"},
		{schema.Style{Underline: true, Fg: schema.IndexedColor(9)}, "\x1b[0;4;91m"},
		{schema.Style{Bg: schema.IndexedColor(200)}, "\x1b[0;48;5;200m"},
		{schema.Style{Fg: schema.RGBColor(1, 2, 3)}, "\x1b[0;38;2;1;2;3m"},
	}
	for _, tc := range cases {
		if got := sgr(tc.style); got != tc.want {
			t.Fatalf("sgr(%+v): expected %q, got %q", tc.style, tc.want, got)
		}
	}
}

func testSnapshot(text string, phase schema.Phase) core.Snapshot {
	n := utf8.RuneCountInString(text)
	return core.Snapshot{
		Runs:       []schema.Run{schema.PlainRun(text)},
		Length:     n,
		Boundary:   n,
		Valid:      true,
		Phase:      phase,
		WorkingDir: "~/src",
	}
}

func TestRenderFrameViewport(t *testing.T) {
	theme := themeForName("outrun")
	snap := testSnapshot("l1\nl2\nl3\nl4\nbox: ", schema.PhaseAwaitingInput)

	f := renderFrame(snap, 0, 20, 3, 0, theme)
	got := plainLines(f.lines)
	if len(got) != 3 || got[0] != "l4" || got[1] != "box: " {
		t.Fatalf("expected tail of transcript, got %q", got)
	}
	if !strings.Contains(got[2], "~/src") || !strings.Contains(got[2], "ready") {
		t.Fatalf("expected status bar, got %q", got[2])
	}
	if xansi.StringWidth(f.lines[2]) != 20 {
		t.Fatalf("expected status bar to fill the width, got %d", xansi.StringWidth(f.lines[2]))
	}
	if f.cursorRow != 2 || f.cursorCol != 6 {
		t.Fatalf("expected cursor 2:6, got %d:%d", f.cursorRow, f.cursorCol)
	}

	f = renderFrame(snap, 0, 20, 3, 1, theme)
	got = plainLines(f.lines)
	if got[0] != "l3" || got[1] != "l4" {
		t.Fatalf("expected scrolled view, got %q", got)
	}
	if !strings.Contains(got[2], "scrolled 1") {
		t.Fatalf("expected scroll marker, got %q", got[2])
	}
	if f.cursorRow != 3 || f.cursorCol != 1 {
		t.Fatalf("expected cursor parked on status bar, got %d:%d", f.cursorRow, f.cursorCol)
	}

	f = renderFrame(snap, 0, 20, 3, 99, theme)
	if got := plainLines(f.lines); got[0] != "l1" || got[1] != "l2" {
		t.Fatalf("expected scroll clamped to top, got %q", got)
	}
}

func TestRenderFrameBusyStatus(t *testing.T) {
	snap := testSnapshot("box: sleep 1\n", schema.PhaseBlocked)
	f := renderFrame(snap, 0, 40, 5, 0, themeForName("gruvbox"))
	status := xansi.Strip(f.lines[len(f.lines)-1])
	if !strings.Contains(status, "running") {
		t.Fatalf("expected running status, got %q", status)
	}
	if len(f.lines) != 5 {
		t.Fatalf("expected padded viewport, got %d lines", len(f.lines))
	}
}

func TestStatusBarTruncatesLongDirectory(t *testing.T) {
	snap := testSnapshot("", schema.PhaseAwaitingInput)
	snap.WorkingDir = "/" + strings.Repeat("deep/", 20)
	bar := statusBar(snap, 30, 0, themeForName("tokyo-midnight"))
	if w := xansi.StringWidth(bar); w != 30 {
		t.Fatalf("expected width 30, got %d", w)
	}
	if !strings.HasSuffix(xansi.Strip(bar), "ready ") {
		t.Fatalf("expected phase to survive truncation, got %q", xansi.Strip(bar))
	}
}

func TestThemeFallback(t *testing.T) {
	if got := themeForName("nope").Name; got != string(schema.DefaultTheme) {
		t.Fatalf("expected default theme, got %q", got)
	}
	if got := themeForName("Tokyo").Name; got != "tokyo-midnight" {
		t.Fatalf("expected alias to resolve, got %q", got)
	}
}
