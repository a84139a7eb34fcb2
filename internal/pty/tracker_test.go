package pty

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markerLog struct {
	mu      sync.Mutex
	markers []Marker
}

func (l *markerLog) handle(m Marker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.markers = append(l.markers, m)
}

func (l *markerLog) all() []Marker {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Marker(nil), l.markers...)
}

func write(t *testing.T, tr *Tracker, s string) {
	t.Helper()
	n, err := tr.Write([]byte(s))
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

func TestTrackerPrintAndCursor(t *testing.T) {
	tr := NewTracker(24, 80, nil)
	write(t, tr, "hello")

	assert.Equal(t, "hello", tr.Line(0))
	assert.Equal(t, Position{Row: 0, Col: 5}, tr.Cursor())
}

func TestTrackerCursorMovementAndErase(t *testing.T) {
	tr := NewTracker(24, 80, nil)
	write(t, tr, "abc\r\ndef\x1b[1;2H\x1b[K")

	assert.Equal(t, "a", tr.Line(0))
	assert.Equal(t, "def", tr.Line(1))
	assert.Equal(t, Position{Row: 0, Col: 1}, tr.Cursor())

	write(t, tr, "\x1b[2;1H\x1b[2J")
	assert.Equal(t, "", tr.Line(1))
	assert.Equal(t, Position{Row: 1, Col: 0}, tr.Cursor())
}

func TestTrackerRelativeMoves(t *testing.T) {
	tr := NewTracker(10, 20, nil)
	write(t, tr, "\x1b[5;5H\x1b[2A\x1b[3C")
	assert.Equal(t, Position{Row: 2, Col: 7}, tr.Cursor())

	write(t, tr, "\x1b[B\x1b[10D")
	assert.Equal(t, Position{Row: 3, Col: 0}, tr.Cursor())

	write(t, tr, "\x1b[100B\x1b[100C")
	assert.Equal(t, Position{Row: 9, Col: 19}, tr.Cursor(), "moves clamp at the edges")

	write(t, tr, "\x1b[4G\x1b[2d")
	assert.Equal(t, Position{Row: 1, Col: 3}, tr.Cursor())
}

func TestTrackerWideRunes(t *testing.T) {
	tr := NewTracker(24, 80, nil)
	write(t, tr, "日本x")

	assert.Equal(t, "日本x", tr.Line(0))
	assert.Equal(t, Position{Row: 0, Col: 5}, tr.Cursor())
}

func TestTrackerAutoWrap(t *testing.T) {
	tr := NewTracker(3, 5, nil)
	write(t, tr, "abcde")
	assert.Equal(t, Position{Row: 0, Col: 4}, tr.Cursor(), "cursor waits at the margin")

	write(t, tr, "fg")
	assert.Equal(t, "abcde", tr.Line(0))
	assert.Equal(t, "fg", tr.Line(1))
	assert.Equal(t, Position{Row: 1, Col: 2}, tr.Cursor())
}

func TestTrackerScrolling(t *testing.T) {
	tr := NewTracker(2, 10, nil)
	write(t, tr, "a\r\nb\r\nc")

	assert.Equal(t, []string{"b", "c"}, tr.Screen())
	assert.Equal(t, Anchor{Line: 2, Col: 1}, tr.Anchor())
}

func TestTrackerScrollingKeepsRowsDistinct(t *testing.T) {
	tr := NewTracker(3, 10, nil)
	write(t, tr, "a\r\nb\r\nc\r\nd")
	assert.Equal(t, []string{"b", "c", "d"}, tr.Screen())

	write(t, tr, "\r\ne\r\nf")
	assert.Equal(t, []string{"d", "e", "f"}, tr.Screen())

	// Rows recycled by the scroll must not share storage
	write(t, tr, "\x1b[1;1HX")
	assert.Equal(t, []string{"X", "e", "f"}, tr.Screen())
}

func TestTrackerInsertDeleteCells(t *testing.T) {
	tr := NewTracker(5, 20, nil)
	write(t, tr, "abcdef\x1b[1;3H\x1b[2P")
	assert.Equal(t, "abef", tr.Line(0))

	write(t, tr, "\x1b[2@")
	assert.Equal(t, "ab  ef", tr.Line(0))

	write(t, tr, "\x1b[1X")
	assert.Equal(t, "ab  ef", tr.Line(0))
}

func TestTrackerInsertDeleteLines(t *testing.T) {
	tr := NewTracker(3, 10, nil)
	write(t, tr, "one\r\ntwo\r\nthree\x1b[2;1H\x1b[L")
	assert.Equal(t, []string{"one", "", "two"}, tr.Screen())

	write(t, tr, "\x1b[M")
	assert.Equal(t, []string{"one", "two", ""}, tr.Screen())
}

func TestTrackerSaveRestoreCursor(t *testing.T) {
	tr := NewTracker(10, 20, nil)
	write(t, tr, "\x1b[3;4H\x1b7\x1b[8;8H\x1b8")
	assert.Equal(t, Position{Row: 2, Col: 3}, tr.Cursor())

	write(t, tr, "\x1b[1;1H\x1b[s\x1b[5;5H\x1b[u")
	assert.Equal(t, Position{Row: 0, Col: 0}, tr.Cursor())
}

func TestTrackerAlternateScreen(t *testing.T) {
	tr := NewTracker(5, 20, nil)
	write(t, tr, "prompt$ ")
	write(t, tr, "\x1b[?1049hfull screen app")

	assert.True(t, tr.AltScreen())
	assert.Equal(t, "full screen app", tr.Line(0))

	_, _, ok := tr.TextFrom(Anchor{Line: 0, Col: 8})
	assert.False(t, ok, "no edit buffer while an app owns the screen")

	write(t, tr, "\x1b[?1049l")
	assert.False(t, tr.AltScreen())
	assert.Equal(t, "prompt$", tr.Line(0))
	assert.Equal(t, Position{Row: 0, Col: 8}, tr.Cursor())
}

func TestTrackerTitleAndCwd(t *testing.T) {
	log := &markerLog{}
	tr := NewTracker(5, 20, log.handle)
	write(t, tr, "\x1b]2;my title\x1b\\")
	write(t, tr, "\x1b]7;file://host/home/u%20x\x07")

	assert.Equal(t, "my title", tr.Title())
	assert.Equal(t, "/home/u x", tr.Cwd())

	markers := log.all()
	require.Len(t, markers, 1)
	assert.Equal(t, MarkerDir, markers[0].Kind)
	assert.Equal(t, "/home/u x", markers[0].Value)
}

func TestTrackerIntegrationMarkers(t *testing.T) {
	log := &markerLog{}
	tr := NewTracker(24, 80, log.handle)
	write(t, tr, "\x1b]697;Pid=4242\x07\x1b]697;Shell=zsh\x07")
	write(t, tr, "\x1b]697;StartPrompt\x07$ \x1b]697;EndPrompt\x07")

	markers := log.all()
	require.Len(t, markers, 4)
	assert.Equal(t, Marker{Kind: MarkerPid, Value: "4242", At: Anchor{}}, markers[0])
	assert.Equal(t, Marker{Kind: MarkerShell, Value: "zsh", At: Anchor{}}, markers[1])
	assert.Equal(t, MarkerStartPrompt, markers[2].Kind)
	assert.Equal(t, Anchor{Line: 0, Col: 0}, markers[2].At)
	assert.Equal(t, MarkerEndPrompt, markers[3].Kind)
	assert.Equal(t, Anchor{Line: 0, Col: 2}, markers[3].At)
}

func TestTrackerFinalTermMarkers(t *testing.T) {
	log := &markerLog{}
	tr := NewTracker(24, 80, log.handle)
	write(t, tr, "\x1b]133;A\x07> \x1b]133;B\x07ls\r\n\x1b]133;C\x07")

	markers := log.all()
	require.Len(t, markers, 3)
	assert.Equal(t, MarkerStartPrompt, markers[0].Kind)
	assert.Equal(t, MarkerEndPrompt, markers[1].Kind)
	assert.Equal(t, MarkerPreExec, markers[2].Kind)
}

func TestTrackerUnknownMarkerIgnored(t *testing.T) {
	log := &markerLog{}
	tr := NewTracker(24, 80, log.handle)
	write(t, tr, "\x1b]697;Bogus=1\x07")
	assert.Empty(t, log.all())
}

func TestTrackerMarkerSplitAcrossWrites(t *testing.T) {
	log := &markerLog{}
	tr := NewTracker(24, 80, log.handle)
	write(t, tr, "\x1b]697;Pre")
	assert.Empty(t, log.all())

	write(t, tr, "Exec\x07")
	markers := log.all()
	require.Len(t, markers, 1)
	assert.Equal(t, MarkerPreExec, markers[0].Kind)
}

func TestTrackerHandlerMayQueryTracker(t *testing.T) {
	var tr *Tracker
	var seen Position
	tr = NewTracker(24, 80, func(Marker) { seen = tr.Cursor() })
	write(t, tr, "ab\x1b]697;EndPrompt\x07cd")

	assert.Equal(t, Position{Row: 0, Col: 4}, seen, "handler runs after the whole write")
}

func TestTrackerTextFrom(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantText   string
		wantCursor int
	}{
		{name: "empty buffer", input: "", wantText: "", wantCursor: 0},
		{name: "typed command", input: "ls -la", wantText: "ls -la", wantCursor: 6},
		{name: "cursor moved left", input: "ls -la\b\b", wantText: "ls -la", wantCursor: 4},
		{name: "trailing space kept under cursor", input: "ls ", wantText: "ls ", wantCursor: 3},
		{name: "trailing blanks after cursor dropped", input: "ls   \x1b[3D", wantText: "ls", wantCursor: 2},
		{name: "rubout leaves no trailing space", input: "git\b \b", wantText: "gi", wantCursor: 2},
		{name: "inner spaces kept", input: "git  add\b \b\b \b\b \b", wantText: "git  ", wantCursor: 5},
		{name: "line redrawn", input: "git sta\r$ \x1b[Kgit", wantText: "git", wantCursor: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var end Anchor
			tr := NewTracker(24, 80, func(m Marker) {
				if m.Kind == MarkerEndPrompt {
					end = m.At
				}
			})
			write(t, tr, "$ \x1b]697;EndPrompt\x07")
			write(t, tr, tt.input)

			text, cursor, ok := tr.TextFrom(end)
			require.True(t, ok)
			assert.Equal(t, tt.wantText, text)
			assert.Equal(t, tt.wantCursor, cursor)
		})
	}
}

func TestTrackerTextFromWrappedLine(t *testing.T) {
	tr := NewTracker(5, 6, nil)
	write(t, tr, "$ ")
	anchor := tr.Anchor()
	write(t, tr, "echo hello")

	text, cursor, ok := tr.TextFrom(anchor)
	require.True(t, ok)
	assert.Equal(t, "echo hello", text)
	assert.Equal(t, 10, cursor)
}

func TestTrackerTextFromSurvivesScroll(t *testing.T) {
	tr := NewTracker(2, 20, nil)
	write(t, tr, "a\r\nb\r\n$ ")
	anchor := tr.Anchor()
	require.Equal(t, Anchor{Line: 2, Col: 2}, anchor)

	write(t, tr, "echo")
	text, cursor, ok := tr.TextFrom(anchor)
	require.True(t, ok)
	assert.Equal(t, "echo", text)
	assert.Equal(t, 4, cursor)

	write(t, tr, "\r\n\r\n\r\n")
	_, _, ok = tr.TextFrom(anchor)
	assert.False(t, ok, "anchor scrolled off the screen")
}

func TestTrackerTextFromCursorBeforeAnchor(t *testing.T) {
	tr := NewTracker(5, 20, nil)
	write(t, tr, "$ ")
	anchor := tr.Anchor()
	write(t, tr, "\r")

	_, _, ok := tr.TextFrom(anchor)
	assert.False(t, ok)
}

func TestTrackerResizeKeepsCursorRow(t *testing.T) {
	tr := NewTracker(5, 20, nil)
	write(t, tr, "\x1b[5;1Hlast")
	before := tr.Anchor()

	tr.Resize(2, 20)
	assert.Equal(t, "last", tr.Line(1))
	assert.Equal(t, Position{Row: 1, Col: 4}, tr.Cursor())
	assert.Equal(t, before, tr.Anchor(), "absolute position is unchanged by the shrink")

	rows, cols := tr.Size()
	assert.Equal(t, 2, rows)
	assert.Equal(t, 20, cols)
}

func TestTrackerReset(t *testing.T) {
	tr := NewTracker(5, 20, nil)
	write(t, tr, "\x1b]0;t\x07junk\x1bc")

	assert.Equal(t, "", tr.Line(0))
	assert.Equal(t, Position{}, tr.Cursor())
	assert.Equal(t, "", tr.Title())
}

func TestMarkerKindString(t *testing.T) {
	assert.Equal(t, "EndPrompt", MarkerEndPrompt.String())
	assert.Equal(t, "Marker(99)", MarkerKind(99).String())
}
