package pty

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

// ShellIntegrationOSC is the OSC number the shell hooks emit markers on
const ShellIntegrationOSC = 697

const finalTermOSC = 133

// Position is a zero-based cell position on the visible screen
type Position struct {
	Row int
	Col int
}

// Anchor is a screen position that stays valid while the primary screen
// scrolls. Line counts rows from the first line ever shown.
type Anchor struct {
	Line int64
	Col  int
}

// MarkerKind identifies a shell-integration marker
type MarkerKind int

const (
	MarkerStartPrompt MarkerKind = iota + 1
	MarkerEndPrompt
	MarkerPreExec
	MarkerDir
	MarkerPid
	MarkerTty
	MarkerHostname
	MarkerShell
	MarkerCommand
)

var markerNames = map[MarkerKind]string{
	MarkerStartPrompt: "StartPrompt",
	MarkerEndPrompt:   "EndPrompt",
	MarkerPreExec:     "PreExec",
	MarkerDir:         "Dir",
	MarkerPid:         "Pid",
	MarkerTty:         "Tty",
	MarkerHostname:    "Hostname",
	MarkerShell:       "Shell",
	MarkerCommand:     "Command",
}

var markersByName = func() map[string]MarkerKind {
	m := make(map[string]MarkerKind, len(markerNames))
	for k, v := range markerNames {
		m[v] = k
	}
	return m
}()

func (k MarkerKind) String() string {
	if s, ok := markerNames[k]; ok {
		return s
	}
	return "Marker(" + strconv.Itoa(int(k)) + ")"
}

// Marker is one shell-integration event, stamped with the cursor position
// at the moment it was parsed
type Marker struct {
	Kind  MarkerKind
	Value string
	At    Anchor
}

// MarkerHandler receives markers after the write that carried them has
// been fully applied
type MarkerHandler func(Marker)

// Tracker follows terminal output and keeps enough screen state to recover
// the line being edited at a shell prompt
type Tracker struct {
	mu     sync.Mutex
	parser *ansi.Parser

	primary   *grid
	alternate *grid
	altActive bool

	cur         Position
	wrapPending bool
	saved       Position
	savedAlt    Position
	// scrolled counts rows pushed off the top of the primary screen
	scrolled int64

	title string
	cwd   string

	onMarker MarkerHandler
	pending  []Marker
}

// NewTracker creates a tracker for a rows x cols screen
func NewTracker(rows, cols int, onMarker MarkerHandler) *Tracker {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}
	t := &Tracker{
		primary:   newGrid(rows, cols),
		alternate: newGrid(rows, cols),
		onMarker:  onMarker,
	}
	t.parser = ansi.NewParser()
	t.parser.SetHandler(ansi.Handler{
		Print:     t.print,
		Execute:   t.execute,
		HandleCsi: t.csi,
		HandleEsc: t.esc,
		HandleOsc: t.osc,
	})
	return t
}

// Write feeds child output through the parser. It never fails.
func (t *Tracker) Write(p []byte) (int, error) {
	t.mu.Lock()
	for _, b := range p {
		t.parser.Advance(b)
	}
	markers := t.pending
	t.pending = nil
	handler := t.onMarker
	t.mu.Unlock()

	if handler != nil {
		for _, m := range markers {
			handler(m)
		}
	}
	return len(p), nil
}

// Resize changes the screen size. When the primary screen loses rows below
// the cursor its top rows scroll off, as a terminal does.
func (t *Tracker) Resize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.altActive && t.cur.Row >= rows {
		shift := t.cur.Row - rows + 1
		t.primary.scrollUp(shift)
		t.scrolled += int64(shift)
		t.cur.Row -= shift
	}
	t.primary.resize(rows, cols)
	t.alternate.resize(rows, cols)
	t.cur.Row = clamp(t.cur.Row, 0, rows-1)
	t.cur.Col = clamp(t.cur.Col, 0, cols-1)
	t.wrapPending = false
}

// Size returns rows and columns
func (t *Tracker) Size() (rows, cols int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primary.rows, t.primary.cols
}

// Cursor returns the cursor on the active screen
func (t *Tracker) Cursor() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cur
}

// AltScreen reports whether the alternate screen is active
func (t *Tracker) AltScreen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.altActive
}

// Title returns the last window title set through OSC 0 or 2
func (t *Tracker) Title() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.title
}

// Cwd returns the working directory last reported through OSC 7
func (t *Tracker) Cwd() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cwd
}

// Line returns one visible row of the active screen without trailing blanks
func (t *Tracker) Line(row int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.screen()
	if row < 0 || row >= g.rows {
		return ""
	}
	return g.text(row)
}

// Screen returns all visible rows of the active screen
func (t *Tracker) Screen() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.screen()
	lines := make([]string, g.rows)
	for i := range lines {
		lines[i] = g.text(i)
	}
	return lines
}

// Anchor returns the cursor as a scroll-stable position
func (t *Tracker) Anchor() Anchor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.anchor()
}

// TextFrom returns the text between a and the end of the logical line the
// cursor is on, and the cursor offset into it in runes. Trailing blanks are
// dropped unless the cursor sits beyond them. ok is false when the anchor has
// scrolled away, the cursor is before it, or the alternate screen is active.
func (t *Tracker) TextFrom(a Anchor) (text string, cursor int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.altActive {
		return "", 0, false
	}
	g := t.primary
	row := int(a.Line - t.scrolled)
	if row < 0 || row >= g.rows || a.Col < 0 || a.Col > g.cols {
		return "", 0, false
	}

	curRow, curCol := t.cur.Row, t.cur.Col
	if t.wrapPending {
		curCol++
	}
	if curRow < row || (curRow == row && curCol < a.Col) {
		return "", 0, false
	}

	end := row
	for end+1 < g.rows && g.wrapped[end] {
		end++
	}
	if curRow > end {
		end = curRow
	}

	var runes []rune
	cursor = -1
	lastText := 0
	for r := row; r <= end; r++ {
		start := 0
		if r == row {
			start = a.Col
		}
		for c := start; c < g.cols; c++ {
			if r == curRow && c == curCol {
				cursor = len(runes)
			}
			cl := g.cells[r][c]
			switch {
			case cl.width == continuation:
			case cl.r == 0 || cl.r == ' ':
				runes = append(runes, ' ')
			default:
				runes = append(runes, cl.r)
				lastText = len(runes)
			}
		}
		if r == curRow && curCol >= g.cols {
			cursor = len(runes)
		}
	}
	if cursor < 0 {
		cursor = len(runes)
	}

	keep := max(lastText, cursor)
	return string(runes[:keep]), cursor, true
}

func (t *Tracker) screen() *grid {
	if t.altActive {
		return t.alternate
	}
	return t.primary
}

func (t *Tracker) anchor() Anchor {
	col := t.cur.Col
	if t.wrapPending {
		col++
	}
	if t.altActive {
		return Anchor{Line: -1, Col: col}
	}
	return Anchor{Line: t.scrolled + int64(t.cur.Row), Col: col}
}

func (t *Tracker) emit(kind MarkerKind, value string) {
	t.pending = append(t.pending, Marker{Kind: kind, Value: value, At: t.anchor()})
}

func (t *Tracker) print(r rune) {
	w := runewidth.RuneWidth(r)
	if w == 0 {
		return
	}
	g := t.screen()
	if w > g.cols {
		return
	}
	if t.wrapPending {
		g.wrapped[t.cur.Row] = true
		t.cur.Col = 0
		t.index()
		t.wrapPending = false
	}
	if t.cur.Col+w > g.cols {
		g.wrapped[t.cur.Row] = true
		t.cur.Col = 0
		t.index()
	}

	g.put(t.cur.Row, t.cur.Col, r, w)
	if t.cur.Col+w >= g.cols {
		t.cur.Col = g.cols - 1
		t.wrapPending = true
	} else {
		t.cur.Col += w
	}
}

// index moves down one row, scrolling at the bottom
func (t *Tracker) index() {
	g := t.screen()
	if t.cur.Row < g.rows-1 {
		t.cur.Row++
		return
	}
	g.scrollUp(1)
	if !t.altActive {
		t.scrolled++
	}
}

func (t *Tracker) reverseIndex() {
	if t.cur.Row > 0 {
		t.cur.Row--
		return
	}
	t.screen().scrollDown(1)
}

func (t *Tracker) moveTo(row, col int) {
	g := t.screen()
	t.cur.Row = clamp(row, 0, g.rows-1)
	t.cur.Col = clamp(col, 0, g.cols-1)
	t.wrapPending = false
}

func (t *Tracker) execute(b byte) {
	g := t.screen()
	switch b {
	case '\b':
		if t.wrapPending {
			t.wrapPending = false
		} else if t.cur.Col > 0 {
			t.cur.Col--
		}
	case '\r':
		t.cur.Col = 0
		t.wrapPending = false
	case '\n', '\v', '\f':
		t.index()
		t.wrapPending = false
	case '\t':
		next := (t.cur.Col/8 + 1) * 8
		t.cur.Col = min(next, g.cols-1)
		t.wrapPending = false
	}
}

func (t *Tracker) esc(cmd ansi.Cmd) {
	if cmd.Intermediate() != 0 {
		return
	}
	switch cmd.Final() {
	case '7':
		t.saveCursor()
	case '8':
		t.restoreCursor()
	case 'D':
		t.index()
		t.wrapPending = false
	case 'E':
		t.index()
		t.cur.Col = 0
		t.wrapPending = false
	case 'M':
		t.reverseIndex()
		t.wrapPending = false
	case 'c':
		t.reset()
	}
}

func (t *Tracker) saveCursor() {
	if t.altActive {
		t.savedAlt = t.cur
	} else {
		t.saved = t.cur
	}
}

func (t *Tracker) restoreCursor() {
	p := t.saved
	if t.altActive {
		p = t.savedAlt
	}
	t.moveTo(p.Row, p.Col)
}

func (t *Tracker) reset() {
	t.altActive = false
	t.primary.clearAll()
	t.alternate.clearAll()
	t.cur = Position{}
	t.saved = Position{}
	t.savedAlt = Position{}
	t.wrapPending = false
	t.title = ""
}

func param(params ansi.Params, i, def int) int {
	v, _, ok := params.Param(i, def)
	if !ok || v == 0 {
		return def
	}
	return v
}

func (t *Tracker) csi(cmd ansi.Cmd, params ansi.Params) {
	if cmd.Intermediate() != 0 {
		return
	}
	switch cmd.Prefix() {
	case '?':
		t.privateMode(cmd.Final(), params)
		return
	case 0:
	default:
		return
	}

	g := t.screen()
	n := param(params, 0, 1)
	switch cmd.Final() {
	case 'A':
		t.moveTo(t.cur.Row-n, t.cur.Col)
	case 'B', 'e':
		t.moveTo(t.cur.Row+n, t.cur.Col)
	case 'C', 'a':
		t.moveTo(t.cur.Row, t.cur.Col+n)
	case 'D':
		col := t.cur.Col - n
		if t.wrapPending {
			col++
		}
		t.moveTo(t.cur.Row, col)
	case 'E':
		t.moveTo(t.cur.Row+n, 0)
	case 'F':
		t.moveTo(t.cur.Row-n, 0)
	case 'G', '`':
		t.moveTo(t.cur.Row, n-1)
	case 'd':
		t.moveTo(n-1, t.cur.Col)
	case 'H', 'f':
		t.moveTo(param(params, 0, 1)-1, param(params, 1, 1)-1)
	case 'J':
		t.eraseDisplay(param(params, 0, 0))
	case 'K':
		t.eraseLine(param(params, 0, 0))
	case 'X':
		g.clearRow(t.cur.Row, t.cur.Col, t.cur.Col+n)
		t.wrapPending = false
	case 'P':
		g.deleteCells(t.cur.Row, t.cur.Col, n)
		t.wrapPending = false
	case '@':
		g.insertCells(t.cur.Row, t.cur.Col, n)
		t.wrapPending = false
	case 'L':
		g.insertLines(t.cur.Row, n)
		t.cur.Col = 0
		t.wrapPending = false
	case 'M':
		g.deleteLines(t.cur.Row, n)
		t.cur.Col = 0
		t.wrapPending = false
	case 'S':
		g.scrollUp(n)
		if !t.altActive {
			t.scrolled += int64(min(n, g.rows))
		}
	case 'T':
		g.scrollDown(n)
	case 's':
		t.saveCursor()
	case 'u':
		t.restoreCursor()
	}
}

func (t *Tracker) eraseDisplay(mode int) {
	g := t.screen()
	switch mode {
	case 0:
		g.clearRow(t.cur.Row, t.cur.Col, g.cols)
		g.wrapped[t.cur.Row] = false
		for r := t.cur.Row + 1; r < g.rows; r++ {
			g.clearRow(r, 0, g.cols)
			g.wrapped[r] = false
		}
	case 1:
		for r := 0; r < t.cur.Row; r++ {
			g.clearRow(r, 0, g.cols)
			g.wrapped[r] = false
		}
		g.clearRow(t.cur.Row, 0, t.cur.Col+1)
	case 2, 3:
		g.clearAll()
	}
	t.wrapPending = false
}

func (t *Tracker) eraseLine(mode int) {
	g := t.screen()
	switch mode {
	case 0:
		g.clearRow(t.cur.Row, t.cur.Col, g.cols)
		g.wrapped[t.cur.Row] = false
	case 1:
		g.clearRow(t.cur.Row, 0, t.cur.Col+1)
	case 2:
		g.clearRow(t.cur.Row, 0, g.cols)
		g.wrapped[t.cur.Row] = false
	}
	t.wrapPending = false
}

func (t *Tracker) privateMode(final byte, params ansi.Params) {
	if final != 'h' && final != 'l' {
		return
	}
	set := final == 'h'
	for i := range params {
		switch mode, _, _ := params.Param(i, 0); mode {
		case 47, 1047:
			t.switchScreen(set, false)
		case 1049:
			t.switchScreen(set, true)
		}
	}
}

func (t *Tracker) switchScreen(alt, saveCursor bool) {
	if alt == t.altActive {
		return
	}
	if alt {
		if saveCursor {
			t.saved = t.cur
		}
		t.altActive = true
		t.alternate.clearAll()
		if saveCursor {
			t.moveTo(0, 0)
		}
		return
	}
	t.altActive = false
	if saveCursor {
		t.moveTo(t.saved.Row, t.saved.Col)
	}
	t.wrapPending = false
}

func (t *Tracker) osc(cmd int, data []byte) {
	payload := oscPayload(cmd, data)
	switch cmd {
	case 0, 2:
		t.title = payload
	case 7:
		if u, err := url.Parse(payload); err == nil && u.Path != "" {
			t.cwd = u.Path
			t.emit(MarkerDir, u.Path)
		}
	case ShellIntegrationOSC:
		t.integrationMarker(payload)
	case finalTermOSC:
		t.finalTermMarker(payload)
	}
}

// oscPayload strips the "<cmd>;" prefix when the parser leaves it in
func oscPayload(cmd int, data []byte) string {
	s := string(data)
	num := strconv.Itoa(cmd)
	if s == num {
		return ""
	}
	return strings.TrimPrefix(s, num+";")
}

func (t *Tracker) integrationMarker(payload string) {
	name, value, _ := strings.Cut(payload, "=")
	kind, ok := markersByName[name]
	if !ok {
		return
	}
	if kind == MarkerDir {
		t.cwd = value
	}
	t.emit(kind, value)
}

func (t *Tracker) finalTermMarker(payload string) {
	code, _, _ := strings.Cut(payload, ";")
	switch code {
	case "A":
		t.emit(MarkerStartPrompt, "")
	case "B":
		t.emit(MarkerEndPrompt, "")
	case "C":
		t.emit(MarkerPreExec, "")
	}
}
