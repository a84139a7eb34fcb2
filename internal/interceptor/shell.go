package interceptor

import (
	"strconv"
	"strings"
	"sync"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/pty"
)

// shellState turns tracked output into shell lifecycle hooks. Between an
// end-of-prompt marker and the next pre-exec marker the shell is at a prompt
// and the text after the prompt is its edit buffer.
type shellState struct {
	sessionID string
	emit      func(protocol.Hook)
	tracker   *pty.Tracker

	mu       sync.Mutex
	context  protocol.ShellContext
	atPrompt bool
	anchor   pty.Anchor
	command  string
	text     string
	cursor   int
}

func newShellState(sessionID string, size pty.Size, base protocol.ShellContext, emit func(protocol.Hook)) *shellState {
	s := &shellState{sessionID: sessionID, emit: emit, context: base}
	s.tracker = pty.NewTracker(int(size.Rows), int(size.Cols), s.onMarker)
	return s
}

// Context returns a copy of the shell context
func (s *shellState) Context() protocol.ShellContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// Buffer returns the last observed edit buffer and cursor
func (s *shellState) Buffer() (string, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, s.cursor, s.atPrompt
}

func (s *shellState) started(pid int, tty string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.context.PID = pid
	s.context.TTY = tty
}

func (s *shellState) resize(size pty.Size) {
	s.tracker.Resize(int(size.Rows), int(size.Cols))
}

// Observe feeds child output to the tracker and reports edit buffer changes
func (s *shellState) Observe(p []byte) {
	// markers are delivered from inside Write, so s.mu must not be held here
	s.tracker.Write(p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.atPrompt {
		return
	}
	text, cursor, ok := s.tracker.TextFrom(s.anchor)
	if !ok || (text == s.text && cursor == s.cursor) {
		return
	}
	s.text, s.cursor = text, cursor

	ctx := s.context
	s.emit(protocol.EditBufferChanged{SessionID: s.sessionID, Text: text, Cursor: cursor, Context: &ctx})

	pos := s.tracker.Cursor()
	rows, cols := s.tracker.Size()
	s.emit(protocol.CursorPosition{SessionID: s.sessionID, Row: pos.Row, Col: pos.Col, Rows: rows, Cols: cols})
}

func (s *shellState) onMarker(m pty.Marker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch m.Kind {
	case pty.MarkerStartPrompt:
		s.atPrompt = false
	case pty.MarkerEndPrompt:
		s.atPrompt = true
		s.anchor = m.At
		s.text, s.cursor = "", 0
		ctx := s.context
		s.emit(protocol.PromptReturned{SessionID: s.sessionID, Context: &ctx})
	case pty.MarkerPreExec:
		command := s.command
		if command == "" {
			command = s.text
		}
		s.atPrompt = false
		s.command = ""
		s.text, s.cursor = "", 0
		ctx := s.context
		s.emit(protocol.PreExec{SessionID: s.sessionID, Command: strings.TrimSpace(command), Context: &ctx})
	case pty.MarkerCommand:
		s.command = m.Value
	case pty.MarkerDir:
		s.context.Cwd = m.Value
	case pty.MarkerPid:
		if pid, err := strconv.Atoi(m.Value); err == nil {
			s.context.PID = pid
		}
	case pty.MarkerTty:
		s.context.TTY = m.Value
	case pty.MarkerHostname:
		s.context.Hostname = m.Value
	case pty.MarkerShell:
		s.context.Shell = m.Value
	}
}
