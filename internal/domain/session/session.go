package session

import (
	"context"
	"time"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// CommandSender submits commands to the interceptor owning a session
type CommandSender interface {
	SendCommand(ctx context.Context, cmd protocol.Command) error
}

// EditBuffer is the command line being edited at the prompt
type EditBuffer struct {
	Text   string
	Cursor int
}

// MetricsWindow is a run of activity with no gap longer than the
// continuation gate
type MetricsWindow struct {
	Start      time.Time
	End        time.Time
	Insertions int
	Popups     int
}

// Session is one interception context: one shell in one terminal
type Session struct {
	ID            string
	Sender        CommandSender
	ControlSocket string
	LastActivity  time.Time
	Buffer        EditBuffer
	Context       *protocol.ShellContext
	Metrics       *MetricsWindow
	// Intercept holds the characters the interceptor currently swallows
	Intercept string
}

// Info converts the session to its wire summary
func (s Session) Info(mostRecent bool) protocol.SessionInfo {
	return protocol.SessionInfo{
		ID:             s.ID,
		ControlSocket:  s.ControlSocket,
		LastActivityMs: s.LastActivity.UnixMilli(),
		Buffer:         s.Buffer.Text,
		Cursor:         s.Buffer.Cursor,
		Context:        s.Context,
		MostRecent:     mostRecent,
	}
}

// clone copies s so the copy shares no mutable state with the registry
func (s Session) clone() Session {
	if s.Context != nil {
		c := *s.Context
		s.Context = &c
	}
	if s.Metrics != nil {
		m := *s.Metrics
		s.Metrics = &m
	}
	return s
}
