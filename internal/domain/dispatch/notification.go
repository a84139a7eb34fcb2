package dispatch

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// Kind names a class of notification windows subscribe to
type Kind string

const (
	KindSessionOpened  Kind = "session-opened"
	KindSessionClosed  Kind = "session-closed"
	KindEditBuffer     Kind = "edit-buffer"
	KindPrompt         Kind = "prompt"
	KindPreExec        Kind = "pre-exec"
	KindFocus          Kind = "focus"
	KindCursor         Kind = "cursor"
	KindFileChanged    Kind = "file-changed"
	KindInterceptedKey Kind = "intercepted-key"
	KindSuggestion     Kind = "suggestion"
	KindUsage          Kind = "usage"
)

// Kinds lists every notification kind
var Kinds = []Kind{
	KindSessionOpened, KindSessionClosed, KindEditBuffer, KindPrompt, KindPreExec,
	KindFocus, KindCursor, KindFileChanged, KindInterceptedKey, KindSuggestion, KindUsage,
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// UsageRecord is a closed metrics window of one session
type UsageRecord struct {
	SessionID  string        `json:"session_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Duration   time.Duration `json:"duration_ns"`
	Insertions int           `json:"insertions"`
	Popups     int           `json:"popups"`
}

// Notification is the uniform shape every window receives. Only the fields
// of its kind are set.
type Notification struct {
	Kind      Kind                   `json:"kind"`
	SessionID string                 `json:"session_id,omitempty"`
	At        time.Time              `json:"at"`
	Text      string                 `json:"text,omitempty"`
	Cursor    int                    `json:"cursor"`
	Command   string                 `json:"command,omitempty"`
	Focused   bool                   `json:"focused,omitempty"`
	Row       int                    `json:"row,omitempty"`
	Col       int                    `json:"col,omitempty"`
	Rows      int                    `json:"rows,omitempty"`
	Cols      int                    `json:"cols,omitempty"`
	Path      string                 `json:"path,omitempty"`
	Op        string                 `json:"op,omitempty"`
	Key       string                 `json:"key,omitempty"`
	Suffix    string                 `json:"suffix,omitempty"`
	Usage     *UsageRecord           `json:"usage,omitempty"`
	Context   *protocol.ShellContext `json:"context,omitempty"`
}

// Normalize converts a hook into a notification stamped at
func Normalize(h protocol.Hook, at time.Time) (Notification, bool) {
	n := Notification{SessionID: h.Session(), At: at}
	switch h := h.(type) {
	case protocol.SessionOpened:
		n.Kind = KindSessionOpened
		n.Context = h.Context
	case protocol.EditBufferChanged:
		n.Kind = KindEditBuffer
		n.Text = h.Text
		n.Cursor = h.Cursor
		n.Context = h.Context
	case protocol.PromptReturned:
		n.Kind = KindPrompt
		n.Context = h.Context
	case protocol.PreExec:
		n.Kind = KindPreExec
		n.Command = h.Command
		n.Context = h.Context
	case protocol.FocusChanged:
		n.Kind = KindFocus
		n.Focused = h.Focused
	case protocol.CursorPosition:
		n.Kind = KindCursor
		n.Row, n.Col, n.Rows, n.Cols = h.Row, h.Col, h.Rows, h.Cols
	case protocol.FileChanged:
		n.Kind = KindFileChanged
		n.Path = h.Path
		n.Op = h.Op
	case protocol.InterceptedKey:
		n.Kind = KindInterceptedKey
		n.Key = h.Key
	default:
		return Notification{}, false
	}
	return n, true
}

// SuggestionNotification announces ghost text for a session's buffer
func SuggestionNotification(sessionID, buffer, suffix string, at time.Time) Notification {
	return Notification{
		Kind:      KindSuggestion,
		SessionID: sessionID,
		At:        at,
		Text:      buffer,
		Cursor:    len([]rune(buffer)),
		Suffix:    suffix,
	}
}

// UsageNotification announces a closed usage window
func UsageNotification(rec UsageRecord) Notification {
	return Notification{Kind: KindUsage, SessionID: rec.SessionID, At: rec.End, Usage: &rec}
}

// ClosedNotification announces that a session left the registry
func ClosedNotification(sessionID, reason string, at time.Time) Notification {
	return Notification{Kind: KindSessionClosed, SessionID: sessionID, At: at, Op: reason}
}
