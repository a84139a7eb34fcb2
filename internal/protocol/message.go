package protocol

import "fmt"

// Category is the routing class of a frame
type Category uint8

const (
	CategoryCommand  Category = 1
	CategoryHook     Category = 2
	CategoryRequest  Category = 3
	CategoryResponse Category = 4
)

func (c Category) String() string {
	switch c {
	case CategoryCommand:
		return "command"
	case CategoryHook:
		return "hook"
	case CategoryRequest:
		return "request"
	case CategoryResponse:
		return "response"
	default:
		return fmt.Sprintf("category(%d)", uint8(c))
	}
}

// MessageType discriminates message variants. The high byte is the category.
type MessageType uint16

const (
	TypeSetIntercept    MessageType = 0x0101
	TypeAddIntercept    MessageType = 0x0102
	TypeRemoveIntercept MessageType = 0x0103
	TypeClearIntercept  MessageType = 0x0104
	TypeInsertText      MessageType = 0x0105
	TypeSetBuffer       MessageType = 0x0106

	TypeSessionOpened     MessageType = 0x0201
	TypeEditBufferChanged MessageType = 0x0202
	TypePromptReturned    MessageType = 0x0203
	TypePreExec           MessageType = 0x0204
	TypeFocusChanged      MessageType = 0x0205
	TypeCursorPosition    MessageType = 0x0206
	TypeFileChanged       MessageType = 0x0207
	TypeInterceptedKey    MessageType = 0x0208

	TypeRunProcess   MessageType = 0x0301
	TypePtyExec      MessageType = 0x0302
	TypeListSessions MessageType = 0x0303
	TypeSendCommand  MessageType = 0x0304

	TypeProcessResult MessageType = 0x0401
	TypeSessionList   MessageType = 0x0402
	TypeAck           MessageType = 0x0403
	TypeFailure       MessageType = 0x0404
)

var typeNames = map[MessageType]string{
	TypeSetIntercept:      "set-intercept",
	TypeAddIntercept:      "add-intercept",
	TypeRemoveIntercept:   "remove-intercept",
	TypeClearIntercept:    "clear-intercept",
	TypeInsertText:        "insert-text",
	TypeSetBuffer:         "set-buffer",
	TypeSessionOpened:     "session-opened",
	TypeEditBufferChanged: "edit-buffer",
	TypePromptReturned:    "prompt",
	TypePreExec:           "pre-exec",
	TypeFocusChanged:      "focus",
	TypeCursorPosition:    "cursor",
	TypeFileChanged:       "file-changed",
	TypeInterceptedKey:    "intercepted-key",
	TypeRunProcess:        "run-process",
	TypePtyExec:           "pty-exec",
	TypeListSessions:      "list-sessions",
	TypeSendCommand:       "send-command",
	TypeProcessResult:     "process-result",
	TypeSessionList:       "session-list",
	TypeAck:               "ack",
	TypeFailure:           "failure",
}

func (t MessageType) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%#04x)", uint16(t))
}

// Category returns the routing class encoded in the type
func (t MessageType) Category() Category {
	return Category(t >> 8)
}

// Message is any protocol message
type Message interface {
	Type() MessageType
}

// Command is a host-to-interceptor instruction
type Command interface {
	Message
	isCommand()
}

// Hook is an interceptor-to-host notification
type Hook interface {
	Message
	isHook()
	// Session returns the originating session id, empty for host-local hooks
	Session() string
}

// Request expects exactly one Response with the same request id
type Request interface {
	Message
	isRequest()
}

// Response answers a Request
type Response interface {
	Message
	isResponse()
}

// ShellContext describes the shell behind a session
type ShellContext struct {
	PID         int    `cbor:"pid" json:"pid"`
	Cwd         string `cbor:"cwd" json:"cwd"`
	TTY         string `cbor:"tty" json:"tty"`
	Hostname    string `cbor:"hostname" json:"hostname"`
	ProcessName string `cbor:"process_name" json:"process_name"`
	Shell       string `cbor:"shell" json:"shell"`
}

// ============================================================================
// Commands
// ============================================================================

// SetIntercept replaces the set of intercepted input characters
type SetIntercept struct {
	Chars string `cbor:"chars"`
}

// AddIntercept adds characters to the intercept set
type AddIntercept struct {
	Chars string `cbor:"chars"`
}

// RemoveIntercept removes characters from the intercept set
type RemoveIntercept struct {
	Chars string `cbor:"chars"`
}

// ClearIntercept empties the intercept set
type ClearIntercept struct{}

// InsertText edits the shell's line: delete Deletion characters before the
// cursor, move the cursor by Offset, then type Insertion.
type InsertText struct {
	Insertion string `cbor:"insertion"`
	Deletion  int    `cbor:"deletion"`
	Offset    int    `cbor:"offset"`
	Immediate bool   `cbor:"immediate"`
}

// SetBuffer replaces the whole edit buffer and places the cursor
type SetBuffer struct {
	Text   string `cbor:"text"`
	Cursor int    `cbor:"cursor"`
}

func (SetIntercept) Type() MessageType    { return TypeSetIntercept }
func (AddIntercept) Type() MessageType    { return TypeAddIntercept }
func (RemoveIntercept) Type() MessageType { return TypeRemoveIntercept }
func (ClearIntercept) Type() MessageType  { return TypeClearIntercept }
func (InsertText) Type() MessageType      { return TypeInsertText }
func (SetBuffer) Type() MessageType       { return TypeSetBuffer }

func (SetIntercept) isCommand()    {}
func (AddIntercept) isCommand()    {}
func (RemoveIntercept) isCommand() {}
func (ClearIntercept) isCommand()  {}
func (InsertText) isCommand()      {}
func (SetBuffer) isCommand()       {}

// ============================================================================
// Hooks
// ============================================================================

// SessionOpened registers an interceptor with the host
type SessionOpened struct {
	SessionID     string        `cbor:"session_id" json:"session_id"`
	ControlSocket string        `cbor:"control_socket" json:"control_socket"`
	Context       *ShellContext `cbor:"context" json:"context,omitempty"`
}

// EditBufferChanged reports the text after the prompt and the cursor offset in it
type EditBufferChanged struct {
	SessionID string        `cbor:"session_id" json:"session_id"`
	Text      string        `cbor:"text" json:"text"`
	Cursor    int           `cbor:"cursor" json:"cursor"`
	Context   *ShellContext `cbor:"context" json:"context,omitempty"`
}

// PromptReturned reports that the shell printed a new prompt
type PromptReturned struct {
	SessionID string        `cbor:"session_id" json:"session_id"`
	Context   *ShellContext `cbor:"context" json:"context,omitempty"`
}

// PreExec reports a command line about to run
type PreExec struct {
	SessionID string        `cbor:"session_id" json:"session_id"`
	Command   string        `cbor:"command" json:"command"`
	Context   *ShellContext `cbor:"context" json:"context,omitempty"`
}

// FocusChanged reports terminal focus in or out
type FocusChanged struct {
	SessionID string `cbor:"session_id" json:"session_id"`
	Focused   bool   `cbor:"focused" json:"focused"`
}

// CursorPosition reports the cursor cell and the screen size
type CursorPosition struct {
	SessionID string `cbor:"session_id" json:"session_id"`
	Row       int    `cbor:"row" json:"row"`
	Col       int    `cbor:"col" json:"col"`
	Rows      int    `cbor:"rows" json:"rows"`
	Cols      int    `cbor:"cols" json:"cols"`
}

// FileChanged reports a watched file event
type FileChanged struct {
	Path string `cbor:"path" json:"path"`
	Op   string `cbor:"op" json:"op"`
}

// InterceptedKey reports input swallowed by the intercept set
type InterceptedKey struct {
	SessionID string `cbor:"session_id" json:"session_id"`
	Key       string `cbor:"key" json:"key"`
}

func (SessionOpened) Type() MessageType     { return TypeSessionOpened }
func (EditBufferChanged) Type() MessageType { return TypeEditBufferChanged }
func (PromptReturned) Type() MessageType    { return TypePromptReturned }
func (PreExec) Type() MessageType           { return TypePreExec }
func (FocusChanged) Type() MessageType      { return TypeFocusChanged }
func (CursorPosition) Type() MessageType    { return TypeCursorPosition }
func (FileChanged) Type() MessageType       { return TypeFileChanged }
func (InterceptedKey) Type() MessageType    { return TypeInterceptedKey }

func (SessionOpened) isHook()     {}
func (EditBufferChanged) isHook() {}
func (PromptReturned) isHook()    {}
func (PreExec) isHook()           {}
func (FocusChanged) isHook()      {}
func (CursorPosition) isHook()    {}
func (FileChanged) isHook()       {}
func (InterceptedKey) isHook()    {}

func (h SessionOpened) Session() string     { return h.SessionID }
func (h EditBufferChanged) Session() string { return h.SessionID }
func (h PromptReturned) Session() string    { return h.SessionID }
func (h PreExec) Session() string           { return h.SessionID }
func (h FocusChanged) Session() string      { return h.SessionID }
func (h CursorPosition) Session() string    { return h.SessionID }
func (FileChanged) Session() string         { return "" }
func (h InterceptedKey) Session() string    { return h.SessionID }

// ============================================================================
// Requests
// ============================================================================

// RunProcess runs an executable with captured output. SessionID selects the
// interceptor when sent to the host; empty means the most recent session.
type RunProcess struct {
	SessionID  string            `cbor:"session_id"`
	Executable string            `cbor:"executable"`
	Args       []string          `cbor:"args"`
	Env        map[string]string `cbor:"env"`
	Cwd        string            `cbor:"cwd"`
	TimeoutMs  int64             `cbor:"timeout_ms"`
}

// PtyExec runs a shell command line under a fresh pseudo-terminal
type PtyExec struct {
	SessionID string            `cbor:"session_id"`
	Command   string            `cbor:"command"`
	Env       map[string]string `cbor:"env"`
	Cwd       string            `cbor:"cwd"`
	TimeoutMs int64             `cbor:"timeout_ms"`
}

// ListSessions asks the host for its registry
type ListSessions struct{}

// SendCommand routes a command to a session; an empty SessionID targets the
// most recently active session.
type SendCommand struct {
	SessionID string
	Command   Command
}

func (RunProcess) Type() MessageType   { return TypeRunProcess }
func (PtyExec) Type() MessageType      { return TypePtyExec }
func (ListSessions) Type() MessageType { return TypeListSessions }
func (SendCommand) Type() MessageType  { return TypeSendCommand }

func (RunProcess) isRequest()   {}
func (PtyExec) isRequest()      {}
func (ListSessions) isRequest() {}
func (SendCommand) isRequest()  {}

// ============================================================================
// Responses
// ============================================================================

const (
	SourceProcess = "process"
	SourcePty     = "pty"
)

// ProcessResult carries the captured output of RunProcess or PtyExec
type ProcessResult struct {
	Source   string `cbor:"source"`
	Stdout   []byte `cbor:"stdout"`
	Stderr   []byte `cbor:"stderr"`
	ExitCode int    `cbor:"exit_code"`
}

// SessionInfo is one registry entry as seen by clients
type SessionInfo struct {
	ID             string        `cbor:"id" json:"id"`
	ControlSocket  string        `cbor:"control_socket" json:"control_socket"`
	LastActivityMs int64         `cbor:"last_activity_ms" json:"last_activity_ms"`
	Buffer         string        `cbor:"buffer" json:"buffer"`
	Cursor         int           `cbor:"cursor" json:"cursor"`
	Context        *ShellContext `cbor:"context" json:"context,omitempty"`
	MostRecent     bool          `cbor:"most_recent" json:"most_recent"`
}

// SessionList answers ListSessions
type SessionList struct {
	Sessions []SessionInfo `cbor:"sessions"`
}

// Ack acknowledges a request without data
type Ack struct{}

// Failure reports a request that could not be served
type Failure struct {
	Message string `cbor:"message"`
}

func (f Failure) Error() string { return f.Message }

func (ProcessResult) Type() MessageType { return TypeProcessResult }
func (SessionList) Type() MessageType   { return TypeSessionList }
func (Ack) Type() MessageType           { return TypeAck }
func (Failure) Type() MessageType       { return TypeFailure }

func (ProcessResult) isResponse() {}
func (SessionList) isResponse()   {}
func (Ack) isResponse()           {}
func (Failure) isResponse()       {}
