package interceptor

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/pty"
)

type hookLog struct {
	mu    sync.Mutex
	hooks []protocol.Hook
}

func (l *hookLog) emit(h protocol.Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

func (l *hookLog) take() []protocol.Hook {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.hooks
	l.hooks = nil
	return out
}

func newTestShell(t *testing.T) (*shellState, *hookLog) {
	t.Helper()
	log := &hookLog{}
	base := protocol.ShellContext{Shell: "/bin/zsh", ProcessName: "zsh", Cwd: "/home/me"}
	s := newShellState("s1", pty.Size{Rows: 24, Cols: 80}, base, log.emit)
	return s, log
}

const (
	startPrompt = "\x1b]697;StartPrompt\x07"
	endPrompt   = "\x1b]697;EndPrompt\x07"
	preExec     = "\x1b]697;PreExec\x07"
)

func TestShellPromptReturned(t *testing.T) {
	s, log := newTestShell(t)

	s.Observe([]byte("\x1b]697;Dir=/tmp\x07" + startPrompt + "$ " + endPrompt))

	hooks := log.take()
	require.Len(t, hooks, 1)
	prompt, ok := hooks[0].(protocol.PromptReturned)
	require.True(t, ok)
	assert.Equal(t, "s1", prompt.SessionID)
	assert.Equal(t, "/tmp", prompt.Context.Cwd)
	assert.Equal(t, "zsh", prompt.Context.ProcessName)
}

func TestShellEditBufferChanges(t *testing.T) {
	s, log := newTestShell(t)
	s.Observe([]byte(startPrompt + "$ " + endPrompt))
	log.take()

	s.Observe([]byte("gi"))
	hooks := log.take()
	require.Len(t, hooks, 2)
	edit := hooks[0].(protocol.EditBufferChanged)
	assert.Equal(t, "gi", edit.Text)
	assert.Equal(t, 2, edit.Cursor)
	assert.Equal(t, protocol.CursorPosition{SessionID: "s1", Row: 0, Col: 4, Rows: 24, Cols: 80}, hooks[1])

	s.Observe([]byte("\x1b[D"))
	hooks = log.take()
	require.Len(t, hooks, 2)
	assert.Equal(t, 1, hooks[0].(protocol.EditBufferChanged).Cursor, "cursor moves alone are changes")

	s.Observe([]byte("\x1b[?25l"))
	assert.Empty(t, log.take(), "output that changes nothing emits nothing")
}

func TestShellNoEditsOutsidePrompt(t *testing.T) {
	s, log := newTestShell(t)

	s.Observe([]byte("some output\r\n"))
	assert.Empty(t, log.take())

	s.Observe([]byte(startPrompt + "$ " + endPrompt + "ls" + preExec + "\r\nfile\r\n"))
	hooks := log.take()
	require.Len(t, hooks, 2, "prompt and pre-exec only; edits are reported per write")
	assert.IsType(t, protocol.PromptReturned{}, hooks[0])
	assert.IsType(t, protocol.PreExec{}, hooks[1])
}

func TestShellPreExecCommand(t *testing.T) {
	s, log := newTestShell(t)
	s.Observe([]byte(startPrompt + "$ " + endPrompt))
	s.Observe([]byte("make test "))
	log.take()

	s.Observe([]byte(preExec))
	hooks := log.take()
	require.Len(t, hooks, 1)
	assert.Equal(t, "make test", hooks[0].(protocol.PreExec).Command, "falls back to the edit buffer")

	text, cursor, atPrompt := s.Buffer()
	assert.Empty(t, text)
	assert.Zero(t, cursor)
	assert.False(t, atPrompt)
}

func TestShellPreExecPrefersCommandMarker(t *testing.T) {
	s, log := newTestShell(t)
	s.Observe([]byte(startPrompt + "$ " + endPrompt + "ll"))
	log.take()

	s.Observe([]byte("\x1b]697;Command=ls -l\x07" + preExec))
	hooks := log.take()
	require.Len(t, hooks, 1)
	assert.Equal(t, "ls -l", hooks[0].(protocol.PreExec).Command)
}

func TestShellFinalTermMarkers(t *testing.T) {
	s, log := newTestShell(t)

	s.Observe([]byte("\x1b]133;A\x07> \x1b]133;B\x07"))
	s.Observe([]byte("echo"))
	s.Observe([]byte("\r\n\x1b]133;C\x07"))

	hooks := log.take()
	require.Len(t, hooks, 4)
	assert.IsType(t, protocol.PromptReturned{}, hooks[0])
	assert.Equal(t, "echo", hooks[1].(protocol.EditBufferChanged).Text)
	assert.IsType(t, protocol.CursorPosition{}, hooks[2])
	assert.Equal(t, "echo", hooks[3].(protocol.PreExec).Command)
}

func TestShellContextMarkers(t *testing.T) {
	s, _ := newTestShell(t)
	s.started(100, "/dev/pts/3")

	s.Observe([]byte("\x1b]697;Pid=4242\x07\x1b]697;Hostname=box\x07\x1b]697;Tty=/dev/pts/9\x07\x1b]697;Shell=bash\x07"))
	ctx := s.Context()
	assert.Equal(t, 4242, ctx.PID)
	assert.Equal(t, "box", ctx.Hostname)
	assert.Equal(t, "/dev/pts/9", ctx.TTY)
	assert.Equal(t, "bash", ctx.Shell)

	s.Observe([]byte("\x1b]697;Pid=nope\x07\x1b]7;file://box/srv/app\x07"))
	ctx = s.Context()
	assert.Equal(t, 4242, ctx.PID, "bad pid ignored")
	assert.Equal(t, "/srv/app", ctx.Cwd, "OSC 7 updates cwd")
}

func TestShellHookContextIsACopy(t *testing.T) {
	s, log := newTestShell(t)
	s.Observe([]byte(startPrompt + "$ " + endPrompt))
	prompt := log.take()[0].(protocol.PromptReturned)

	s.Observe([]byte("\x1b]697;Dir=/elsewhere\x07"))
	assert.Equal(t, "/home/me", prompt.Context.Cwd)
}
