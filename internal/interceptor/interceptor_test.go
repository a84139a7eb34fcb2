package interceptor

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/domain/completion"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/host"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/testutil"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestInterceptor(t *testing.T, hostSocket string) *Interceptor {
	t.Helper()
	if hostSocket == "" {
		hostSocket = testutil.SocketPath(t, "nohost")
	}
	ic, err := New(Options{
		SessionID:      "sess_test",
		Shell:          "/bin/sh",
		HostSocket:     hostSocket,
		ControlSocket:  testutil.SocketPath(t, "ctl"),
		ReconnectDelay: 10 * time.Millisecond,
		Stdin:          strings.NewReader(""),
		Stdout:         io.Discard,
	}, logging.NewNop())
	require.NoError(t, err)
	return ic
}

func TestNewRequiresSessionID(t *testing.T) {
	_, err := New(Options{}, logging.NewNop())
	require.Error(t, err)
}

func TestResolveSessionID(t *testing.T) {
	assert.Equal(t, "from_flag", ResolveSessionID("from_flag", "from_env"))
	assert.Equal(t, "from_env", ResolveSessionID("", "from_env"))
	assert.True(t, strings.HasPrefix(ResolveSessionID("", ""), "sess_"))
}

func TestApplyCommands(t *testing.T) {
	ic := newTestInterceptor(t, "")
	dst := newFakePTY()
	runWriter(t, ic.writer, dst)
	ctx := context.Background()

	require.NoError(t, ic.Apply(ctx, protocol.InsertText{Insertion: "ls\n"}))
	require.NoError(t, ic.Apply(ctx, protocol.SetBuffer{Text: "git", Cursor: 1}))
	require.NoError(t, ic.Apply(ctx, protocol.SetIntercept{Chars: "\t"}))

	assert.Eventually(t, func() bool { return len(dst.all()) == 2 }, wait, 5*time.Millisecond)
	assert.Equal(t, []string{"ls\n", "\x05\x15git\x1b[D\x1b[D"}, dst.all())
	assert.Equal(t, "\t", ic.Intercepts().String())
}

func TestRespond(t *testing.T) {
	ic := newTestInterceptor(t, "")
	ctx := context.Background()

	list, ok := ic.Respond(ctx, protocol.ListSessions{}).(protocol.SessionList)
	require.True(t, ok)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "sess_test", list.Sessions[0].ID)
	assert.Equal(t, ic.ControlSocket(), list.Sessions[0].ControlSocket)
	assert.Equal(t, "sh", list.Sessions[0].Context.ProcessName)

	assert.Equal(t, protocol.Failure{Message: "missing command"}, ic.Respond(ctx, protocol.SendCommand{}))
	assert.Equal(t, protocol.Ack{}, ic.Respond(ctx, protocol.SendCommand{Command: protocol.AddIntercept{Chars: "q"}}))
	assert.True(t, ic.Intercepts().Contains('q'))

	result, ok := ic.Respond(ctx, protocol.RunProcess{Executable: "/bin/echo", Args: []string{"hi"}}).(protocol.ProcessResult)
	require.True(t, ok)
	assert.Equal(t, "hi\n", string(result.Stdout))
}

func TestControlSocket(t *testing.T) {
	ic := newTestInterceptor(t, "")
	ln, path := testutil.Listen(t, "control")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ic.serveControl(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	conn := testutil.Dial(t, path)
	require.NoError(t, conn.Send(ctx, protocol.Envelope{Message: protocol.AddIntercept{Chars: "x"}}))
	assert.Eventually(t, func() bool { return ic.Intercepts().Contains('x') }, wait, 5*time.Millisecond)

	resp, err := conn.Request(ctx, protocol.RunProcess{Executable: "/bin/sh", Args: []string{"-c", "exit 7"}}, wait)
	require.NoError(t, err)
	assert.Equal(t, 7, resp.(protocol.ProcessResult).ExitCode)
}

func TestRunEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a shell under a pty")
	}

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Host.Socket = filepath.Join(dir, "host.sock")
	cfg.Host.HistoryFile = filepath.Join(dir, "no_history")
	cfg.Host.StatusEnabled = false
	app, err := host.NewApp(cfg, nil, host.Options{
		Client:   completion.ClientFunc(func(context.Context, completion.Request) (completion.Response, error) { return completion.Response{}, nil }),
		Tuning:   completion.Fixed(completion.Tuning{}),
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go app.Run(ctx)

	stdin, typed := io.Pipe()
	t.Cleanup(func() { typed.Close() })
	stdout := &syncBuffer{}
	ic, err := New(Options{
		SessionID:      "sess_e2e",
		Shell:          "/bin/sh",
		HostSocket:     cfg.Host.Socket,
		ControlSocket:  filepath.Join(dir, "ctl.sock"),
		ReconnectDelay: 10 * time.Millisecond,
		Stdin:          stdin,
		Stdout:         stdout,
	}, logging.NewNop())
	require.NoError(t, err)

	exited := make(chan int, 1)
	go func() {
		code, err := ic.Run(ctx)
		assert.NoError(t, err)
		exited <- code
	}()
	require.Eventually(t, func() bool { return app.Sessions().Len() == 1 }, 5*time.Second, 10*time.Millisecond)

	cli, err := protocol.Dial(ctx, cfg.Host.Socket)
	require.NoError(t, err)
	defer cli.Close()
	resp, err := cli.Request(ctx, protocol.SendCommand{
		Command: protocol.InsertText{Insertion: "echo id=$AGENTTERM_SESSION_ID sum=$((1+1))\n"},
	}, wait)
	require.NoError(t, err)
	require.Equal(t, protocol.Ack{}, resp)

	assert.Eventually(t, func() bool {
		return strings.Contains(stdout.String(), "id=sess_e2e sum=2")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, string(ic.Scrollback()), "sum=2")

	_, err = typed.Write([]byte("exit 0\n"))
	require.NoError(t, err)
	select {
	case code := <-exited:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not exit")
	}
	assert.Eventually(t, func() bool { return app.Sessions().Len() == 0 }, wait, 10*time.Millisecond)
}
