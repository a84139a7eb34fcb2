package interceptor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/testutil"
)

const wait = 2 * time.Second

func newTestLink(path string, buffer int, commands chan<- protocol.Command) *hostLink {
	l := newHostLink(path, buffer, 10*time.Millisecond, logging.NewNop())
	l.opened = func() protocol.SessionOpened {
		return protocol.SessionOpened{SessionID: "s1", ControlSocket: "/tmp/s1.sock"}
	}
	l.onCommand = func(ctx context.Context, cmd protocol.Command) error {
		commands <- cmd
		return nil
	}
	return l
}

func runLink(t *testing.T, l *hostLink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
}

func accept(t *testing.T, ln net.Listener) *protocol.Conn {
	t.Helper()
	c, err := ln.Accept()
	require.NoError(t, err)
	conn := protocol.NewConn(c)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func receive(t *testing.T, conn *protocol.Conn) protocol.Message {
	t.Helper()
	env, err := conn.Receive()
	require.NoError(t, err)
	require.NotNil(t, env)
	return env.Message
}

func TestLinkRegistersAndForwards(t *testing.T) {
	ln, path := testutil.Listen(t, "host")
	commands := make(chan protocol.Command, 1)
	l := newTestLink(path, 8, commands)
	runLink(t, l)

	host := accept(t, ln)
	assert.Equal(t, protocol.SessionOpened{SessionID: "s1", ControlSocket: "/tmp/s1.sock"}, receive(t, host))
	assert.Eventually(t, l.Connected, wait, 5*time.Millisecond)

	l.Emit(protocol.FocusChanged{SessionID: "s1", Focused: true})
	assert.Equal(t, protocol.FocusChanged{SessionID: "s1", Focused: true}, receive(t, host))

	cmd := protocol.InsertText{Insertion: "ls\n"}
	require.NoError(t, host.Send(context.Background(), protocol.Envelope{Message: cmd}))
	select {
	case got := <-commands:
		assert.Equal(t, cmd, got)
	case <-time.After(wait):
		t.Fatal("command not delivered")
	}
}

func TestLinkBuffersUntilConnected(t *testing.T) {
	path := testutil.SocketPath(t, "late")
	l := newTestLink(path, 8, make(chan protocol.Command, 1))
	runLink(t, l)

	l.Emit(protocol.PromptReturned{SessionID: "s1"})
	time.Sleep(30 * time.Millisecond)
	assert.False(t, l.Connected())

	ln, err := protocol.Listen(path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	host := accept(t, ln)
	assert.IsType(t, protocol.SessionOpened{}, receive(t, host))
	assert.Equal(t, protocol.PromptReturned{SessionID: "s1"}, receive(t, host))
}

func TestLinkReconnectsAfterHostCloses(t *testing.T) {
	ln, path := testutil.Listen(t, "host")
	l := newTestLink(path, 8, make(chan protocol.Command, 1))
	runLink(t, l)

	first := accept(t, ln)
	assert.IsType(t, protocol.SessionOpened{}, receive(t, first))
	first.Close()

	second := accept(t, ln)
	assert.IsType(t, protocol.SessionOpened{}, receive(t, second), "registers again on reconnect")
}

func TestLinkDropsWhenBufferFull(t *testing.T) {
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	l := newTestLink(testutil.SocketPath(t, "none"), 2, make(chan protocol.Command, 1))
	l.metrics = m

	for range 5 {
		l.Emit(protocol.FocusChanged{SessionID: "s1"})
	}
	assert.Len(t, l.hooks, 2)
	assert.Equal(t, 3.0, promtest.ToFloat64(m.Drops.WithLabelValues("hook_buffer_full")))
}
