package protocol

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return NewConn(a), b
}

func TestReceiveOrderlyShutdown(t *testing.T) {
	conn, peer := pipe(t)

	go func() {
		peer.Write(mustEncode(t, Envelope{Message: PromptReturned{SessionID: "s"}}))
		peer.Close()
	}()

	env, err := conn.Receive()
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, PromptReturned{SessionID: "s"}, env.Message)

	env, err = conn.Receive()
	assert.NoError(t, err)
	assert.Nil(t, env)
}

func TestReceiveResetMidFrame(t *testing.T) {
	conn, peer := pipe(t)
	frame := mustEncode(t, Envelope{Message: PreExec{SessionID: "s", Command: "ls"}})

	go func() {
		peer.Write(frame[:len(frame)-3])
		peer.Close()
	}()

	env, err := conn.Receive()
	assert.Nil(t, env)
	assert.ErrorIs(t, err, ErrConnectionReset)
}

func TestReceiveCorruptFrame(t *testing.T) {
	conn, peer := pipe(t)
	frame := mustEncode(t, Envelope{Message: Ack{}})
	frame[HeaderSize] ^= 0xff

	go peer.Write(frame)

	_, err := conn.Receive()
	var decErr *DecodeError
	assert.ErrorAs(t, err, &decErr)
}

func TestRequestMatchesResponseID(t *testing.T) {
	client, server := pipe(t)
	srv := NewConn(server)

	go func() {
		req, err := srv.Receive()
		if err != nil || req == nil {
			return
		}
		ctx := context.Background()
		// Unrelated frames are skipped by the requester
		srv.Send(ctx, Envelope{Message: FocusChanged{SessionID: "s", Focused: true}})
		srv.Send(ctx, Envelope{ID: "someone-else", Message: Failure{Message: "wrong"}})
		srv.Reply(ctx, req, SessionList{Sessions: []SessionInfo{{ID: "s"}}})
	}()

	resp, err := client.Request(context.Background(), ListSessions{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, SessionList{Sessions: []SessionInfo{{ID: "s"}}}, resp)
}

func TestRequestTimeout(t *testing.T) {
	client, server := pipe(t)
	srv := NewConn(server)

	go srv.Receive()

	start := time.Now()
	_, err := client.Request(context.Background(), ListSessions{}, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRequestPeerClosedBeforeReply(t *testing.T) {
	client, server := pipe(t)
	srv := NewConn(server)

	go func() {
		srv.Receive()
		srv.Close()
	}()

	_, err := client.Request(context.Background(), ListSessions{}, time.Second)
	assert.ErrorIs(t, err, ErrConnectionReset)
}

func TestSendAfterPeerClosed(t *testing.T) {
	conn, peer := pipe(t)
	peer.Close()

	err := conn.Send(context.Background(), Envelope{Message: Ack{}})
	assert.ErrorIs(t, err, ErrConnectionReset)
}

func TestListenDialOverUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "host.sock")

	ln, err := Listen(path)
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- NewConn(c)
		}
	}()

	ctx := context.Background()
	client, err := Dial(ctx, path)
	require.NoError(t, err)
	defer client.Close()

	server := <-accepted
	defer server.Close()

	require.NoError(t, client.Send(ctx, Envelope{Message: SessionOpened{SessionID: "s"}}))
	env, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, SessionOpened{SessionID: "s"}, env.Message)

	// A second listener on a live socket must fail
	_, err = Listen(path)
	assert.Error(t, err)
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")

	ln, err := Listen(path)
	require.NoError(t, err)
	// Leave the file behind the way a crashed process would
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	ln, err = Listen(path)
	require.NoError(t, err)
	ln.Close()
}
