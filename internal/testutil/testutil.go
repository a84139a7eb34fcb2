// Package testutil provides testing utilities and helpers shared by package tests.
package testutil

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// MockCommandSender is a mock implementation of session.CommandSender for testing.
type MockCommandSender struct {
	mock.Mock
}

// SendCommand mocks the SendCommand method.
func (m *MockCommandSender) SendCommand(ctx context.Context, cmd protocol.Command) error {
	args := m.Called(ctx, cmd)
	return args.Error(0)
}

// NewMockCommandSender creates a mock sender that accepts every command.
func NewMockCommandSender(t *testing.T) *MockCommandSender {
	t.Helper()
	m := new(MockCommandSender)

	// Default behavior: every command is accepted
	m.On("SendCommand", mock.Anything, mock.Anything).Return(nil).Maybe()

	return m
}

// SocketPath returns a Unix socket path inside a per-test directory. The
// path stays short enough for sun_path.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name+".sock")
}

// Listen binds a protocol listener at a fresh socket path and closes it
// when the test ends.
func Listen(t *testing.T, name string) (net.Listener, string) {
	t.Helper()
	path := SocketPath(t, name)
	ln, err := protocol.Listen(path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln, path
}

// Dial connects to a protocol socket and closes the connection when the
// test ends.
func Dial(t *testing.T, path string) *protocol.Conn {
	t.Helper()
	conn, err := protocol.Dial(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}
