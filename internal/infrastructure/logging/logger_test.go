package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", OutputPaths: []string{"stderr"}})
	assert.Error(t, err)
}

func TestFileConfigWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "interceptor.log")

	logger, err := New(FileConfig(path, "debug"))
	require.NoError(t, err)

	logger.Session("sess_1").Info("shell started", zap.Int("pid", 42))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"shell started"`)
	assert.Contains(t, string(data), `"session_id":"sess_1"`)
	assert.Contains(t, string(data), `"pid":42`)
}

func TestErrorOutputPaths(t *testing.T) {
	assert.Equal(t, []string{"stderr"}, errorOutputPaths([]string{"stdout"}))
	assert.Equal(t, []string{"/tmp/x.log"}, errorOutputPaths([]string{"/tmp/x.log"}))
}

func TestNopLogger(t *testing.T) {
	logger := NewNop().Component("registry")
	assert.NotPanics(t, func() { logger.Info("ignored") })
}
