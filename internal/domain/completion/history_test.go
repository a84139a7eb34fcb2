package completion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRecentMostRecentFirst(t *testing.T) {
	h := NewHistory(3)
	for _, cmd := range []string{"a", "b", "c", "d"} {
		h.Add(cmd)
	}

	assert.Equal(t, []string{"d", "c", "b"}, h.Recent(10))
	assert.Equal(t, []string{"d", "c"}, h.Recent(2))
	assert.Equal(t, 3, h.Len())
}

func TestHistorySkipsBlankAndRepeats(t *testing.T) {
	h := NewHistory(10)
	h.Add("ls")
	h.Add("ls")
	h.Add("  ")
	h.Add("pwd")
	h.Add("ls")

	assert.Equal(t, []string{"ls", "pwd", "ls"}, h.Recent(10))
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(5)
	assert.Empty(t, h.Recent(5))
	assert.Empty(t, h.Recent(0))
}

func TestParseBashHistory(t *testing.T) {
	input := "#1700000000\ngit status\nls -la\n# a comment\n\nmake\n"
	entries, err := ParseBashHistory(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "git status", entries[0].Command)
	assert.Equal(t, time.Unix(1700000000, 0), entries[0].Timestamp)
	assert.Equal(t, "ls -la", entries[1].Command)
	assert.True(t, entries[1].Timestamp.IsZero())
	assert.Equal(t, "make", entries[2].Command)
}

func TestParseZshHistory(t *testing.T) {
	input := ": 1700000000:0;git commit -m 'x; y'\nplain command\n: broken\n"
	entries, err := ParseZshHistory(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "git commit -m 'x; y'", entries[0].Command)
	assert.Equal(t, time.Unix(1700000000, 0), entries[0].Timestamp)
	assert.Equal(t, "plain command", entries[1].Command)
	assert.Equal(t, ": broken", entries[2].Command)
}

func TestParseFishHistory(t *testing.T) {
	input := "- cmd: ls\n  when: 1700000000\n- cmd: cd /tmp\n  when: 1700000100\n  paths:\n    - /tmp\n"
	entries, err := ParseFishHistory(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "ls", entries[0].Command)
	assert.Equal(t, "cd /tmp", entries[1].Command)
	assert.Equal(t, time.Unix(1700000100, 0), entries[1].Timestamp)
}

func TestHistorySeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zsh_history")
	require.NoError(t, os.WriteFile(path, []byte(": 1:0;make\n: 2:0;make test\n"), 0o600))

	h := NewHistory(10)
	n, err := h.Seed(path, "/bin/zsh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"make test", "make"}, h.Recent(5))
}

func TestHistorySeedMissingFile(t *testing.T) {
	h := NewHistory(10)
	n, err := h.Seed(filepath.Join(t.TempDir(), "nope"), "bash")
	assert.NoError(t, err)
	assert.Zero(t, n)
}
