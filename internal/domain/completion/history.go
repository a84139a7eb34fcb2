package completion

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HistoryEntry is one executed command line
type HistoryEntry struct {
	Command   string
	Timestamp time.Time
}

// HistoryParser parses a shell history file
type HistoryParser func(r io.Reader) ([]HistoryEntry, error)

// History is a bounded, thread-safe ring of recent commands
type History struct {
	mu      sync.RWMutex
	entries []string
	next    int
	full    bool
}

// NewHistory creates a history holding up to limit commands
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = 1000
	}
	return &History{entries: make([]string, limit)}
}

// Add records an executed command. Blank commands and immediate repeats are
// skipped.
func (h *History) Add(command string) {
	command = strings.TrimSpace(command)
	if command == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if last, ok := h.lastLocked(); ok && last == command {
		return
	}
	h.entries[h.next] = command
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
}

// Recent returns up to n commands, most recent first
func (h *History) Recent(n int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.lenLocked()
	if n > size {
		n = size
	}
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.entries)) % len(h.entries)
		out = append(out, h.entries[idx])
	}
	return out
}

// Len returns the number of stored commands
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lenLocked()
}

func (h *History) lenLocked() int {
	if h.full {
		return len(h.entries)
	}
	return h.next
}

func (h *History) lastLocked() (string, bool) {
	if h.lenLocked() == 0 {
		return "", false
	}
	return h.entries[(h.next-1+len(h.entries))%len(h.entries)], true
}

// Seed loads a shell history file into h, oldest first. An empty path is
// derived from shell. A missing file is not an error.
func (h *History) Seed(path, shell string) (int, error) {
	parser, defaultPath := historyFormat(shell)
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open shell history: %w", err)
	}
	defer f.Close()

	entries, err := parser(f)
	if err != nil {
		return 0, fmt.Errorf("failed to parse shell history (%s): %w", path, err)
	}
	for _, e := range entries {
		h.Add(e.Command)
	}
	return len(entries), nil
}

// historyFormat picks the parser and default file for a shell name or path
func historyFormat(shell string) (HistoryParser, string) {
	home, _ := os.UserHomeDir()
	join := func(parts ...string) string {
		if home == "" {
			return ""
		}
		return filepath.Join(append([]string{home}, parts...)...)
	}

	switch filepath.Base(shell) {
	case "zsh":
		return ParseZshHistory, join(".zsh_history")
	case "fish":
		return ParseFishHistory, join(".local", "share", "fish", "fish_history")
	default:
		// Unknown shells get the bash format as a best effort
		return ParseBashHistory, join(".bash_history")
	}
}

// ParseBashHistory parses ~/.bash_history. With HISTTIMEFORMAT set, a
// "#<epoch>" line precedes each command.
func ParseBashHistory(r io.Reader) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	scanner := newHistoryScanner(r)

	var pending time.Time
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "#"); ok {
			if epoch, err := strconv.ParseInt(rest, 10, 64); err == nil {
				pending = time.Unix(epoch, 0)
				continue
			}
			pending = time.Time{}
			continue
		}
		if line == "" {
			pending = time.Time{}
			continue
		}
		entries = append(entries, HistoryEntry{Command: line, Timestamp: pending})
		pending = time.Time{}
	}
	return entries, scanner.Err()
}

// ParseZshHistory parses ~/.zsh_history in either the extended
// ": <epoch>:<elapsed>;<command>" form or one command per line.
func ParseZshHistory(r io.Reader) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	scanner := newHistoryScanner(r)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, ": "); ok {
			if meta, cmd, found := strings.Cut(rest, ";"); found {
				if epochStr, _, ok := strings.Cut(meta, ":"); ok {
					if epoch, err := strconv.ParseInt(epochStr, 10, 64); err == nil {
						entries = append(entries, HistoryEntry{Command: cmd, Timestamp: time.Unix(epoch, 0)})
						continue
					}
				}
			}
		}
		entries = append(entries, HistoryEntry{Command: line})
	}
	return entries, scanner.Err()
}

// ParseFishHistory parses fish's YAML-like history:
//
//	- cmd: <command>
//	  when: <epoch>
func ParseFishHistory(r io.Reader) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	scanner := newHistoryScanner(r)

	var current HistoryEntry
	inEntry := false
	flush := func() {
		if inEntry && current.Command != "" {
			entries = append(entries, current)
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if cmd, ok := strings.CutPrefix(line, "- cmd: "); ok {
			flush()
			current = HistoryEntry{Command: cmd}
			inEntry = true
			continue
		}
		if when, ok := strings.CutPrefix(line, "  when: "); ok && inEntry {
			if epoch, err := strconv.ParseInt(strings.TrimSpace(when), 10, 64); err == nil {
				current.Timestamp = time.Unix(epoch, 0)
			}
		}
	}
	flush()
	return entries, scanner.Err()
}

func newHistoryScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return scanner
}
