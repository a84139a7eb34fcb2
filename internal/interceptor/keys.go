package interceptor

import (
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// Keystrokes understood by line editors in their default emacs keymap
const (
	keyDelete   = "\x7f"
	keyRight    = "\x1b[C"
	keyLeft     = "\x1b[D"
	keyLineEnd  = "\x05"
	keyKillLine = "\x15"
)

// insertBytes renders an InsertText as the keystrokes a user would type:
// backspaces, cursor moves, then the text itself
func insertBytes(cmd protocol.InsertText) []byte {
	var b strings.Builder
	if cmd.Deletion > 0 {
		b.WriteString(strings.Repeat(keyDelete, cmd.Deletion))
	}
	switch {
	case cmd.Offset > 0:
		b.WriteString(strings.Repeat(keyRight, cmd.Offset))
	case cmd.Offset < 0:
		b.WriteString(strings.Repeat(keyLeft, -cmd.Offset))
	}
	b.WriteString(cmd.Insertion)
	return []byte(b.String())
}

// setBufferBytes kills the current line, types text and walks the cursor
// back to the requested rune offset
func setBufferBytes(cmd protocol.SetBuffer) []byte {
	n := utf8.RuneCountInString(cmd.Text)
	cursor := min(max(cmd.Cursor, 0), n)

	var b strings.Builder
	b.WriteString(keyLineEnd)
	b.WriteString(keyKillLine)
	b.WriteString(cmd.Text)
	b.WriteString(strings.Repeat(keyLeft, n-cursor))
	return []byte(b.String())
}

// InterceptSet is the set of input characters swallowed before they reach
// the shell
type InterceptSet struct {
	mu    sync.RWMutex
	chars map[rune]struct{}
}

// NewInterceptSet creates an empty set
func NewInterceptSet() *InterceptSet {
	return &InterceptSet{chars: make(map[rune]struct{})}
}

// Set replaces the set
func (s *InterceptSet) Set(chars string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chars = make(map[rune]struct{}, len(chars))
	for _, r := range chars {
		s.chars[r] = struct{}{}
	}
}

// Add adds chars
func (s *InterceptSet) Add(chars string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range chars {
		s.chars[r] = struct{}{}
	}
}

// Remove removes chars
func (s *InterceptSet) Remove(chars string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range chars {
		delete(s.chars, r)
	}
}

// Clear empties the set
func (s *InterceptSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.chars)
}

// Contains reports whether r is intercepted
func (s *InterceptSet) Contains(r rune) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chars[r]
	return ok
}

// Empty reports whether nothing is intercepted
func (s *InterceptSet) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chars) == 0
}

// String returns the intercepted characters in code point order
func (s *InterceptSet) String() string {
	s.mu.RLock()
	runes := make([]rune, 0, len(s.chars))
	for r := range s.chars {
		runes = append(runes, r)
	}
	s.mu.RUnlock()
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	return string(runes)
}

// Apply performs an intercept mutation. It reports false for commands that
// are not intercept mutations.
func (s *InterceptSet) Apply(cmd protocol.Command) bool {
	switch c := cmd.(type) {
	case protocol.SetIntercept:
		s.Set(c.Chars)
	case protocol.AddIntercept:
		s.Add(c.Chars)
	case protocol.RemoveIntercept:
		s.Remove(c.Chars)
	case protocol.ClearIntercept:
		s.Clear()
	default:
		return false
	}
	return true
}
