package dispatch

import (
	"sort"
	"sync"
)

// Target is one window to deliver a notification to
type Target struct {
	Window    string
	MessageID string
}

// Subscriptions maps windows to the kinds they want and the message id each
// answer carries
type Subscriptions struct {
	mu      sync.RWMutex
	windows map[string]map[Kind]string
}

// NewSubscriptions creates an empty table
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{windows: make(map[string]map[Kind]string)}
}

// Subscribe registers window for kind; a repeat replaces the message id
func (s *Subscriptions) Subscribe(window string, kind Kind, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds, ok := s.windows[window]
	if !ok {
		kinds = make(map[Kind]string)
		s.windows[window] = kinds
	}
	kinds[kind] = messageID
}

// Unsubscribe removes one kind from window
func (s *Subscriptions) Unsubscribe(window string, kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds, ok := s.windows[window]
	if !ok {
		return
	}
	delete(kinds, kind)
	if len(kinds) == 0 {
		delete(s.windows, window)
	}
}

// CloseWindow drops every subscription of window
func (s *Subscriptions) CloseWindow(window string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.windows[window]
	delete(s.windows, window)
	return ok
}

// Targets returns the windows subscribed to kind, ordered by window id
func (s *Subscriptions) Targets(kind Kind) []Target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var targets []Target
	for window, kinds := range s.windows {
		if id, ok := kinds[kind]; ok {
			targets = append(targets, Target{Window: window, MessageID: id})
		}
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Window < targets[j].Window })
	return targets
}

// Windows returns the ids of windows with at least one subscription
func (s *Subscriptions) Windows() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.windows))
	for id := range s.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
