package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrWindowClosed is returned when delivering to a window that is not open
var ErrWindowClosed = errors.New("window is not open")

// Envelope is a notification addressed to a window
type Envelope struct {
	Window       string       `json:"window"`
	MessageID    string       `json:"message_id"`
	Notification Notification `json:"notification"`
}

// Bus is an in-process Sink with one buffered channel per window
type Bus struct {
	mu      sync.RWMutex
	windows map[string]chan Envelope
	size    int
}

// NewBus creates a bus whose window channels hold size envelopes
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{windows: make(map[string]chan Envelope), size: size}
}

// Open returns the channel of window, creating it on first use
func (b *Bus) Open(window string) <-chan Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.windows[window]; ok {
		return ch
	}
	ch := make(chan Envelope, b.size)
	b.windows[window] = ch
	return ch
}

// Close closes the channel of window
func (b *Bus) Close(window string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.windows[window]; ok {
		close(ch)
		delete(b.windows, window)
	}
}

// Deliver sends to the window's channel, waiting at most until ctx ends
func (b *Bus) Deliver(ctx context.Context, window, messageID string, n Notification) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ch, ok := b.windows[window]
	if !ok {
		return ErrWindowClosed
	}
	select {
	case ch <- Envelope{Window: window, MessageID: messageID, Notification: n}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
