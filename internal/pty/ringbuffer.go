package pty

import "sync"

// RingBuffer is a thread-safe circular buffer holding the most recent output
type RingBuffer struct {
	mu    sync.RWMutex
	data  []byte
	head  int
	count int
	total uint64
}

// NewRingBuffer creates a ring holding up to size bytes
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Write appends p, overwriting the oldest bytes when full
func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(p)
	b.total += uint64(n)
	size := len(b.data)

	// Only the tail of an oversized write can survive
	if n >= size {
		copy(b.data, p[n-size:])
		b.head, b.count = 0, size
		return n, nil
	}

	tail := (b.head + b.count) % size
	first := copy(b.data[tail:], p)
	copy(b.data, p[first:])

	b.count += n
	if b.count > size {
		b.head = (b.head + b.count - size) % size
		b.count = size
	}
	return n, nil
}

// Snapshot returns a copy of the buffered bytes, oldest first
func (b *RingBuffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyOut()
}

// ReadAll returns the buffered bytes and empties the ring
func (b *RingBuffer) ReadAll() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.copyOut()
	b.head, b.count = 0, 0
	return out
}

// Len returns the number of buffered bytes
func (b *RingBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Total returns the number of bytes ever written
func (b *RingBuffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

func (b *RingBuffer) copyOut() []byte {
	out := make([]byte, b.count)
	end := b.head + b.count
	if end <= len(b.data) {
		copy(out, b.data[b.head:end])
		return out
	}
	n := copy(out, b.data[b.head:])
	copy(out[n:], b.data[:end-len(b.data)])
	return out
}
