package interceptor

import (
	"context"
	"errors"
	"fmt"
)

// ErrWriterClosed is returned by Submit once the writer stopped
var ErrWriterClosed = errors.New("pty writer closed")

// ptyWriter is the master side of the pseudo-terminal
type ptyWriter interface {
	Write(ctx context.Context, p []byte) (int, error)
}

// orderedWriter is the only goroutine writing to the PTY master, so user
// keystrokes and injected commands never interleave inside a chunk.
// Immediate chunks jump ahead of queued ones.
type orderedWriter struct {
	immediate chan []byte
	queued    chan []byte
	done      chan struct{}
}

func newOrderedWriter(depth int) *orderedWriter {
	if depth <= 0 {
		depth = 64
	}
	return &orderedWriter{
		immediate: make(chan []byte, depth),
		queued:    make(chan []byte, depth),
		done:      make(chan struct{}),
	}
}

// Submit queues a copy of p. It blocks while the queue is full.
func (w *orderedWriter) Submit(ctx context.Context, p []byte, immediate bool) error {
	if len(p) == 0 {
		return nil
	}
	ch := w.queued
	if immediate {
		ch = w.immediate
	}
	chunk := append([]byte(nil), p...)
	select {
	case ch <- chunk:
		return nil
	case <-w.done:
		return ErrWriterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run writes queued chunks to dst until ctx ends or a write fails
func (w *orderedWriter) Run(ctx context.Context, dst ptyWriter) error {
	defer close(w.done)
	for {
		var chunk []byte
		select {
		case chunk = <-w.immediate:
		default:
			select {
			case <-ctx.Done():
				return nil
			case chunk = <-w.immediate:
			case chunk = <-w.queued:
			}
		}

		if _, err := dst.Write(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to write to pty: %w", err)
		}
	}
}
