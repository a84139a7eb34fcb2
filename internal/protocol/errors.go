package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrIncomplete means the decoder needs more bytes for the next frame
	ErrIncomplete = errors.New("protocol: incomplete frame")
	// ErrConnectionReset means the peer went away in the middle of a frame
	// or before answering a request
	ErrConnectionReset = errors.New("protocol: connection reset by peer")
	// ErrTimeout means no matching response arrived in time
	ErrTimeout = errors.New("protocol: timed out waiting for response")
)

// EncodeError reports a message that could not be serialized
type EncodeError struct {
	Type MessageType
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("protocol: encode %s: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a corrupt or unknown frame. The stream cannot be
// resynchronized after one.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "protocol: decode: " + e.Reason
	}
	return fmt.Sprintf("protocol: decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IOError reports a failure of the underlying stream
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("protocol: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
