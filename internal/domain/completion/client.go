package completion

import (
	"context"
	"errors"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// ErrThrottled classifies a remote failure that is worth retrying after a
// pause. Every other failure ends the cycle with no suggestion.
var ErrThrottled = errors.New("completion backend throttled the request")

// Request is what the backend sees for one completion attempt
type Request struct {
	SessionID string                 `json:"session_id"`
	Buffer    string                 `json:"buffer"`
	Cursor    int                    `json:"cursor"`
	History   []string               `json:"history"`
	Context   *protocol.ShellContext `json:"context,omitempty"`
}

// Candidate is one proposed continuation of the buffer
type Candidate struct {
	Text  string  `json:"text"`
	Score float64 `json:"score,omitempty"`
}

// Response lists candidates, best first
type Response struct {
	Candidates []Candidate `json:"candidates"`
}

// Client is the remote completion backend
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// ClientFunc adapts a function to Client
type ClientFunc func(ctx context.Context, req Request) (Response, error)

// Complete calls f
func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// IsThrottled reports whether err is a throttling failure
func IsThrottled(err error) bool {
	return errors.Is(err, ErrThrottled)
}
