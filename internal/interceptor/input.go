package interceptor

import (
	"bytes"
	"unicode/utf8"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

const esc = 0x1b

// Focus reports sent by terminals with mode 1004 enabled
var (
	focusIn  = []byte("\x1b[I")
	focusOut = []byte("\x1b[O")
)

// inputFilter strips focus reports and intercepted characters from user
// input and turns them into hooks. Escape sequences pass through whole, so
// intercepting '[' or 'A' never breaks an arrow key.
type inputFilter struct {
	sessionID string
	intercept *InterceptSet
}

func newInputFilter(sessionID string, intercept *InterceptSet) *inputFilter {
	return &inputFilter{sessionID: sessionID, intercept: intercept}
}

// Filter returns the bytes to forward to the shell and the hooks raised by
// the chunk. Sequences split across reads are forwarded unrecognized.
func (f *inputFilter) Filter(p []byte) ([]byte, []protocol.Hook) {
	if f.intercept.Empty() && bytes.IndexByte(p, esc) < 0 {
		return p, nil
	}

	out := make([]byte, 0, len(p))
	var hooks []protocol.Hook
	for i := 0; i < len(p); {
		if p[i] == esc {
			n := escapeLen(p[i:])
			seq := p[i : i+n]
			switch {
			case bytes.Equal(seq, focusIn):
				hooks = append(hooks, protocol.FocusChanged{SessionID: f.sessionID, Focused: true})
			case bytes.Equal(seq, focusOut):
				hooks = append(hooks, protocol.FocusChanged{SessionID: f.sessionID, Focused: false})
			default:
				out = append(out, seq...)
			}
			i += n
			continue
		}

		r, size := utf8.DecodeRune(p[i:])
		if r != utf8.RuneError && f.intercept.Contains(r) {
			hooks = append(hooks, protocol.InterceptedKey{SessionID: f.sessionID, Key: string(p[i : i+size])})
		} else {
			out = append(out, p[i:i+size]...)
		}
		i += size
	}
	return out, hooks
}

// escapeLen returns the length of the escape sequence at the start of p,
// or all of p when the sequence is cut short
func escapeLen(p []byte) int {
	if len(p) < 2 {
		return len(p)
	}
	switch p[1] {
	case '[':
		for i := 2; i < len(p); i++ {
			if p[i] >= 0x40 && p[i] <= 0x7e {
				return i + 1
			}
			if p[i] < 0x20 || p[i] > 0x3f {
				return i
			}
		}
		return len(p)
	case 'O':
		return min(3, len(p))
	default:
		return 2
	}
}
