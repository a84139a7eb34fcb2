package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

const readChunk = 32 << 10

// Conn exchanges frames over a stream connection. Send is safe for
// concurrent use; Receive and Request serialize on the read side.
type Conn struct {
	conn net.Conn

	writeMu sync.Mutex

	readMu sync.Mutex
	dec    Decoder
	buf    []byte
	eof    bool
}

// NewConn wraps an established stream connection
func NewConn(c net.Conn) *Conn {
	return &Conn{conn: c, buf: make([]byte, readChunk)}
}

// Dial connects to a Unix socket
func Dial(ctx context.Context, path string) (*Conn, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, &IOError{Op: "dial " + path, Err: err}
	}
	return NewConn(c), nil
}

// Listen binds a Unix socket at path, creating its directory and replacing
// a stale socket file left by a dead process.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, &IOError{Op: "listen", Err: err}
	}
	if _, err := os.Stat(path); err == nil {
		probe, err := net.DialTimeout("unix", path, 200*time.Millisecond)
		if err == nil {
			probe.Close()
			return nil, &IOError{Op: "listen", Err: syscall.EADDRINUSE}
		}
		if err := os.Remove(path); err != nil {
			return nil, &IOError{Op: "remove stale socket", Err: err}
		}
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, &IOError{Op: "listen", Err: err}
	}
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return nil, &IOError{Op: "listen", Err: err}
	}
	return ln, nil
}

// Send writes one frame. The context deadline, if any, bounds the write.
func (c *Conn) Send(ctx context.Context, env Envelope) error {
	frame, err := Encode(env)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(frame); err != nil {
		if isTimeout(err) {
			return ErrTimeout
		}
		if isReset(err) {
			return ErrConnectionReset
		}
		return &IOError{Op: "write", Err: err}
	}
	return nil
}

// Receive reads the next frame. It returns (nil, nil) when the peer closed
// the stream between frames.
func (c *Conn) Receive() (*Envelope, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.receive()
}

func (c *Conn) receive() (*Envelope, error) {
	for {
		env, err := c.dec.Next()
		if err == nil {
			return &env, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			return nil, err
		}
		if c.eof {
			if c.dec.Buffered() == 0 {
				return nil, nil
			}
			return nil, ErrConnectionReset
		}

		n, rerr := c.conn.Read(c.buf)
		c.dec.Feed(c.buf[:n])
		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF):
			c.eof = true
		case isTimeout(rerr):
			return nil, ErrTimeout
		case isReset(rerr):
			return nil, ErrConnectionReset
		default:
			return nil, &IOError{Op: "read", Err: rerr}
		}
	}
}

// Request sends req under a fresh request id and waits for the response
// carrying the same id. Frames with other ids are discarded.
func (c *Conn) Request(ctx context.Context, req Request, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqID := uuid.NewString()
	if err := c.Send(ctx, Envelope{ID: reqID, Message: req}); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	deadline, _ := ctx.Deadline()
	c.conn.SetReadDeadline(deadline)
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		env, err := c.receive()
		if err != nil {
			return nil, err
		}
		if env == nil {
			return nil, ErrConnectionReset
		}
		if env.ID != reqID {
			continue
		}
		resp, ok := env.Message.(Response)
		if !ok {
			return nil, &DecodeError{Reason: env.Message.Type().String() + " answering a request"}
		}
		return resp, nil
	}
}

// Reply answers a received request envelope
func (c *Conn) Reply(ctx context.Context, req *Envelope, resp Response) error {
	return c.Send(ctx, Envelope{ID: req.ID, Message: resp})
}

// Close closes the underlying connection
func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr describes the peer for logs
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil && addr.String() != "" {
		return addr.String()
	}
	return "unix"
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}
