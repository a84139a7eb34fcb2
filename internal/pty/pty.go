package pty

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// pollSlice bounds one readiness wait so context cancellation is noticed
const pollSlice = 50 * time.Millisecond

var errSlaveInUse = errors.New("pty: slave already attached to a process")

// Size is a terminal size in cells and pixels
type Size struct {
	Rows   uint16
	Cols   uint16
	Width  uint16
	Height uint16
}

// CreationError reports a pseudo-terminal that could not be allocated
type CreationError struct {
	Err error
}

func (e *CreationError) Error() string { return "pty: create: " + e.Err.Error() }
func (e *CreationError) Unwrap() error { return e.Err }

// IoctlError reports a failed terminal ioctl
type IoctlError struct {
	Op  string
	Err error
}

func (e *IoctlError) Error() string { return fmt.Sprintf("pty: %s: %v", e.Op, e.Err) }
func (e *IoctlError) Unwrap() error { return e.Err }

// Handle is an open pseudo-terminal pair
type Handle struct {
	master  *os.File
	raw     syscall.RawConn
	ttyName string

	mu    sync.Mutex
	slave *os.File
	size  Size

	closeOnce sync.Once
	closeErr  error
}

// Open allocates a pseudo-terminal pair with the given window size
func Open(size Size) (*Handle, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, &CreationError{Err: err}
	}

	raw, err := master.SyscallConn()
	if err != nil {
		master.Close()
		slave.Close()
		return nil, &CreationError{Err: err}
	}

	h := &Handle{master: master, raw: raw, slave: slave, ttyName: slave.Name()}

	var nbErr error
	if err := raw.Control(func(fd uintptr) { nbErr = unix.SetNonblock(int(fd), true) }); err != nil {
		nbErr = err
	}
	if nbErr != nil {
		h.Close()
		return nil, &CreationError{Err: fmt.Errorf("set non-blocking: %w", nbErr)}
	}

	if size.Rows == 0 || size.Cols == 0 {
		size.Rows, size.Cols = 24, 80
	}
	if err := h.Resize(size); err != nil {
		h.Close()
		return nil, &CreationError{Err: err}
	}
	return h, nil
}

// TTYName returns the slave device path
func (h *Handle) TTYName() string {
	return h.ttyName
}

// Slave returns the slave side until a process is started on it
func (h *Handle) Slave() *os.File {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.slave
}

// Size returns the last size applied
func (h *Handle) Size() Size {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.size
}

// Start runs cmd with the slave as its controlling terminal and standard
// streams. Only descriptors 0-2 are inherited. The parent's copy of the slave
// is closed once the child runs, so reads on the master end with io.EOF when
// the child's side goes away.
func (h *Handle) Start(cmd *exec.Cmd) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.slave == nil {
		return errSlaveInUse
	}

	cmd.Stdin, cmd.Stdout, cmd.Stderr = h.slave, h.slave, h.slave
	cmd.ExtraFiles = nil
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("pty: start %s: %w", cmd.Path, err)
	}

	h.slave.Close()
	h.slave = nil
	return nil
}

// Read reads child output from the master. It returns io.EOF once the child
// side is closed and ctx.Err() when ctx ends while waiting.
func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var n int
		var rerr error
		cerr := h.raw.Control(func(fd uintptr) {
			n, rerr = unix.Read(int(fd), p)
			if rerr == unix.EAGAIN {
				waitFD(int(fd), unix.POLLIN)
			}
		})
		if cerr != nil {
			return 0, cerr
		}

		switch {
		case rerr == nil && n > 0:
			return n, nil
		case rerr == nil:
			return 0, io.EOF
		case rerr == unix.EAGAIN, rerr == unix.EINTR:
			continue
		case rerr == unix.EIO:
			// Linux reports a hung-up slave as EIO
			return 0, io.EOF
		default:
			return 0, &os.PathError{Op: "read", Path: h.master.Name(), Err: rerr}
		}
	}
}

// Write writes all of p to the master, looping over partial writes
func (h *Handle) Write(ctx context.Context, p []byte) (int, error) {
	written := 0
	for written < len(p) {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		var n int
		var werr error
		cerr := h.raw.Control(func(fd uintptr) {
			n, werr = unix.Write(int(fd), p[written:])
			if werr == unix.EAGAIN {
				waitFD(int(fd), unix.POLLOUT)
			}
		})
		if cerr != nil {
			return written, cerr
		}
		if werr == nil && n > 0 {
			written += n
			continue
		}
		if werr == nil || werr == unix.EAGAIN || werr == unix.EINTR {
			continue
		}
		return written, &os.PathError{Op: "write", Path: h.master.Name(), Err: werr}
	}
	return written, nil
}

// Resize applies a new window size; the kernel signals SIGWINCH to the
// foreground process group.
func (h *Handle) Resize(size Size) error {
	ws := &unix.Winsize{Row: size.Rows, Col: size.Cols, Xpixel: size.Width, Ypixel: size.Height}

	var ioErr error
	if err := h.raw.Control(func(fd uintptr) {
		ioErr = unix.IoctlSetWinsize(int(fd), unix.TIOCSWINSZ, ws)
	}); err != nil {
		ioErr = err
	}
	if ioErr != nil {
		return &IoctlError{Op: "TIOCSWINSZ", Err: ioErr}
	}

	h.mu.Lock()
	h.size = size
	h.mu.Unlock()
	return nil
}

// Close releases both sides. It is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		if h.slave != nil {
			h.slave.Close()
			h.slave = nil
		}
		h.mu.Unlock()
		h.closeErr = h.master.Close()
	})
	return h.closeErr
}

func waitFD(fd int, events int16) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	_, _ = unix.Poll(fds, int(pollSlice/time.Millisecond))
}
