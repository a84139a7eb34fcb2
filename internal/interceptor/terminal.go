package interceptor

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/pty"
)

// terminalFD returns the descriptor behind r when it is a terminal
func terminalFD(r io.Reader) (int, bool) {
	f, ok := r.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// makeRaw switches the user's terminal to raw mode so every keystroke
// reaches the shell's line editor. The returned func restores it.
func makeRaw(r io.Reader) (func(), error) {
	fd, ok := terminalFD(r)
	if !ok {
		return func() {}, nil
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, err
	}
	return func() { term.Restore(fd, state) }, nil
}

// terminalSize reads the size of the user's terminal
func terminalSize(r io.Reader) (pty.Size, bool) {
	fd, ok := terminalFD(r)
	if !ok {
		return pty.Size{}, false
	}
	cols, rows, err := term.GetSize(fd)
	if err != nil || rows <= 0 || cols <= 0 {
		return pty.Size{}, false
	}
	return pty.Size{Rows: uint16(rows), Cols: uint16(cols)}, true
}

// watchResize calls apply with the new size on every SIGWINCH until ctx ends
func watchResize(ctx context.Context, r io.Reader, apply func(pty.Size)) {
	if _, ok := terminalFD(r); !ok {
		return
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if size, ok := terminalSize(r); ok {
				apply(size)
			}
		}
	}
}
