package interceptor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/pty"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/paths"
)

// SessionEnv is exported to the shell so tools started inside it can target
// their own session
const SessionEnv = "AGENTTERM_SESSION_ID"

// Options configures an Interceptor
type Options struct {
	SessionID     string
	Shell         string
	Args          []string
	HostSocket    string
	ControlSocket string

	ReconnectDelay time.Duration
	HookBuffer     int
	ScrollbackSize int

	// Stdin and Stdout default to the process streams. Raw mode and resize
	// tracking apply only when Stdin is a terminal.
	Stdin  io.Reader
	Stdout io.Writer
	// Size is used when Stdin is not a terminal
	Size pty.Size
}

// ResolveSessionID returns the first non-empty candidate, or a fresh
// session id
func ResolveSessionID(candidates ...string) string {
	if v := firstNonEmpty(candidates...); v != "" {
		return v
	}
	return id.NewSessionID().String()
}

// DefaultShell returns $SHELL, falling back to /bin/sh
func DefaultShell() string {
	return firstNonEmpty(os.Getenv("SHELL"), "/bin/sh")
}

// Interceptor runs one shell under a PTY and proxies the user's terminal
type Interceptor struct {
	opts    Options
	log     *logging.Logger
	metrics *monitoring.Metrics

	intercept  *InterceptSet
	filter     *inputFilter
	writer     *orderedWriter
	state      *shellState
	link       *hostLink
	scrollback *pty.RingBuffer
}

// New creates an interceptor. Nothing is started until Run.
func New(opts Options, log *logging.Logger) (*Interceptor, error) {
	if opts.SessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if opts.Shell == "" {
		opts.Shell = DefaultShell()
	}
	if opts.HostSocket == "" {
		opts.HostSocket = paths.HostSocket()
	}
	if opts.ControlSocket == "" {
		opts.ControlSocket = paths.InterceptorSocket(opts.SessionID)
	}
	if opts.ScrollbackSize <= 0 {
		opts.ScrollbackSize = 256 << 10
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Size.Rows == 0 || opts.Size.Cols == 0 {
		opts.Size = pty.Size{Rows: 24, Cols: 80}
	}
	if size, ok := terminalSize(opts.Stdin); ok {
		opts.Size = size
	}

	log = log.Session(opts.SessionID)
	i := &Interceptor{
		opts:       opts,
		log:        log,
		intercept:  NewInterceptSet(),
		writer:     newOrderedWriter(0),
		scrollback: pty.NewRingBuffer(opts.ScrollbackSize),
	}
	i.filter = newInputFilter(opts.SessionID, i.intercept)
	i.link = newHostLink(opts.HostSocket, opts.HookBuffer, opts.ReconnectDelay, log)
	i.link.opened = i.registration
	i.link.onCommand = i.Apply
	i.state = newShellState(opts.SessionID, opts.Size, baseContext(opts.Shell), i.link.Emit)
	return i, nil
}

// WithMetrics sets the metrics collector
func (i *Interceptor) WithMetrics(m *monitoring.Metrics) *Interceptor {
	i.metrics = m
	i.link.metrics = m
	return i
}

// SessionID returns the session id
func (i *Interceptor) SessionID() string {
	return i.opts.SessionID
}

// ControlSocket returns the control socket path
func (i *Interceptor) ControlSocket() string {
	return i.opts.ControlSocket
}

// Intercepts returns the intercept set
func (i *Interceptor) Intercepts() *InterceptSet {
	return i.intercept
}

// Context returns the tracked shell context
func (i *Interceptor) Context() protocol.ShellContext {
	return i.state.Context()
}

// Scrollback returns the most recent shell output
func (i *Interceptor) Scrollback() []byte {
	return i.scrollback.Snapshot()
}

// Apply executes a command. Keystroke commands are queued on the PTY
// writer; intercept mutations take effect on the next input chunk.
func (i *Interceptor) Apply(ctx context.Context, cmd protocol.Command) error {
	if i.intercept.Apply(cmd) {
		i.log.Debug("Intercept set changed", zap.String("chars", i.intercept.String()))
		return nil
	}
	switch c := cmd.(type) {
	case protocol.InsertText:
		return i.writer.Submit(ctx, insertBytes(c), c.Immediate)
	case protocol.SetBuffer:
		return i.writer.Submit(ctx, setBufferBytes(c), false)
	default:
		return fmt.Errorf("unsupported command %s", cmd.Type())
	}
}

// Run starts the shell and proxies it until it exits, returning its exit
// code. Cancelling ctx hangs up the shell.
func (i *Interceptor) Run(ctx context.Context) (int, error) {
	h, err := pty.Open(i.opts.Size)
	if err != nil {
		return -1, err
	}
	defer h.Close()

	cmd := exec.Command(i.opts.Shell, i.opts.Args...)
	cmd.Env = append(os.Environ(), SessionEnv+"="+i.opts.SessionID)
	if err := h.Start(cmd); err != nil {
		return -1, err
	}
	i.state.started(cmd.Process.Pid, h.TTYName())
	i.log.Info("Shell started",
		zap.String("shell", i.opts.Shell),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("tty", h.TTYName()))

	restore, err := makeRaw(i.opts.Stdin)
	if err != nil {
		i.log.Warn("Failed to enter raw mode", zap.Error(err))
	}
	defer restore()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return i.writer.Run(gctx, h) })
	g.Go(func() error { return i.link.Run(gctx) })
	g.Go(func() error {
		watchResize(gctx, i.opts.Stdin, func(size pty.Size) { i.resize(h, size) })
		return nil
	})
	if ln, err := protocol.Listen(i.opts.ControlSocket); err != nil {
		i.log.Warn("Control socket unavailable", zap.String("socket", i.opts.ControlSocket), zap.Error(err))
	} else {
		g.Go(func() error { return i.serveControl(gctx, ln) })
	}
	// stdin reads cannot be interrupted, so the input pump is not awaited
	go i.pumpInput(gctx)

	outErr := i.pumpOutput(runCtx, h)
	if ctx.Err() != nil {
		cmd.Process.Signal(syscall.SIGHUP)
	}
	waitErr := cmd.Wait()
	cancel()
	if err := g.Wait(); err != nil {
		i.log.Warn("Interceptor task failed", zap.Error(err))
	}
	if outErr != nil && ctx.Err() == nil {
		i.log.Warn("Output pump failed", zap.Error(outErr))
	}

	code, err := exitCode(waitErr)
	i.log.Info("Shell exited", zap.Int("exit_code", code))
	return code, err
}

func (i *Interceptor) pumpOutput(ctx context.Context, h *pty.Handle) error {
	buf := make([]byte, 32<<10)
	for {
		n, err := h.Read(ctx, buf)
		if n > 0 {
			chunk := buf[:n]
			if _, werr := i.opts.Stdout.Write(chunk); werr != nil {
				i.log.Debug("Terminal write failed", zap.Error(werr))
			}
			i.scrollback.Write(chunk)
			i.state.Observe(chunk)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (i *Interceptor) pumpInput(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := i.opts.Stdin.Read(buf)
		if n > 0 {
			forward, hooks := i.filter.Filter(buf[:n])
			for _, h := range hooks {
				i.link.Emit(h)
			}
			if err := i.writer.Submit(ctx, forward, false); err != nil {
				return
			}
		}
		if err != nil || ctx.Err() != nil {
			return
		}
	}
}

func (i *Interceptor) resize(h *pty.Handle, size pty.Size) {
	if err := h.Resize(size); err != nil {
		i.log.Warn("Failed to resize pty", zap.Error(err))
		return
	}
	i.state.resize(size)
}

func (i *Interceptor) registration() protocol.SessionOpened {
	ctx := i.state.Context()
	return protocol.SessionOpened{
		SessionID:     i.opts.SessionID,
		ControlSocket: i.opts.ControlSocket,
		Context:       &ctx,
	}
}

func baseContext(shell string) protocol.ShellContext {
	ctx := protocol.ShellContext{
		Shell:       shell,
		ProcessName: filepath.Base(shell),
	}
	ctx.Hostname, _ = os.Hostname()
	ctx.Cwd, _ = os.Getwd()
	return ctx
}
