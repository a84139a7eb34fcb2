package interceptor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/clock"
)

const maxReconnectDelay = 30 * time.Second

var errHostClosed = errors.New("host closed the connection")

// hostLink keeps a connection to the host daemon. Hooks are buffered in a
// bounded queue and dropped when it is full, which is what happens while
// the host is unreachable.
type hostLink struct {
	path      string
	delay     time.Duration
	hooks     chan protocol.Hook
	opened    func() protocol.SessionOpened
	onCommand func(ctx context.Context, cmd protocol.Command) error

	clock     clock.Clock
	log       *logging.Logger
	metrics   *monitoring.Metrics
	connected atomic.Bool
}

func newHostLink(path string, buffer int, delay time.Duration, log *logging.Logger) *hostLink {
	if buffer <= 0 {
		buffer = 256
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &hostLink{
		path:  path,
		delay: delay,
		hooks: make(chan protocol.Hook, buffer),
		clock: clock.Real(),
		log:   log.Component("host-link"),
	}
}

// Connected reports whether the link is currently registered with the host
func (l *hostLink) Connected() bool {
	return l.connected.Load()
}

// Emit queues a hook without blocking
func (l *hostLink) Emit(h protocol.Hook) {
	select {
	case l.hooks <- h:
	default:
		l.metrics.RecordDrop("hook_buffer_full")
		l.log.Debug("Hook dropped", zap.Stringer("type", h.Type()))
	}
}

// Run dials the host until ctx ends, backing off between attempts
func (l *hostLink) Run(ctx context.Context) error {
	delay := l.delay
	for {
		conn, err := protocol.Dial(ctx, l.path)
		if err == nil {
			l.log.Info("Connected to host", zap.String("socket", l.path))
			delay = l.delay
			err = l.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			return nil
		}
		l.log.Debug("Host link down", zap.Error(err), zap.Duration("retry_in", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-l.clock.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

func (l *hostLink) serve(ctx context.Context, conn *protocol.Conn) error {
	defer conn.Close()

	if err := conn.Send(ctx, protocol.Envelope{Message: l.opened()}); err != nil {
		return err
	}
	l.metrics.RecordFrame("out", protocol.CategoryHook.String())
	l.connected.Store(true)
	defer l.connected.Store(false)

	readErr := make(chan error, 1)
	go func() { readErr <- l.readCommands(ctx, conn) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case h := <-l.hooks:
			if err := conn.Send(ctx, protocol.Envelope{Message: h}); err != nil {
				l.metrics.RecordDrop("hook_send_failed")
				return err
			}
			l.metrics.RecordFrame("out", protocol.CategoryHook.String())
		}
	}
}

func (l *hostLink) readCommands(ctx context.Context, conn *protocol.Conn) error {
	for {
		env, err := conn.Receive()
		if err != nil {
			return err
		}
		if env == nil {
			return errHostClosed
		}
		l.metrics.RecordFrame("in", env.Message.Type().Category().String())

		cmd, ok := env.Message.(protocol.Command)
		if !ok {
			l.log.Debug("Ignoring message from host", zap.Stringer("type", env.Message.Type()))
			continue
		}
		if err := l.onCommand(ctx, cmd); err != nil {
			l.log.Warn("Command failed", zap.Stringer("type", cmd.Type()), zap.Error(err))
		}
	}
}
