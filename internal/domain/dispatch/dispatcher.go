package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
)

// Sink delivers one notification to one window
type Sink interface {
	Deliver(ctx context.Context, window, messageID string, n Notification) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, window, messageID string, n Notification) error

// Deliver calls f
func (f SinkFunc) Deliver(ctx context.Context, window, messageID string, n Notification) error {
	return f(ctx, window, messageID, n)
}

// Options configures a Dispatcher
type Options struct {
	// QueueSize bounds the pending notifications per window
	QueueSize int
	// DeliveryTimeout bounds one Sink call
	DeliveryTimeout time.Duration
	Logger          *logging.Logger
	Metrics         *monitoring.Metrics
}

type delivery struct {
	messageID string
	n         Notification
}

// Dispatcher fans notifications out to subscribed windows
type Dispatcher struct {
	subs    *Subscriptions
	sink    Sink
	size    int
	timeout time.Duration
	log     *logging.Logger
	metrics *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]chan delivery // Protected by mu
	closed bool                     // Protected by mu
}

// NewDispatcher creates a dispatcher delivering through sink
func NewDispatcher(subs *Subscriptions, sink Sink, opts Options) *Dispatcher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		subs:    subs,
		sink:    sink,
		size:    opts.QueueSize,
		timeout: opts.DeliveryTimeout,
		log:     opts.Logger.Component("dispatch"),
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		queues:  make(map[string]chan delivery),
	}
}

// Subscriptions returns the dispatcher's subscription table
func (d *Dispatcher) Subscriptions() *Subscriptions {
	return d.subs
}

// Dispatch enqueues n for every window subscribed to its kind and returns
// how many windows accepted it. It never blocks on a window.
func (d *Dispatcher) Dispatch(n Notification) int {
	// targets are read under d.mu so a concurrent CloseWindow cannot
	// leave a queue behind for a window it just removed
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0
	}
	targets := d.subs.Targets(n.Kind)

	accepted := 0
	for _, t := range targets {
		q := d.queueLocked(t.Window)
		select {
		case q <- delivery{messageID: t.MessageID, n: n}:
			accepted++
		default:
			d.metrics.RecordDrop("queue_full")
			d.log.Debug("Window queue full, dropping notification",
				zap.String("window", t.Window),
				zap.String("kind", string(n.Kind)))
		}
	}
	return accepted
}

// CloseWindow drops a window's subscriptions and stops its queue after the
// pending notifications drain
func (d *Dispatcher) CloseWindow(window string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs.CloseWindow(window)
	if q, ok := d.queues[window]; ok {
		close(q)
		delete(d.queues, window)
		d.metrics.SetWindowsActive(len(d.queues))
	}
}

// Close stops accepting notifications, lets queued ones drain and waits
// for every window goroutine to finish
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for window, q := range d.queues {
			close(q)
			delete(d.queues, window)
		}
		d.metrics.SetWindowsActive(0)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
}

func (d *Dispatcher) queueLocked(window string) chan delivery {
	if q, ok := d.queues[window]; ok {
		return q
	}
	q := make(chan delivery, d.size)
	d.queues[window] = q
	d.metrics.SetWindowsActive(len(d.queues))

	d.wg.Add(1)
	go d.drain(window, q)
	return q
}

func (d *Dispatcher) drain(window string, q <-chan delivery) {
	defer d.wg.Done()
	for dv := range q {
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		err := d.sink.Deliver(ctx, window, dv.messageID, dv.n)
		cancel()
		if err != nil {
			d.metrics.RecordDrop("delivery_failed")
			d.log.Debug("Notification delivery failed",
				zap.String("window", window),
				zap.String("kind", string(dv.n.Kind)),
				zap.Error(err))
			continue
		}
		d.metrics.RecordDelivery(string(dv.n.Kind))
	}
}
