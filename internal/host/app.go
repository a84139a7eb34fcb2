package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/domain/completion"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/clock"
)

var (
	// ErrSessionNotFound is returned when a command targets a session that
	// is not registered, usually because its shell already exited
	ErrSessionNotFound = errors.New("session not found")

	errStaleBuffer = errors.New("buffer changed before the suggestion arrived")
)

// Options overrides collaborators of an App, mostly for tests
type Options struct {
	Clock clock.Clock
	// Client replaces the HTTP completion backend
	Client completion.Client
	// Tuning replaces the per-cycle environment tuning
	Tuning completion.TuningSource
	// Registry receives the metrics; a fresh one is used when nil
	Registry *prometheus.Registry
}

// App is the owning context of the host: every component is built here and
// handed its collaborators explicitly.
type App struct {
	cfg     *config.Config
	log     *logging.Logger
	clock   clock.Clock
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer

	sessions    *session.Registry
	coordinator *completion.Coordinator
	dispatcher  *dispatch.Dispatcher
	bus         *dispatch.Bus
	usage       *dispatch.MetricsTracker
	server      *Server

	// ctx bounds background completion cycles
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewApp builds the host from configuration
func NewApp(cfg *config.Config, log *logging.Logger, opts Options) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.Host.Socket == "" {
		return nil, errors.New("host socket path is empty")
	}
	if log == nil {
		log = logging.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Client == nil {
		opts.Client = completion.NewHTTPClient(completion.HTTPConfig{
			Endpoint:          cfg.Completion.Endpoint,
			APIKey:            cfg.Completion.APIKey,
			Timeout:           cfg.Completion.Timeout,
			RequestsPerSecond: cfg.Completion.RequestsPerSecond,
			Burst:             cfg.Completion.Burst,
			TransportRetries:  2,
		})
	}

	metrics := monitoring.NewMetrics(opts.Registry)

	history := completion.NewHistory(cfg.Host.HistoryLimit)
	if n, err := history.Seed(cfg.Host.HistoryFile, os.Getenv("SHELL")); err != nil {
		log.Warn("Failed to seed command history", zap.Error(err))
	} else if n > 0 {
		log.Info("Seeded command history", zap.Int("commands", n))
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:     cfg,
		log:     log,
		clock:   opts.Clock,
		metrics: metrics,
		tracer:  tracing.New("hostd", log),
		ctx:     ctx,
		cancel:  cancel,
	}

	a.sessions = session.NewRegistry(opts.Clock, log, session.Options{TTL: cfg.Host.SessionTTL}).
		WithMetrics(metrics)
	a.coordinator = completion.NewCoordinator(opts.Client, completion.NewCache(0).WithMetrics(metrics), history,
		completion.Options{
			Clock:       opts.Clock,
			Logger:      log,
			Metrics:     metrics,
			Tuning:      opts.Tuning,
			MaxAttempts: cfg.Completion.MaxAttempts,
			RetryWindow: cfg.Completion.RetryWindow,
		})
	a.bus = dispatch.NewBus(cfg.Host.WindowQueue)
	a.dispatcher = dispatch.NewDispatcher(dispatch.NewSubscriptions(), a.bus, dispatch.Options{
		QueueSize: cfg.Host.WindowQueue,
		Logger:    log,
		Metrics:   metrics,
	})
	a.usage = dispatch.NewMetricsTracker(a.sessions, opts.Clock, log, func(rec dispatch.UsageRecord) {
		a.dispatcher.Dispatch(dispatch.UsageNotification(rec))
	}).WithMetrics(metrics)
	a.sessions.OnRemove(a.sessionRemoved)
	a.server = NewServer(a, ServerOptions{})

	return a, nil
}

// Sessions returns the session registry
func (a *App) Sessions() *session.Registry { return a.sessions }

// Coordinator returns the completion coordinator
func (a *App) Coordinator() *completion.Coordinator { return a.coordinator }

// Dispatcher returns the notification dispatcher
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Bus returns the in-process window bus
func (a *App) Bus() *dispatch.Bus { return a.bus }

// Usage returns the usage window tracker
func (a *App) Usage() *dispatch.MetricsTracker { return a.usage }

// Metrics returns the host metrics
func (a *App) Metrics() *monitoring.Metrics { return a.metrics }

// Server returns the socket server
func (a *App) Server() *Server { return a.server }

// Run serves the host socket, the sweep loops, the file watcher and the
// status server until ctx ends or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	ln, err := protocol.Listen(a.cfg.Host.Socket)
	if err != nil {
		return fmt.Errorf("failed to listen on host socket: %w", err)
	}
	a.log.Info("Host listening", zap.String("socket", a.cfg.Host.Socket))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(a.sessions.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(a.usage.Run(ctx)) })
	g.Go(func() error { return a.server.Serve(ctx, ln) })

	if len(a.cfg.Watch.Dirs) > 0 {
		watcher, err := NewFileWatcher(a.cfg.Watch.Dirs, a.cfg.Watch.Patterns, a.log, func(fc protocol.FileChanged) {
			a.ApplyHook(fc)
		})
		if err != nil {
			a.log.Warn("File watcher disabled", zap.Error(err))
		} else {
			g.Go(func() error { return watcher.Run(ctx) })
		}
	}

	if a.cfg.Host.StatusEnabled {
		status := NewStatusServer(a, a.cfg.Host.StatusAddr, a.cfg.RateLimit, a.cfg.Logging.Development)
		g.Go(func() error { return status.Run(ctx) })
	}

	return g.Wait()
}

// Close stops background completion cycles and drains window queues. It
// must be called after the socket server stopped accepting hooks.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.wg.Wait()
		a.dispatcher.Close()
		a.tracer.Close()
	})
}

// Register records an interceptor's session bound to sender and announces
// it to subscribed windows
func (a *App) Register(opened protocol.SessionOpened, sender session.CommandSender) {
	a.sessions.Insert(opened.SessionID, session.Session{
		Sender:        sender,
		ControlSocket: opened.ControlSocket,
		Context:       opened.Context,
	})
	a.metrics.RecordHook(opened.Type().String())
	if n, ok := dispatch.Normalize(opened, a.clock.Now()); ok {
		a.dispatcher.Dispatch(n)
	}
}

// ApplyHook folds a hook into the session it belongs to, fans it out to
// windows and, for edit-buffer changes, starts a completion cycle. It
// returns false when the hook names a session that is not registered.
func (a *App) ApplyHook(h protocol.Hook) bool {
	now := a.clock.Now()
	if id := h.Session(); id != "" {
		found := a.sessions.WithMut(id, func(s *session.Session) { foldHook(s, h) })
		if !found {
			return false
		}
		a.usage.Observe(id, now, dispatch.ActivityEvent)
	}
	a.metrics.RecordHook(h.Type().String())

	if pe, ok := h.(protocol.PreExec); ok {
		a.coordinator.History().Add(pe.Command)
	}
	if n, ok := dispatch.Normalize(h, now); ok {
		a.dispatcher.Dispatch(n)
	}
	if eb, ok := h.(protocol.EditBufferChanged); ok {
		a.suggest(eb)
	}
	return true
}

// SendCommand routes cmd to the session id, or to the most recent session
// when id is empty
func (a *App) SendCommand(ctx context.Context, id string, cmd protocol.Command) error {
	s, ok := a.sessions.Resolve(id)
	if !ok || s.Sender == nil {
		return ErrSessionNotFound
	}
	if err := s.Sender.SendCommand(ctx, cmd); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", cmd.Type(), s.ID, err)
	}

	a.sessions.WithMut(s.ID, func(s *session.Session) { foldCommand(s, cmd) })
	if _, ok := cmd.(protocol.InsertText); ok {
		a.usage.Observe(s.ID, a.clock.Now(), dispatch.ActivityInsertion)
	}
	return nil
}

// SessionInfos lists the registry for clients, most recent first
func (a *App) SessionInfos() []protocol.SessionInfo {
	recent, _ := a.sessions.MostRecentID()
	list := a.sessions.List()
	infos := make([]protocol.SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info(s.ID == recent))
	}
	return infos
}

func (a *App) suggest(h protocol.EditBufferChanged) {
	ev := completion.BufferEvent{
		SessionID: h.SessionID,
		Text:      h.Text,
		Cursor:    h.Cursor,
		Context:   h.Context,
	}
	cycle := a.coordinator.Begin(ev)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		cycle.Handle(a.ctx, a.deliverSuggestion)
	}()
}

// deliverSuggestion publishes s unless the user already typed past it
func (a *App) deliverSuggestion(_ context.Context, s completion.Suggestion) error {
	current, ok := a.sessions.Get(s.SessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if current.Buffer.Text != s.Buffer {
		return errStaleBuffer
	}
	now := a.clock.Now()
	a.dispatcher.Dispatch(dispatch.SuggestionNotification(s.SessionID, s.Buffer, s.Suffix, now))
	a.usage.Observe(s.SessionID, now, dispatch.ActivityPopup)
	return nil
}

func (a *App) sessionRemoved(s session.Session, reason session.RemoveReason) {
	a.coordinator.Forget(s.ID)
	a.usage.Flush(s)
	a.dispatcher.Dispatch(dispatch.ClosedNotification(s.ID, string(reason), a.clock.Now()))
}

// foldHook applies what a hook says about the shell to its session
func foldHook(s *session.Session, h protocol.Hook) {
	switch h := h.(type) {
	case protocol.EditBufferChanged:
		s.Buffer = session.EditBuffer{Text: h.Text, Cursor: h.Cursor}
		mergeContext(s, h.Context)
	case protocol.PromptReturned:
		s.Buffer = session.EditBuffer{}
		mergeContext(s, h.Context)
	case protocol.PreExec:
		s.Buffer = session.EditBuffer{}
		mergeContext(s, h.Context)
	}
}

func mergeContext(s *session.Session, ctx *protocol.ShellContext) {
	if ctx != nil {
		c := *ctx
		s.Context = &c
	}
}

// foldCommand mirrors a routed command in the host's view of the session
func foldCommand(s *session.Session, cmd protocol.Command) {
	switch c := cmd.(type) {
	case protocol.SetIntercept:
		s.Intercept = uniqueChars(c.Chars)
	case protocol.AddIntercept:
		s.Intercept = uniqueChars(s.Intercept + c.Chars)
	case protocol.RemoveIntercept:
		s.Intercept = strings.Map(func(r rune) rune {
			if strings.ContainsRune(c.Chars, r) {
				return -1
			}
			return r
		}, s.Intercept)
	case protocol.ClearIntercept:
		s.Intercept = ""
	case protocol.SetBuffer:
		s.Buffer = session.EditBuffer{Text: c.Text, Cursor: c.Cursor}
	}
}

func uniqueChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !strings.ContainsRune(b.String(), r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
