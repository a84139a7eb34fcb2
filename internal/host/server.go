package host

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/paths"
)

// ServerOptions configures a Server
type ServerOptions struct {
	// RequestTimeout bounds replies and forwarded requests beyond their own
	// process timeout
	RequestTimeout time.Duration
}

// Server accepts interceptor and CLI connections on the host socket
type Server struct {
	app     *App
	log     *logging.Logger
	timeout time.Duration

	wg    sync.WaitGroup
	mu    sync.Mutex
	conns map[*protocol.Conn]struct{} // Protected by mu
}

// NewServer creates a server serving app
func NewServer(app *App, opts ServerOptions) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Server{
		app:     app,
		log:     app.log.Component("server"),
		timeout: opts.RequestTimeout,
		conns:   make(map[*protocol.Conn]struct{}),
	}
}

// Serve runs one task per accepted connection until ctx ends. Closing ctx
// closes the listener and every open connection, then waits for their
// tasks.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		s.closeAll()
	})
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			s.closeAll()
			s.wg.Wait()
			if ctx.Err() != nil {
				s.log.Info("Host server stopped")
				return nil
			}
			return &protocol.IOError{Op: "accept", Err: err}
		}

		conn := protocol.NewConn(c)
		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) track(conn *protocol.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *protocol.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

// handle reads frames in order. Hooks are applied inline so a session's
// hooks reach the registry and the dispatcher in the order they were sent;
// requests are answered concurrently.
func (s *Server) handle(ctx context.Context, conn *protocol.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	sender := newConnSender(conn, s.timeout, s.app.metrics)
	var owned []string
	defer func() {
		for _, id := range owned {
			s.app.sessions.RemoveIf(id, func(sess session.Session) bool { return sess.Sender == sender })
		}
	}()

	register := func(opened protocol.SessionOpened) {
		s.app.Register(opened, sender)
		if !slices.Contains(owned, opened.SessionID) {
			owned = append(owned, opened.SessionID)
		}
	}

	for {
		env, err := conn.Receive()
		if err != nil {
			if ctx.Err() == nil {
				s.app.metrics.RecordFrameError(frameErrorKind(err))
				s.log.Warn("Connection failed", zap.String("peer", conn.RemoteAddr()), zap.Error(err))
			}
			return
		}
		if env == nil {
			s.log.Debug("Peer disconnected", zap.String("peer", conn.RemoteAddr()))
			return
		}
		s.app.metrics.RecordFrame("in", env.Message.Type().Category().String())

		switch m := env.Message.(type) {
		case protocol.SessionOpened:
			register(m)
		case protocol.Hook:
			if s.app.ApplyHook(m) || m.Session() == "" {
				continue
			}
			// Interceptors that outlived a host restart keep streaming hooks
			// without registering again
			register(protocol.SessionOpened{
				SessionID:     m.Session(),
				ControlSocket: paths.InterceptorSocket(m.Session()),
			})
			s.app.ApplyHook(m)
		case protocol.Request:
			s.wg.Add(1)
			go s.serveRequest(ctx, conn, env.ID, m)
		default:
			s.log.Debug("Ignoring unexpected frame", zap.Stringer("type", env.Message.Type()))
		}
	}
}

func (s *Server) serveRequest(ctx context.Context, conn *protocol.Conn, id string, req protocol.Request) {
	defer s.wg.Done()

	span, ctx := s.app.tracer.StartSpan(tracing.WithTrace(ctx, id), req.Type().String())
	resp := s.Respond(ctx, req)
	if failure, ok := resp.(protocol.Failure); ok {
		span.SetError(failure)
	}
	s.app.tracer.Submit(span)

	sendCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := conn.Send(sendCtx, protocol.Envelope{ID: id, Message: resp}); err != nil {
		s.log.Debug("Failed to reply", zap.Stringer("request", req.Type()), zap.Error(err))
		return
	}
	s.app.metrics.RecordFrame("out", protocol.CategoryResponse.String())
}

// Respond answers one client request
func (s *Server) Respond(ctx context.Context, req protocol.Request) protocol.Response {
	switch r := req.(type) {
	case protocol.ListSessions:
		return protocol.SessionList{Sessions: s.app.SessionInfos()}
	case protocol.SendCommand:
		if r.Command == nil {
			return protocol.Failure{Message: "missing command"}
		}
		if err := s.app.SendCommand(ctx, r.SessionID, r.Command); err != nil {
			return protocol.Failure{Message: err.Error()}
		}
		return protocol.Ack{}
	case protocol.RunProcess:
		return s.forward(ctx, r.SessionID, r, r.TimeoutMs)
	case protocol.PtyExec:
		return s.forward(ctx, r.SessionID, r, r.TimeoutMs)
	default:
		return protocol.Failure{Message: fmt.Sprintf("unsupported request %s", req.Type())}
	}
}

// forward relays a process request to the control socket of the target
// session and returns its answer
func (s *Server) forward(ctx context.Context, sessionID string, req protocol.Request, timeoutMs int64) protocol.Response {
	sess, ok := s.app.sessions.Resolve(sessionID)
	if !ok {
		return protocol.Failure{Message: ErrSessionNotFound.Error()}
	}
	if sess.ControlSocket == "" {
		return protocol.Failure{Message: "session has no control socket"}
	}

	span, ctx := s.app.tracer.StartSpan(ctx, "forward")
	span.SetTag("session_id", sess.ID)
	defer s.app.tracer.Submit(span)

	wait := s.timeout
	if timeoutMs > 0 {
		wait += time.Duration(timeoutMs) * time.Millisecond
	}

	dialCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	conn, err := protocol.Dial(dialCtx, sess.ControlSocket)
	if err != nil {
		return protocol.Failure{Message: fmt.Sprintf("control socket unreachable: %v", err)}
	}
	defer conn.Close()

	resp, err := conn.Request(ctx, req, wait)
	if err != nil {
		span.SetError(err)
		s.log.Warn("Forwarded request failed",
			zap.String("session_id", sess.ID),
			zap.Stringer("request", req.Type()),
			zap.Error(err))
		return protocol.Failure{Message: err.Error()}
	}
	return resp
}

func frameErrorKind(err error) string {
	var decodeErr *protocol.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		return "decode"
	case errors.Is(err, protocol.ErrConnectionReset):
		return "reset"
	default:
		return "io"
	}
}
