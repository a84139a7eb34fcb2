package interceptor

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
)

// serveControl accepts control connections until ctx ends and removes the
// socket file afterwards
func (i *Interceptor) serveControl(ctx context.Context, ln net.Listener) error {
	log := i.log.Component("control")
	path := ln.Addr().String()
	defer os.Remove(path)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return &protocol.IOError{Op: "accept", Err: err}
		}

		conn := protocol.NewConn(c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			i.handleControl(ctx, conn, log)
		}()
	}
}

func (i *Interceptor) handleControl(ctx context.Context, conn *protocol.Conn, log *logging.Logger) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		env, err := conn.Receive()
		if err != nil {
			log.Debug("Control connection failed", zap.Error(err))
			return
		}
		if env == nil {
			return
		}
		i.metrics.RecordFrame("in", env.Message.Type().Category().String())

		switch msg := env.Message.(type) {
		case protocol.Command:
			if err := i.Apply(ctx, msg); err != nil {
				log.Debug("Control command failed", zap.Stringer("type", msg.Type()), zap.Error(err))
			}
		case protocol.Request:
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := i.Respond(ctx, msg)
				if err := conn.Reply(ctx, env, resp); err != nil {
					log.Debug("Failed to reply", zap.Error(err))
					return
				}
				i.metrics.RecordFrame("out", protocol.CategoryResponse.String())
			}()
		default:
			log.Debug("Ignoring control message", zap.Stringer("type", msg.Type()))
		}
	}
}

// Respond serves one control socket request
func (i *Interceptor) Respond(ctx context.Context, req protocol.Request) protocol.Response {
	switch r := req.(type) {
	case protocol.RunProcess:
		return runProcess(ctx, r, i.state.Context().Cwd)
	case protocol.PtyExec:
		return ptyExec(ctx, r, i.opts.Shell, i.state.Context().Cwd)
	case protocol.SendCommand:
		if r.Command == nil {
			return protocol.Failure{Message: "missing command"}
		}
		if err := i.Apply(ctx, r.Command); err != nil {
			return protocol.Failure{Message: err.Error()}
		}
		return protocol.Ack{}
	case protocol.ListSessions:
		text, cursor, _ := i.state.Buffer()
		sc := i.state.Context()
		return protocol.SessionList{Sessions: []protocol.SessionInfo{{
			ID:            i.opts.SessionID,
			ControlSocket: i.opts.ControlSocket,
			Buffer:        text,
			Cursor:        cursor,
			Context:       &sc,
			MostRecent:    true,
		}}}
	default:
		return protocol.Failure{Message: "unsupported request " + req.Type().String()}
	}
}
