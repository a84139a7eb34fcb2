package host

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/id"
)

// Window message types
const (
	msgSubscribe    = "subscribe"
	msgUnsubscribe  = "unsubscribe"
	msgPing         = "ping"
	msgHello        = "hello"
	msgNotification = "notification"
	msgPong         = "pong"
	msgError        = "error"
)

// WindowMessage is what an out-of-process window sends
type WindowMessage struct {
	Type      string        `json:"type"`
	Kind      dispatch.Kind `json:"kind,omitempty"`
	MessageID string        `json:"message_id,omitempty"`
}

// WindowEvent is what an out-of-process window receives
type WindowEvent struct {
	Type         string                 `json:"type"`
	Window       string                 `json:"window,omitempty"`
	MessageID    string                 `json:"message_id,omitempty"`
	Notification *dispatch.Notification `json:"notification,omitempty"`
	Message      string                 `json:"message,omitempty"`
}

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Loopback only
	},
}

// WindowBridge attaches websocket clients to the in-process bus. Each
// connection is one window with its own subscriptions.
type WindowBridge struct {
	app *App
	log *logging.Logger
}

// NewWindowBridge creates a bridge for app
func NewWindowBridge(app *App) *WindowBridge {
	return &WindowBridge{app: app, log: app.log.Component("windows")}
}

// HandleConnection handles WebSocket upgrade and messages
func (b *WindowBridge) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	window := id.NewWindowID().String()
	events := b.app.bus.Open(window)
	b.app.metrics.IncWSConnections()
	b.log.Info("Window connected", zap.String("window", window))

	var writeMu sync.Mutex
	send := func(ev WindowEvent) error {
		body, err := sonic.Marshal(ev)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, body)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Keep draining after a write failure so the dispatcher never
		// blocks on this window
		for env := range events {
			n := env.Notification
			send(WindowEvent{Type: msgNotification, Window: env.Window, MessageID: env.MessageID, Notification: &n})
		}
	}()

	defer func() {
		b.app.dispatcher.CloseWindow(window)
		b.app.bus.Close(window)
		<-done
		b.app.metrics.DecWSConnections()
		b.log.Info("Window disconnected", zap.String("window", window))
	}()

	if err := send(WindowEvent{Type: msgHello, Window: window}); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg WindowMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			send(WindowEvent{Type: msgError, Message: "invalid message"})
			continue
		}
		b.handle(window, msg, send)
	}
}

func (b *WindowBridge) handle(window string, msg WindowMessage, send func(WindowEvent) error) {
	subs := b.app.dispatcher.Subscriptions()
	switch msg.Type {
	case msgSubscribe:
		if !msg.Kind.Valid() {
			send(WindowEvent{Type: msgError, Message: "unknown kind " + string(msg.Kind)})
			return
		}
		subs.Subscribe(window, msg.Kind, msg.MessageID)
	case msgUnsubscribe:
		subs.Unsubscribe(window, msg.Kind)
	case msgPing:
		send(WindowEvent{Type: msgPong})
	default:
		send(WindowEvent{Type: msgError, Message: "unknown message type"})
	}
}
