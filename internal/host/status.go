package host

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/tracing"
)

// StatusServer exposes health, metrics, the session list and the window
// websocket over HTTP
type StatusServer struct {
	app     *App
	addr    string
	router  *gin.Engine
	windows *WindowBridge
	log     *logging.Logger
}

// NewStatusServer builds the router
func NewStatusServer(app *App, addr string, rl config.RateLimitConfig, development bool) *StatusServer {
	if !development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(app.metrics))
	router.Use(tracing.HTTPMiddleware(app.tracer))
	router.Use(cors.New(corsConfig()))
	if rl.Enabled {
		router.Use(globalRateLimit(rl.RequestsPerSecond, rl.Burst))
	}

	s := &StatusServer{
		app:     app,
		addr:    addr,
		router:  router,
		windows: NewWindowBridge(app),
		log:     app.log.Component("status"),
	}

	router.GET("/health", s.health)
	router.GET("/status", s.status)
	router.GET("/sessions", s.sessions)
	router.GET("/metrics", gin.WrapH(app.metrics.Handler()))
	router.GET("/windows/ws", s.windows.HandleConnection)

	return s
}

// Handler returns the router
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down gracefully
func (s *StatusServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting status server", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Status server shutdown failed", zap.Error(err))
		return err
	}
	s.log.Info("Status server stopped")
	return nil
}

func (s *StatusServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": s.app.sessions.Len(),
		"windows":  len(s.app.dispatcher.Subscriptions().Windows()),
	})
}

func (s *StatusServer) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.app.metrics.Snapshot())
}

func (s *StatusServer) sessions(c *gin.Context) {
	body, err := sonic.Marshal(s.app.SessionInfos())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}
