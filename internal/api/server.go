// Package api is the local dashboard server: capture endpoints for the
// browser extension, capsule management, live pipeline events over a
// websocket and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sieve/internal/capsule"
	"sieve/internal/config"
	"sieve/internal/logging"
	"sieve/internal/metrics"
	"sieve/internal/middleware"
	"sieve/internal/processor"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Version is reported by /api/health
const Version = "0.1.0"

// maxBodyBytes fits a base64 screenshot plus page text
const maxBodyBytes = 16 << 20

// CaptureProcessor turns a browser capture into a capsule
type CaptureProcessor interface {
	ProcessBrowserCapture(ctx context.Context, bc processor.BrowserCapture) (*processor.Result, error)
}

// Indexer rebuilds INDEX.md
type Indexer interface {
	Regenerate() error
}

// Server holds dependencies and provides HTTP handlers
type Server struct {
	cfg       *config.Config
	processor CaptureProcessor
	writer    *capsule.Writer
	indexer   Indexer
	wsHub     *WebSocketHub
	origins   *OriginPolicy
	logger    *logging.Logger
	engine    *gin.Engine

	// background capture work outlives the request
	baseCtx    context.Context
	cancelBase context.CancelFunc
	background sync.WaitGroup
}

// NewServer creates the dashboard server and starts its websocket hub
func NewServer(cfg *config.Config, p CaptureProcessor, w *capsule.Writer, ix Indexer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		processor:  p,
		writer:     w,
		indexer:    ix,
		origins:    NewOriginPolicy(cfg.Dashboard.AllowedOrigins),
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
	s.wsHub = NewWebSocketHub(logger)
	go s.wsHub.Run(baseCtx)

	s.engine = s.routes()
	return s
}

// Hub returns the websocket hub; it implements processor.Notifier
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logger(s.logger),
		middleware.Recovery(s.logger),
		middleware.SecurityHeaders(),
		metrics.Gin("dashboard"),
		cors.New(cors.Config{
			AllowOriginFunc: s.origins.Allowed,
			AllowMethods:    []string{http.MethodGet, http.MethodPost},
			AllowHeaders:    []string{"Content-Type"},
			MaxAge:          12 * time.Hour,
		}),
		s.origins.Guard(),
		middleware.BodyLimit(maxBodyBytes),
	)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/capture", s.handleCapture)
	api.POST("/capture/async", s.handleCaptureAsync)

	api.GET("/capsules", s.handleListCapsules)
	api.GET("/capsules/:filename", s.handleGetCapsule)
	api.POST("/capsules/:filename/pin", s.handleTogglePin)
	api.POST("/capsules/:filename/cull", s.handleCull)
	api.POST("/capsules/:filename/edit", s.handleEdit)

	r.GET("/ws", s.handleWebSocket)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

// Run serves until ctx is cancelled, then stops accepting connections and
// waits up to grace for in-flight background captures.
func (s *Server) Run(ctx context.Context, grace time.Duration) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening on http://%s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.Close(0)
		return fmt.Errorf("dashboard server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithContext("error", err.Error()).Warn("dashboard shutdown incomplete")
	}
	s.Close(grace)
	return nil
}

// Close waits up to grace for background captures, then cancels them and
// stops the websocket hub.
func (s *Server) Close(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		s.logger.Warn("background captures still running at shutdown, cancelling")
	}
	s.cancelBase()
}
