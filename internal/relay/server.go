// Package relay is the internet-facing capture queue. Clients without a
// path to the local machine submit captures here with a bearer key; the
// local pull client lists and acknowledges them with an admin key.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sieve/internal/auth"
	"sieve/internal/config"
	"sieve/internal/logging"
	"sieve/internal/metrics"
	"sieve/internal/middleware"
	"sieve/internal/store"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
)

const (
	// maxBodyBytes leaves room for the largest image plus content and JSON overhead
	maxBodyBytes = 12 << 20

	defaultPendingLimit = 100
	maxPendingLimit     = 500

	housekeepingInterval = 10 * time.Minute
)

// Server holds the relay's dependencies and routes
type Server struct {
	cfg    config.RelayConfig
	store  store.DataStore
	auth   *auth.Authenticator
	logger *logging.Logger
	engine *gin.Engine
}

// NewServer builds the gin engine for the relay API
func NewServer(cfg config.RelayConfig, s store.DataStore, a *auth.Authenticator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	srv := &Server{cfg: cfg, store: s, auth: a, logger: logger}
	srv.engine = srv.routes()
	return srv
}

// Handler returns the HTTP handler, for tests and embedding
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
		metrics.Gin("relay"),
		cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{http.MethodGet, http.MethodPost},
			AllowHeaders:    []string{"Authorization", "Content-Type"},
			MaxAge:          12 * time.Hour,
		}),
		middleware.BodyLimit(maxBodyBytes),
	)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	r.GET("/health", s.handleHealth)

	authed := r.Group("/")
	if s.cfg.PreAuthRPS > 0 {
		authed.Use(middleware.NewIPRateLimiter(s.cfg.PreAuthRPS, s.cfg.PreAuthBurst).Handler())
	}
	authed.Use(auth.RequireKey(s.auth, s.logger))
	authed.POST("/capture", s.handleCapture)

	admin := authed.Group("/", auth.RequireAdmin())
	admin.GET("/captures/pending", s.handlePending)
	admin.POST("/captures/:id/ack", s.handleAck)
	admin.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. Expired
// rate limit rows are pruned and the pending gauge refreshed while it runs.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	scheduler, err := s.startHousekeeping(ctx)
	if err != nil {
		return err
	}
	defer scheduler.Shutdown()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("relay server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("relay shutdown: %w", err)
	}
	s.logger.Info("relay stopped")
	return nil
}

func (s *Server) startHousekeeping(ctx context.Context) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(housekeepingInterval),
		gocron.NewTask(func() { s.housekeep(ctx) }),
		gocron.WithName("relay_housekeeping"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule housekeeping job: %w", err)
	}

	scheduler.Start()
	return scheduler, nil
}

// housekeep prunes expired rate limit rows and refreshes the pending gauge
func (s *Server) housekeep(ctx context.Context) {
	n, err := s.store.PruneRateLimitLog(ctx, auth.RateWindow)
	if err != nil {
		s.logger.WithContext("error", err.Error()).Error("failed to prune rate limit log")
	} else if n > 0 {
		s.logger.WithContext("count", n).Debug("pruned rate limit log")
	}
	if pending, err := s.store.CountPending(ctx); err == nil {
		metrics.RelayPending.Set(float64(pending))
	}
}
