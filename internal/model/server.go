package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ethersentinel/sentinel/internal/config"
	"github.com/ethersentinel/sentinel/internal/logging"
	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// Server wraps the model API HTTP server.
type Server struct {
	cfg     *config.Config
	svc     *Service
	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger
}

// NewServer creates the model server. Model weights are loaded eagerly
// when the config names a path; a failed load leaves the server up and
// reporting model_loaded=false so it can be loaded later via the API.
func NewServer(cfg *config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.New(cfg.LogLevel, "json")
	}
	logger = logging.Component(logger, "modelserver")

	svc := NewService()
	if err := svc.Load(context.Background(), cfg.ModelPath); err != nil {
		logger.Warn("initial model load failed", "path", cfg.ModelPath, "error", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("panic recovered", "error", recovered, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}))
	router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	router.Use(metrics.Middleware())

	NewHandler(svc).RegisterRoutes(router)
	router.GET("/metrics", metrics.Handler())

	return &Server{
		cfg:    cfg,
		svc:    svc,
		router: router,
		logger: logger,
	}
}

// Service returns the scoring service, for tests.
func (s *Server) Service() *Service { return s.svc }

// Router returns the gin router, for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run starts the server and blocks until a shutdown signal or context
// cancellation.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.ModelPort,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting model server",
			"port", s.cfg.ModelPort,
			"model_loaded", s.svc.Loaded(),
			"device", s.svc.Device(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("model server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	s.logger.Info("model server stopped")
	return nil
}
