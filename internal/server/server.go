// Package server sets up the gateway HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ethersentinel/sentinel/internal/circuitbreaker"
	"github.com/ethersentinel/sentinel/internal/config"
	"github.com/ethersentinel/sentinel/internal/inference"
	"github.com/ethersentinel/sentinel/internal/logging"
	"github.com/ethersentinel/sentinel/internal/metrics"
	"github.com/ethersentinel/sentinel/internal/ratelimit"
	"github.com/ethersentinel/sentinel/internal/realtime"
	"github.com/ethersentinel/sentinel/internal/retry"
	"github.com/ethersentinel/sentinel/internal/risk"
	"github.com/ethersentinel/sentinel/internal/traces"
	"github.com/ethersentinel/sentinel/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the gateway HTTP server and its dependencies
type Server struct {
	cfg           *config.Config
	client        *inference.Client
	engine        *risk.Engine
	rules         *risk.Rules
	rulesStop     func()
	store         risk.Store
	hub           *realtime.Hub
	breaker       *circuitbreaker.Breaker
	rateLimiter   *ratelimit.Limiter
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	traceShutdown func(context.Context) error

	// Health state
	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClient sets a custom inference client (for testing)
func WithClient(c *inference.Client) Option {
	return func(s *Server) {
		s.client = c
	}
}

// WithStore sets a custom assessment store (for testing)
func WithStore(store risk.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new gateway server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set client/store/logger)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.Component(s.logger, "gateway")

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("open database: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("connect to database: %w", err)
			}
			pg := risk.NewPostgresStore(db)
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("migrate assessments: %w", err)
			}
			s.db = db
			s.store = pg
			s.logger.Info("using postgres assessment store", "dsn", maskDSN(cfg.DatabaseURL))
		} else {
			s.store = risk.NewMemoryStore()
			s.logger.Info("using in-memory assessment store")
		}
	}

	// Fallback rule engine, with optional curated lists
	s.engine = risk.NewEngine()
	if cfg.RulesPath != "" {
		rules, err := risk.NewRules(cfg.RulesPath)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		stop, err := rules.Watch()
		if err != nil {
			s.logger.Warn("rules hot-reload unavailable", "error", err)
		} else {
			s.rulesStop = stop
		}
		s.rules = rules
		s.engine.WithRules(rules)
		s.logger.Info("loaded known-address lists", "path", cfg.RulesPath, "entries", rules.Len())
	}

	// Resilient inference client
	if s.client == nil {
		s.breaker = circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerOpenDuration)
		s.breaker.OnTransition(func(endpoint string, from, to circuitbreaker.State) {
			s.logger.Warn("model circuit state changed",
				"endpoint", endpoint,
				"from", from.String(),
				"to", to.String(),
			)
		})

		dispatcher := inference.NewDispatcher(cfg.ModelServerURL, cfg.RequestTimeout)
		policy := retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelay}
		s.client = inference.NewClient(dispatcher, policy, s.engine, inference.WithBreaker(s.breaker))
	}

	// Realtime hub
	s.hub = realtime.NewHub(s.logger)

	// Tracing
	shutdown, err := traces.Init(ctx, "ethersentinel-gateway", cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{RequestsPerMinute: s.cfg.RateLimitRPM})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health and observability
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Realtime stream
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api")
	{
		api.POST("/analyze/address", s.analyzeAddress)
		api.POST("/analyze/transaction", s.analyzeTransaction)
		api.POST("/analyze/batch", s.analyzeBatch)
		api.GET("/model/health", s.modelHealthHandler)
		api.GET("/realtime/stats", s.realtimeStatsHandler)

		risk.NewHandler(s.store).RegisterRoutes(api)
	}
}

// recordAssessment persists and broadcasts a completed assessment.
// Best-effort: a storage failure is logged, never surfaced to the caller.
func (s *Server) recordAssessment(a *risk.Assessment) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Record(ctx, a); err != nil {
			s.logger.Error("failed to record assessment",
				"subject", a.Subject,
				"error", err,
			)
		}
	}()

	s.hub.BroadcastAssessment(a)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      2 * s.worstCaseLatency(),
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting gateway",
			"port", s.cfg.Port,
			"model_server", s.cfg.ModelServerURL,
			"max_retries", s.cfg.MaxRetries,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("gateway ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// worstCaseLatency bounds a single assess call: every attempt can take the
// full timeout, plus the delay between attempts.
func (s *Server) worstCaseLatency() time.Duration {
	return time.Duration(s.cfg.MaxRetries) * (s.cfg.RequestTimeout + s.cfg.RetryDelay)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Stop rules watcher
	if s.rulesStop != nil {
		s.rulesStop()
		s.logger.Info("rules watcher stopped")
	}

	// Flush traces
	if s.traceShutdown != nil {
		if err := s.traceShutdown(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("gateway stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}
