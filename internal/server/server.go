// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"sync/atomic"
	"syscall"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/arlobry/doorcode/internal/admin"
	"github.com/arlobry/doorcode/internal/blocklist"
	"github.com/arlobry/doorcode/internal/config"
	"github.com/arlobry/doorcode/internal/decision"
	"github.com/arlobry/doorcode/internal/guard"
	"github.com/arlobry/doorcode/internal/logging"
	"github.com/arlobry/doorcode/internal/metrics"
	"github.com/arlobry/doorcode/internal/optout"
	"github.com/arlobry/doorcode/internal/phone"
	"github.com/arlobry/doorcode/internal/ratelimit"
	"github.com/arlobry/doorcode/internal/security"
	"github.com/arlobry/doorcode/internal/store"
	"github.com/arlobry/doorcode/internal/throttle"
	"github.com/arlobry/doorcode/internal/webhook"
	"github.com/arlobry/doorcode/internal/whitelist"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       store.Store
	redis       *store.RedisStore // nil if using in-memory
	pipeline    *decision.Pipeline
	guard       *guard.Guard
	whitelist   *whitelist.List
	blocks      *blocklist.List
	optouts     *optout.Ledger
	throttle    *throttle.Ledger
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore sets a custom store (for testing)
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.Env),
	}

	// Apply options first (may set store/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Redis if REDIS_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.RedisURL != "" {
			rs, err := store.NewRedis(cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open redis: %w", err)
			}
			if err := rs.Ping(context.Background()); err != nil {
				return nil, fmt.Errorf("failed to connect to redis: %w", err)
			}
			s.redis = rs
			s.store = rs
			s.logger.Info("using Redis storage", "url", maskDSN(cfg.RedisURL))
		} else {
			s.store = store.NewMemory()
			s.logger.Warn("using in-memory storage (counters and opt-outs will not survive a restart)")
		}
	}

	validator, err := phone.NewValidator(cfg.PhonePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid PHONE_PATTERN: %w", err)
	}
	urlPattern, err := regexp.Compile(cfg.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid URL_PATTERN: %w", err)
	}

	s.whitelist = whitelist.New(s.store)
	s.optouts = optout.New(s.store, 0)
	s.blocks = blocklist.New(s.store)

	s.throttle = throttle.New(s.store, throttle.Config{
		Cooldown:       cfg.Cooldown(),
		SenderDailyCap: cfg.SenderDailyCap,
		GlobalDailyCap: cfg.GlobalDailyCap,
		Location:       cfg.Location(),
	})

	s.guard = guard.New(s.store, s.blocks, guard.Config{
		Validator:        validator,
		BurstWindow:      cfg.BurstWindow(),
		BurstLimit:       cfg.BurstLimit,
		FloodWindow:      cfg.FloodWindow(),
		FloodThreshold:   cfg.FloodThreshold,
		DefenseDuration:  cfg.DefenseDuration(),
		MaxBodyLength:    cfg.MaxBodyLength,
		URLPattern:       urlPattern,
		SuspectThreshold: cfg.SuspectThreshold,
		Location:         cfg.Location(),
		Throttle:         s.throttle,
	}, s.logger)

	s.pipeline = decision.New(decision.Options{
		SecretText:                  cfg.SecretText,
		HelpText:                    cfg.HelpText,
		FallbackText:                cfg.FallbackText,
		GateKeyword:                 cfg.GateKeyword,
		RejoinByKeyword:             cfg.RejoinByKeyword,
		GlobalCapAppliesToWhitelist: cfg.GlobalCapIncludesWhitelist,
	}, s.optouts, s.whitelist, s.guard, s.throttle, s.logger)

	if cfg.WebhookAuthToken == "" {
		s.logger.Warn("webhook signature verification disabled (WEBHOOK_AUTH_TOKEN not set)")
	}
	if cfg.AdminSecret == "" {
		s.logger.Warn("admin API disabled (ADMIN_SECRET not set)")
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatus(http.StatusInternalServerError)
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// Request size limit
	s.router.Use(security.RequestSizeMiddleware(security.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Inbound SMS webhook
	webhookHandler := webhook.NewHandler(s.pipeline, s.cfg.WebhookAuthToken, s.cfg.PublicURL, s.logger)
	webhookHandler.RegisterRoutes(s.router)

	// Admin API. The unblock path also resets throttle and suspicious-
	// content counters so a reinstated sender isn't immediately
	// re-throttled or re-blocked.
	adminHandler := admin.NewHandler(s.whitelist, s.blocks, s.optouts, s.logger, s.throttle, s.guard)
	adminHandler.RegisterRoutes(s.router, s.cfg.AdminSecret)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx); err != nil {
			checks["store"] = "unhealthy"
		} else {
			checks["store"] = "healthy"
		}
	} else {
		checks["store"] = "healthy" // in-memory
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Close the store connection
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		} else {
			s.logger.Info("redis connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
