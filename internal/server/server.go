// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
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

	"github.com/gametrust/gametrust/internal/clock"
	"github.com/gametrust/gametrust/internal/config"
	"github.com/gametrust/gametrust/internal/logging"
	"github.com/gametrust/gametrust/internal/metrics"
	"github.com/gametrust/gametrust/internal/negotiation"
	"github.com/gametrust/gametrust/internal/notify"
	"github.com/gametrust/gametrust/internal/payment"
	"github.com/gametrust/gametrust/internal/realtime"
	"github.com/gametrust/gametrust/internal/traces"
	"github.com/gametrust/gametrust/internal/transaction"
	"github.com/gametrust/gametrust/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	txnService     *transaction.Service
	txnStore       transaction.Store
	txnTimer       *transaction.Timer
	notifier       notify.Notifier
	realtimeHub    *realtime.Hub
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.tracesShutdown = shutdown

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var messageStore negotiation.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.txnStore = transaction.NewPostgresStore(db)
		messageStore = negotiation.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.txnStore = transaction.NewMemoryStore()
		messageStore = negotiation.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Payment provider (Stripe in production, mock in demo mode)
	var payments payment.Provider
	if cfg.StripeSecretKey != "" {
		payments = payment.NewStripeProvider(cfg.StripeSecretKey)
		s.logger.Info("stripe payments enabled")
	} else {
		payments = payment.NewMockProvider()
		s.logger.Info("mock payments enabled (no STRIPE_SECRET_KEY)")
	}

	// Notification collaborator (webhook receiver or plain logging)
	if cfg.WebhookURL != "" {
		s.notifier = notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, s.logger)
		s.logger.Info("webhook notifications enabled", "url", cfg.WebhookURL)
	} else {
		s.notifier = notify.NewLogNotifier(s.logger)
		s.logger.Info("log notifications enabled (no WEBHOOK_URL)")
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Transaction workflow
	s.txnService = transaction.NewService(s.txnStore, messageStore, clock.System{}).
		WithPayments(payments).
		WithEvents(&eventFanout{hub: s.realtimeHub, notifier: s.notifier}).
		WithLogger(s.logger).
		WithSafePeriodHours(cfg.SafePeriodHours).
		WithProtectionPlan(cfg.ProtectionDays, cfg.ProtectionPrice)
	s.txnTimer = transaction.NewTimer(s.txnService, s.txnStore, clock.System{}, cfg.SweepInterval, s.logger)

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
// Event fanout
// -----------------------------------------------------------------------------

// eventFanout delivers committed lifecycle events to the realtime hub and,
// per recipient, to the notification collaborator. Delivery runs off the
// request path; failures never reverse a committed transition.
type eventFanout struct {
	hub      *realtime.Hub
	notifier notify.Notifier
}

func (f *eventFanout) Publish(ctx context.Context, event transaction.Event) {
	f.hub.Broadcast(&realtime.Event{
		Type:          string(event.Type),
		TransactionID: event.TransactionID,
		State:         string(event.State),
		Timestamp:     event.At,
		Data:          event.Data,
	})

	payload := notify.Event{
		ID:            event.ID,
		Type:          string(event.Type),
		TransactionID: event.TransactionID,
		ListingID:     event.ListingID,
		State:         string(event.State),
		Amount:        event.Amount,
		Actor:         event.Actor,
		At:            event.At,
		Data:          event.Data,
	}
	for _, userID := range event.Recipients {
		go f.notifier.Notify(context.WithoutCancel(ctx), userID, payload)
	}
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
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Tracing
	s.router.Use(s.tracingMiddleware())

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

func (s *Server) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := traces.StartSpan(c.Request.Context(),
			c.Request.Method+" "+c.FullPath(),
			traces.TransactionID(c.Param("id")),
		)
		defer span.End()

		c.Request = c.Request.WithContext(ctx)
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

// actorMiddleware reads the caller identity forwarded by the marketplace
// gateway. Identity issuance and session handling live outside this service.
func (s *Server) actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader("X-Actor-Id"); id != "" {
			c.Set("actorId", id)
		}
		if role := c.GetHeader("X-Actor-Role"); role != "" {
			c.Set("actorRole", role)
		}
		c.Next()
	}
}

// requireAdmin guards admin-only routes. In development mode with no secret
// configured, any caller with the admin role passes.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("actorRole") != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "Admin role required",
			})
			return
		}
		if s.cfg.AdminSecret != "" {
			secret := c.GetHeader("X-Admin-Secret")
			if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.AdminSecret)) != 1 {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "unauthorized",
					"message": "Invalid admin secret",
				})
				return
			}
		}
		c.Next()
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

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	txnHandler := transaction.NewHandler(s.txnService)

	v1 := s.router.Group("/v1")
	v1.Use(s.actorMiddleware())
	txnHandler.RegisterRoutes(v1)

	admin := v1.Group("")
	admin.Use(s.requireAdmin())
	txnHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !s.healthy.Load() {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"sweeper": s.txnTimer.Running(),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start deadline sweeper
	go s.txnTimer.Start(runCtx)

	// Start DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

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

	// Cancel the context for all background goroutines (hub, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.txnTimer.Stop()
	s.logger.Info("deadline sweeper stopped")

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Warn("failed to shut down tracing", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("failed to close database", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the configured routes for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
