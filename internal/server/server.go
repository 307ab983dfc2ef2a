// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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
	"github.com/workstreet/jobledger/internal/auth"
	"github.com/workstreet/jobledger/internal/config"
	"github.com/workstreet/jobledger/internal/dispute"
	"github.com/workstreet/jobledger/internal/health"
	"github.com/workstreet/jobledger/internal/idgen"
	"github.com/workstreet/jobledger/internal/job"
	"github.com/workstreet/jobledger/internal/logging"
	"github.com/workstreet/jobledger/internal/metrics"
	"github.com/workstreet/jobledger/internal/payout"
	"github.com/workstreet/jobledger/internal/ratelimit"
	"github.com/workstreet/jobledger/internal/realtime"
	"github.com/workstreet/jobledger/internal/security"
	"github.com/workstreet/jobledger/internal/stripepay"
	"github.com/workstreet/jobledger/internal/traces"
	"github.com/workstreet/jobledger/internal/validation"
	"github.com/workstreet/jobledger/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	provider     payout.Provider
	authMgr      *auth.Manager
	jobs         *job.Service
	releaser     *payout.Releaser
	disputes     *dispute.Service
	runner       *dispute.Runner
	slaTimer     *dispute.Timer
	dispatcher   *webhooks.Dispatcher
	webhookStore webhooks.Store
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	health       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc          // cancels background goroutines started in Run
	tracesDown   func(context.Context) error // flushes the trace exporter on shutdown

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

// WithProvider sets a custom payment provider (for testing)
func WithProvider(p payout.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set provider/logger)
	for _, opt := range opts {
		opt(s)
	}

	var (
		jobStore     job.Store
		payoutStore  payout.Store
		disputeStore dispute.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		jobStore = job.NewPostgresStore(db)
		payoutStore = payout.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		jobStore = job.NewMemoryStore()
		payoutStore = payout.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Payment provider: Stripe when configured, simulator otherwise
	if s.provider == nil {
		if cfg.StripeAPIKey != "" {
			s.provider = stripepay.New(cfg.StripeAPIKey, s.logger)
			s.logger.Info("stripe payments enabled", "platformAccount", cfg.PlatformAccount)
		} else {
			s.provider = stripepay.NewSimulator(s.logger)
			s.logger.Info("payment simulator enabled (no STRIPE_SECRET_KEY)")
		}
	}

	// Job lifecycle engine
	s.jobs = job.NewService(jobStore, func() string { return idgen.WithPrefix("job_") })

	// Webhook delivery + event emitter
	s.dispatcher = webhooks.NewDispatcher(s.webhookStore, cfg.WebhookSecret)
	emitter := webhooks.NewEmitter(s.dispatcher, s.jobs, s.logger)

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Job, release, and dispute notifications fan out to webhooks and
	// sockets
	notify := &fanoutNotifier{emitter: emitter, hub: s.realtimeHub}
	s.jobs.SetNotifier(notify)

	// Financial engine
	s.releaser = payout.NewReleaser(s.jobs, payoutStore, s.provider, notify, cfg.LockWaitTimeout, s.logger)
	s.logger.Info("fund release engine enabled", "lockWait", cfg.LockWaitTimeout)

	// Dispute lifecycle, enforcement runner, SLA monitor
	s.disputes = dispute.NewService(disputeStore, s.jobs, notify, cfg.SLAResponseWindow, s.logger)
	s.runner = dispute.NewRunner(disputeStore, s.jobs, s.releaser, s.provider, notify, s.logger)
	s.slaTimer = dispute.NewTimer(s.disputes, cfg.MonitorInterval, cfg.MonitorBatchSize, s.logger)
	s.logger.Info("dispute enforcement enabled",
		"slaWindow", cfg.SLAResponseWindow,
		"monitorInterval", cfg.MonitorInterval,
		"monitorBatch", cfg.MonitorBatchSize,
	)

	// Health checkers
	s.health = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.health.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.health.Register("database", func(ctx context.Context) health.Status {
			return health.Status{Name: "database", Healthy: true, Detail: "in-memory"}
		})
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
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(rlCfg)
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

	// WebSocket for real-time lifecycle streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	jobHandler := job.NewHandler(s.jobs)
	payoutHandler := payout.NewHandler(s.releaser)
	disputeHandler := dispute.NewHandler(s.disputes, s.runner)
	webhookHandler := webhooks.NewHandler(s.webhookStore)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES (no auth required)
	v1.GET("/platform", s.platformHandler)
	jobHandler.RegisterRoutes(v1)

	// REGISTRATION (public but returns API key)
	v1.POST("/auth/keys", s.issueKeyHandler)

	// PROTECTED ROUTES (require API key)
	protected := v1.Group("")
	protected.Use(auth.RequireActor(s.authMgr))
	{
		jobHandler.RegisterProtectedRoutes(protected)
		payoutHandler.RegisterProtectedRoutes(protected)
		disputeHandler.RegisterProtectedRoutes(protected)
		webhookHandler.RegisterProtectedRoutes(protected)
	}

	// ADMIN ROUTES (arbitration and enforcement)
	admin := v1.Group("")
	admin.Use(auth.RequireActor(s.authMgr), auth.RequireRole(auth.RoleAdmin))
	{
		payoutHandler.RegisterAdminRoutes(admin)
		disputeHandler.RegisterAdminRoutes(admin)
	}
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
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.health.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		detail := "healthy"
		if !st.Healthy {
			detail = "unhealthy"
		}
		if st.Detail != "" {
			detail = st.Detail
		}
		checks[st.Name] = detail
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Jobledger",
		"description": "Job and financial lifecycle engine",
		"version":     "0.1.0",
	})
}

// platformHandler returns platform info and entry points
func (s *Server) platformHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"platform": gin.H{
			"name":    "Jobledger",
			"version": "0.1.0",
			"env":     s.cfg.Env,
		},
		"instructions": gin.H{
			"register": "POST /v1/auth/keys with userId and role to obtain an API key",
			"jobs":     "POST /v1/jobs to create a job, then /accept, /complete, /approve/customer, /approve/router",
			"release":  "POST /v1/jobs/{id}/release-funds once all three approvals are recorded",
			"disputes": "POST /v1/disputes to freeze a job pending arbitration",
		},
		"realtime": s.realtimeHub.Stats(),
	})
}

// issueKeyRequest registers a user and returns their API key.
type issueKeyRequest struct {
	UserID string `json:"userId" binding:"required"`
	Role   string `json:"role" binding:"required"`
	Name   string `json:"name"`
}

// issueKeyHandler handles POST /v1/auth/keys. Admin keys require the
// configured admin secret; other roles are open registration.
func (s *Server) issueKeyHandler(c *gin.Context) {
	var req issueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	role := auth.Role(req.Role)
	switch role {
	case auth.RoleCustomer, auth.RoleContractor, auth.RoleRouter:
	case auth.RoleAdmin:
		if s.cfg.AdminSecret == "" || c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin key issuance requires the admin secret",
			})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_role",
			"message": "Role must be customer, contractor, router, or admin",
		})
		return
	}

	raw, key, err := s.authMgr.IssueKey(c.Request.Context(), req.UserID, role, req.Name)
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to issue api key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_error",
			"message": "Failed to issue API key",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"apiKey":  raw, // shown once
		"keyId":   key.ID,
		"userId":  key.UserID,
		"role":    key.Role,
		"warning": "Store this key securely. It cannot be retrieved again.",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Trace exporter (no-op when OTLP endpoint is unset)
	if shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger); err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesDown = shutdown
	}

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
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	if s.realtimeHub != nil {
		go s.realtimeHub.Run(runCtx)
	}

	// Start SLA breach monitor
	if s.slaTimer != nil {
		go s.slaTimer.Start(runCtx)
	}

	// Sample connection pool stats for Prometheus
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
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

	// Cancel the context for all background goroutines (hub, monitor)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop SLA monitor
	if s.slaTimer != nil {
		s.slaTimer.Stop()
		s.logger.Info("sla monitor stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.tracesDown != nil {
		if err := s.tracesDown(ctx); err != nil {
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
	return idgen.New()
}
