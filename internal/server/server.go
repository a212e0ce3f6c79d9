// Package server wires the HTTP API together: stores, services,
// middleware, routes, and lifecycle.
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

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/leadpilot/leadpilot/internal/admin"
	"github.com/leadpilot/leadpilot/internal/auth"
	"github.com/leadpilot/leadpilot/internal/billing"
	"github.com/leadpilot/leadpilot/internal/config"
	"github.com/leadpilot/leadpilot/internal/contacts"
	"github.com/leadpilot/leadpilot/internal/credits"
	"github.com/leadpilot/leadpilot/internal/enrich"
	"github.com/leadpilot/leadpilot/internal/logging"
	"github.com/leadpilot/leadpilot/internal/metrics"
	"github.com/leadpilot/leadpilot/internal/persona"
	"github.com/leadpilot/leadpilot/internal/plans"
	"github.com/leadpilot/leadpilot/internal/ratelimit"
	"github.com/leadpilot/leadpilot/internal/traces"
	"github.com/leadpilot/leadpilot/internal/users"
)

// Server wraps the HTTP server and all its dependencies.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db            *sql.DB // nil when using in-memory stores
	users         users.Store
	plans         plans.Store
	ledger        *credits.Ledger
	contacts      contacts.Store
	cache         enrich.Cache
	personas      persona.Store
	tokens        *auth.TokenManager
	authService   *auth.Service
	billing       *billing.Service
	reconciler    *billing.Reconciler
	webhookVf     billing.WebhookVerifier
	renewalTimer  *billing.Timer
	enrichService *enrich.Service
	generator     persona.Generator
	rateLimiter   *ratelimit.Limiter

	oauthExchanges []oauthExchange

	router       *gin.Engine
	httpSrv      *http.Server
	cancelRunCtx context.CancelFunc
	closeTraces  func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithOAuthExchange registers a code-for-profile exchange for an OAuth
// provider. Registered after the auth service is built, in New.
func WithOAuthExchange(provider users.AuthProvider, fn auth.ExchangeFunc) Option {
	return func(s *Server) {
		s.oauthExchanges = append(s.oauthExchanges, oauthExchange{provider, fn})
	}
}

// WithPersonaGenerator plugs in the persona generation collaborator.
func WithPersonaGenerator(g persona.Generator) Option {
	return func(s *Server) { s.generator = g }
}

type oauthExchange struct {
	provider users.AuthProvider
	fn       auth.ExchangeFunc
}

// New builds a fully wired server. Postgres is used when DATABASE_URL
// is set; otherwise everything runs on in-memory stores.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		s.users = users.NewPostgresStore(db)
		s.plans = plans.NewPostgresStore(db)
		s.ledger = credits.New(credits.NewPostgresStore(db), s.logger)
		s.contacts = contacts.NewPostgresStore(db)
		s.cache = enrich.NewPostgresCache(db)
		s.personas = persona.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		memUsers := users.NewMemoryStore()
		s.users = memUsers
		s.plans = plans.NewMemoryStore()
		s.ledger = credits.New(credits.NewMemoryStore(memUsers), s.logger)
		s.contacts = contacts.NewMemoryStore()
		s.cache = enrich.NewMemoryCache()
		s.personas = persona.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if err := plans.Seed(ctx, s.plans); err != nil {
		return nil, fmt.Errorf("seed plans: %w", err)
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("tracing disabled", "error", err)
		} else {
			s.closeTraces = shutdown
		}
	}

	// Auth
	s.tokens = auth.NewTokenManager(cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	s.authService = auth.NewService(s.users, s.tokens, s.logger)
	for _, ex := range s.oauthExchanges {
		s.authService.RegisterExchange(ex.provider, ex.fn)
	}

	// Billing. Checkout needs Stripe; the free-plan path and renewal
	// timer work without it.
	var checkout billing.CheckoutProvider
	if cfg.StripeEnabled() {
		client := billing.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		checkout = client
		s.webhookVf = client
		s.reconciler = billing.NewReconciler(s.ledger, s.users, s.plans, client, s.logger)
		s.logger.Info("stripe billing enabled")
	}
	s.billing = billing.NewService(s.ledger, s.users, s.plans, checkout, cfg.ClientURL, s.logger)
	s.renewalTimer = billing.NewTimer(s.ledger, s.users, s.plans, s.logger)

	// New accounts start on the free plan.
	s.authService.OnSignup = func(ctx context.Context, u *users.User) {
		if _, err := s.billing.Subscribe(ctx, u.ID, "plan_free"); err != nil {
			s.logger.Error("free plan activation failed", "error", err, "user_id", u.ID)
		}
	}

	// Enrichment
	hunter := enrich.NewHunterClient(cfg.HunterAPIURL, cfg.HunterAPIKey)
	apollo := enrich.NewApolloClient(cfg.ApolloAPIURL, cfg.ApolloAPIKey)
	s.enrichService = enrich.NewService(s.ledger, s.contacts, s.cache,
		[]enrich.EmailProvider{hunter, apollo}, apollo, s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

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

func (s *Server) setupMiddleware() {
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

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = []string{s.cfg.ClientURL}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	corsCfg.AllowCredentials = true
	s.router.Use(cors.New(corsCfg))

	limiterCfg := ratelimit.DefaultConfig()
	limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
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

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")

	// Public: plan catalogue and auth entry points.
	planHandler := plans.NewHandler(s.plans)
	v1.GET("/plans", planHandler.List)
	v1.GET("/plans/credit-pack", planHandler.CreditPack)

	authHandler := auth.NewHandler(s.authService, s.users, s.logger)
	authHandler.RegisterRoutes(v1)

	billingHandler := billing.NewHandler(s.billing, s.reconciler, s.webhookVf, s.logger)

	// Stripe webhook authenticates by signature, not by bearer token. Only
	// mounted when Stripe is configured; the rest of the billing surface
	// (free-plan subscribe, cancel, summary) works without it.
	if s.reconciler != nil {
		billingHandler.RegisterWebhook(v1)
	}

	// Everything below requires a valid token.
	protected := v1.Group("")
	protected.Use(auth.RequireAuth(s.tokens))

	billingHandler.RegisterRoutes(protected)
	authHandler.RegisterProtectedRoutes(protected)
	credits.NewHandler(s.ledger, s.logger).RegisterRoutes(protected)
	contacts.NewHandler(s.contacts, s.logger).RegisterRoutes(protected)
	enrich.NewHandler(s.enrichService, s.ledger, s.logger).RegisterRoutes(protected)
	persona.NewHandler(s.personas, s.generator, s.logger).RegisterRoutes(protected)

	adminGroup := v1.Group("/admin")
	adminGroup.Use(auth.RequireAuth(s.tokens), auth.RequireAdmin())
	admin.NewHandler(s.users, s.plans, s.ledger, s.logger).RegisterRoutes(adminGroup)
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
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

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
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

	if s.renewalTimer != nil {
		go s.renewalTimer.Start(runCtx)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown drains in-flight requests and stops background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.renewalTimer != nil {
		s.renewalTimer.Stop()
		s.logger.Info("renewal timer stopped")
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}
	if s.reconciler != nil {
		s.reconciler.Wait()
	}
	if s.closeTraces != nil {
		if err := s.closeTraces(ctx); err != nil {
			s.logger.Error("trace exporter close error", "error", err)
		}
	}
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

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
