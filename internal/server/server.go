// Package server wires the gateway's HTTP surface: routing, middleware,
// and handler logic on top of the auth, ratelimit, querycache, and
// rowstore packages.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/optiwave/telemetry-gateway/internal/apikey"
	"github.com/optiwave/telemetry-gateway/internal/auth"
	"github.com/optiwave/telemetry-gateway/internal/config"
	"github.com/optiwave/telemetry-gateway/internal/health"
	"github.com/optiwave/telemetry-gateway/internal/observability"
	"github.com/optiwave/telemetry-gateway/internal/querycache"
	"github.com/optiwave/telemetry-gateway/internal/ratelimit"
	"github.com/optiwave/telemetry-gateway/internal/rowstore"
)

// Server is the telemetry gateway HTTP server.
type Server struct {
	cfg           *config.Config
	logger        observability.Logger
	keys          *apikey.Manager
	authenticator *auth.Authenticator
	limiter       *ratelimit.Limiter
	localLimiter  *ratelimit.LocalLimiter
	queryCache    *querycache.Cache
	rows          rowstore.Store
	checker       *health.Checker
	engine        *gin.Engine
	httpServer    *http.Server
}

// Options carries the collaborators the server is built from.
type Options struct {
	Config        *config.Config
	Logger        observability.Logger
	Keys          *apikey.Manager
	Authenticator *auth.Authenticator
	Limiter       *ratelimit.Limiter
	LocalLimiter  *ratelimit.LocalLimiter
	QueryCache    *querycache.Cache
	Rows          rowstore.Store
	Health        *health.Checker
}

// New creates a fully routed server.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Keys == nil || opts.Authenticator == nil {
		return nil, errors.New("key manager and authenticator are required")
	}
	if opts.Limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if opts.QueryCache == nil {
		return nil, errors.New("query cache is required")
	}
	if opts.Rows == nil {
		return nil, errors.New("row store is required")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Health == nil {
		opts.Health = health.NewChecker("dev")
	}

	s := &Server{
		cfg:           opts.Config,
		logger:        opts.Logger,
		keys:          opts.Keys,
		authenticator: opts.Authenticator,
		limiter:       opts.Limiter,
		localLimiter:  opts.LocalLimiter,
		queryCache:    opts.QueryCache,
		rows:          opts.Rows,
		checker:       opts.Health,
	}
	s.engine = s.buildRouter()
	s.httpServer = &http.Server{
		Addr:         opts.Config.Server.Addr,
		Handler:      s.engine,
		ReadTimeout:  opts.Config.Server.ReadTimeout.Duration(),
		WriteTimeout: opts.Config.Server.WriteTimeout.Duration(),
	}
	return s, nil
}

// Handler exposes the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		RequestIDMiddleware(),
		RecoveryMiddleware(s.logger),
		AccessLogMiddleware(s.logger),
	)

	// Probes and metrics stay outside auth and rate limiting.
	engine.GET("/healthz", s.handleHealthz)
	engine.GET("/readyz", s.handleReadyz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/v1")
	if s.localLimiter != nil {
		v1.Use(LocalLimitMiddleware(s.localLimiter))
	}

	data := v1.Group("")
	data.Use(
		AuthMiddleware(s.authenticator),
		RateLimitMiddleware(s.limiter, s.cfg.RateLimit),
	)
	data.POST("/telemetry", s.handleIngest)
	data.GET("/analytics/summary", s.handleAnalyticsSummary)

	// Key management authenticates on its own so the bootstrap admin
	// token works before any key exists.
	keys := v1.Group("/keys")
	keys.Use(
		AdminAuthMiddleware(s.cfg.Auth, s.authenticator),
		RateLimitMiddleware(s.limiter, s.cfg.RateLimit),
	)
	keys.POST("", s.handleCreateKey)
	keys.GET("", s.handleListKeys)
	keys.DELETE("/:id", s.handleRevokeKey)
	keys.POST("/:id/rotate", s.handleRotateKey)
	keys.DELETE("/:id/purge", s.handlePurgeKey)

	return engine
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		observability.String("addr", s.cfg.Server.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
