// Package server binds the authentication engine to an HTTP server: a gin
// middleware that drives the mechanism chain per request, login and logout
// endpoints, and response finalization for staged challenges.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/gale320/authgate/internal/config"
	"github.com/gale320/authgate/internal/identity"
	"github.com/gale320/authgate/internal/observability"
	"github.com/gale320/authgate/internal/security"
)

// ginModeOnce ensures gin.SetMode is only called once to avoid race
// conditions.
var ginModeOnce sync.Once

// Server hosts the authentication endpoints.
type Server struct {
	config     *config.Config
	store      identity.Store
	sessions   security.SessionManager
	mechanisms []security.Mechanism
	pool       *security.WorkerPool
	metrics    *security.Metrics
	logger     observability.Logger

	engine     *gin.Engine
	httpServer *http.Server

	loginLimiter *clientLimiter

	mu      sync.Mutex
	running bool
}

// Option is a functional option for the server.
type Option func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerMetrics sets the authentication metrics.
func WithServerMetrics(metrics *security.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// New creates the server. The mechanism slice order is the order
// authentication attempts run in.
func New(cfg *config.Config, store identity.Store, sessions security.SessionManager, mechanisms []security.Mechanism, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	s := &Server{
		config:       cfg,
		store:        store,
		sessions:     sessions,
		mechanisms:   mechanisms,
		pool:         security.NewWorkerPool(cfg.Auth.Workers, cfg.Auth.Queue),
		logger:       observability.NopLogger(),
		loginLimiter: newClientLimiter(cfg.Auth.LoginRate.RPS, cfg.Auth.LoginRate.Burst),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = security.NewMetrics(cfg.Metrics.Namespace)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.POST("/login", s.handleLogin)
	s.engine.POST("/logout", s.Authenticate(false), s.handleLogout)
	s.engine.GET("/whoami", s.Authenticate(true), s.handleWhoami)
}

// Reload applies the reloadable parts of a new configuration: the
// mechanism chain and the login throttle. Listener settings and backend
// choices require a restart.
func (s *Server) Reload(cfg *config.Config, mechanisms []security.Mechanism) {
	s.mu.Lock()
	s.config = cfg
	s.mechanisms = mechanisms
	s.mu.Unlock()

	s.loginLimiter.SetRate(cfg.Auth.LoginRate.RPS, cfg.Auth.LoginRate.Burst)

	s.logger.Info("server configuration reloaded",
		observability.Int("mechanisms", len(mechanisms)))
}

// newSecurityContext builds the per-request authentication state.
func (s *Server) newSecurityContext() *security.SecurityContext {
	s.mu.Lock()
	mechanisms := s.mechanisms
	s.mu.Unlock()

	opts := []security.ContextOption{
		security.WithMechanisms(mechanisms...),
		security.WithContextExecutor(s.pool),
		security.WithContextLogger(s.logger),
		security.WithContextMetrics(s.metrics),
	}
	if s.sessions != nil {
		opts = append(opts, security.WithSessionManager(s.sessions))
	}
	return security.NewSecurityContext(s.store, opts...)
}

// Engine returns the underlying gin engine, for mounting additional
// protected routes and for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start runs the HTTP server until it fails or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout.Duration(),
		WriteTimeout: s.config.Server.WriteTimeout.Duration(),
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		observability.String("address", addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop shuts the server down gracefully and drains the handoff pool.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	s.pool.Close()

	return nil
}
