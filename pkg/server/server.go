// Package server exposes the question answering engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zen-systems/querygate/pkg/backend"
	"github.com/zen-systems/querygate/pkg/dataset"
	"github.com/zen-systems/querygate/pkg/orchestrator"
	"github.com/zen-systems/querygate/pkg/retrieval"
	"github.com/zen-systems/querygate/pkg/stats"
	"github.com/zen-systems/querygate/pkg/structured"
	"github.com/zen-systems/querygate/pkg/unify"
)

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

// Asker answers questions and reports per-method stats.
type Asker interface {
	Ask(ctx context.Context, text, method, profileID string) (*unify.Response, error)
	AvailableMethods() []orchestrator.MethodInfo
	Stats() map[backend.ID]stats.Summary
}

// Index is the retrieval side used by /search and /rebuild.
type Index interface {
	Search(ctx context.Context, query string, k int, profileID string) ([]retrieval.Hit, error)
	Rebuild(ctx context.Context, profileID string) (*retrieval.Collection, error)
	Status(ctx context.Context, profileID string) (*retrieval.Collection, error)
}

// Describer reports dataset statistics.
type Describer interface {
	Describe(profileID string) (*structured.Stats, error)
}

// Deps are the components the handlers call.
type Deps struct {
	Asker     Asker
	Index     Index
	Describer Describer
	Catalog   *dataset.Catalog
}

// Server represents the HTTP API server.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	addr    string
	deps    Deps
	logger  *zap.Logger
	limiter *rate.Limiter
	origins []string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRateLimit caps requests per second across all clients.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithCORSOrigins sets the allowed origins. "*" allows any.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.origins = origins
		}
	}
}

// New creates a new HTTP server instance.
func New(addr string, deps Deps, opts ...Option) (*Server, error) {
	if deps.Asker == nil || deps.Catalog == nil {
		return nil, errors.New("server needs an asker and a catalog")
	}
	s := &Server{
		addr:    addr,
		deps:    deps,
		router:  http.NewServeMux(),
		logger:  zap.NewNop(),
		origins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("server")

	s.registerRoutes()

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.applyMiddleware(s.router),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// applyMiddleware wraps the handler; the last one applied runs first.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	handler = RecoveryMiddleware(s.logger)(handler)
	handler = RateLimitMiddleware(s.limiter)(handler)
	handler = LoggingMiddleware(s.logger)(handler)
	handler = RequestIDMiddleware()(handler)
	handler = CORSMiddleware(s.origins)(handler)
	return handler
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("GET /{$}", s.handleRoot)
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("POST /ask", s.handleAsk)
	s.router.HandleFunc("POST /ask-api", s.handleAsk)
	s.router.HandleFunc("POST /search", s.handleSearch)
	s.router.HandleFunc("POST /rebuild", s.handleRebuild)

	s.router.HandleFunc("GET /stats", s.handleStats)
	s.router.HandleFunc("GET /methods", s.handleMethods)
	s.router.HandleFunc("GET /profile", s.handleProfile)
}
