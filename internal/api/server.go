// Package api exposes the dashboard backend over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/teamlens/kestrel/internal/cache"
	"github.com/teamlens/kestrel/internal/domain"
	"github.com/teamlens/kestrel/internal/report"
	"github.com/teamlens/kestrel/internal/resolve"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, fetcher *cache.Fetcher, bus domain.EventBus, source domain.TrackingSource, resolver *resolve.Resolver, orchestrator *report.Orchestrator, upstreamCfg domain.UpstreamConfig, version string) *Server {
	handler := NewHandler(repo, fetcher, bus, source, resolver, orchestrator, upstreamCfg, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Dashboard API
	router.Get("/reports/classification", handler.GetClassificationReport)
	router.Get("/iterations/resolve", handler.ResolveIteration)
	router.Get("/metrics/velocity", handler.GetVelocity)
	router.Get("/sweeps", handler.ListSweeps)

	// Cache administration
	router.Get("/cache/stats", handler.GetCacheStats)
	router.Delete("/cache/{namespace}", handler.InvalidateCache)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
