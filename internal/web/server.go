// Package web exposes the pipeline steps and lineage records over a JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/config"
	"github.com/JonMunkholm/lakeingest/internal/core"
	"github.com/JonMunkholm/lakeingest/internal/pipeline"
	mw "github.com/JonMunkholm/lakeingest/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StepRunner dispatches one pipeline step. *pipeline.Registry satisfies it.
type StepRunner interface {
	Run(ctx context.Context, kind pipeline.StepKind, req pipeline.Request) (*pipeline.Result, error)
}

// StaleFinder lists batches that have been pending too long.
type StaleFinder interface {
	FindStaleBatches(ctx context.Context, olderThan time.Duration) ([]core.Batch, error)
}

// Deps are the collaborators behind the API.
type Deps struct {
	Steps   StepRunner
	Lineage core.LineageStore
	Stale   StaleFinder
	Gate    *core.BatchGate

	// Ping checks the database for /healthz. Nil skips the check.
	Ping func(ctx context.Context) error

	// StaleAfter is used when /api/batches/stale has no older_than.
	StaleAfter time.Duration
}

// Server is the HTTP front end of the ingestion engine.
type Server struct {
	deps    Deps
	cfg     config.ServerConfig
	router  *chi.Mux
	server  *http.Server
	limiter *rateLimiter
}

// NewServer creates a new Server instance.
func NewServer(deps Deps, cfg config.ServerConfig) *Server {
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.TrustedProxyList()))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(s.cfg.RateLimit, time.Minute)
		s.router.Use(s.limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		// Steps hold the request open for the whole batch, so no timeout here.
		r.Group(func(r chi.Router) {
			r.Use(mw.APIKeyAuth(s.cfg.APIKeyList()))
			r.Get("/steps", s.handleListSteps)
			r.Post("/steps/{step}", s.handleRunStep)
		})

		r.Group(func(r chi.Router) {
			if s.cfg.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.RequestTimeout))
			}
			r.Get("/batches/stale", s.handleStaleBatches)
			r.Get("/batches/{batchID}", s.handleGetBatch)
			r.Get("/batches/{batchID}/files", s.handleListFiles)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error",
			"path", r.URL.Path,
			"error", err,
			"request_id", middleware.GetReqID(r.Context()),
		)
	}
}
