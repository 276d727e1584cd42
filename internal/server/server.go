// Package server implements the read-only dashboard-snapshot HTTP API: a
// pull-based contract the (out of scope) dashboard polls for allocator,
// risk, and executor state plus the daily trade summary.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/oracle-arb/internal/allocator"
	"github.com/aristath/oracle-arb/internal/persistence"
	"github.com/aristath/oracle-arb/internal/risk"
	"github.com/aristath/oracle-arb/internal/runtime"
)

// Config wires every snapshot source the dashboard contract pulls from.
type Config struct {
	Port         int
	DevMode      bool
	Log          zerolog.Logger
	Allocator    *allocator.Allocator
	Risk         *risk.Gate
	Repo         *persistence.Repository
	Orchestrator *runtime.Orchestrator
}

// Server is the dashboard-snapshot HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New builds a Server bound to :Port but does not start listening.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Route("/snapshot", func(r chi.Router) {
			r.Get("/allocator", s.handleAllocatorSnapshot)
			r.Get("/risk", s.handleRiskSnapshot)
			r.Get("/executor", s.handleExecutorSnapshot)
			r.Get("/system", s.handleSystemSnapshot)
		})
		r.Get("/report", s.handleReport)
	})
}

// Start serves until the process is asked to stop; ListenAndServe's own
// http.ErrServerClosed return from a graceful Shutdown is not an error.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting dashboard snapshot server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("http request")
	})
}
