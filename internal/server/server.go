// Package server provides the HTTP server and routing for the market data
// service.
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

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/cache"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/database"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/esi"
	marketdatahandlers "github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketdata/handlers"
	refreshhandlers "github.com/chrisdruidman/eve-trading-assistant-sub000/internal/refresh/handlers"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/reliability"
)

// UpstreamStatus reports upstream health for the status endpoint.
type UpstreamStatus interface {
	Status(ctx context.Context) esi.Status
}

// CacheAdmin is the cache surface exposed on the ops endpoints.
type CacheAdmin interface {
	Invalidate(key string) error
	InvalidateByPrefix(prefix string) (int64, error)
	Metrics() cache.MetricsSnapshot
}

// Config holds server configuration.
type Config struct {
	Log            zerolog.Logger
	Port           int
	DevMode        bool
	MarketHandlers *marketdatahandlers.Handler
	RefreshHandler *refreshhandlers.Handler
	EventsStream   *refreshhandlers.EventsStreamHandler
	Cache          CacheAdmin
	Upstream       UpstreamStatus
	Backup         *reliability.BackupService
	Databases      []*database.DB
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	marketHandlers *marketdatahandlers.Handler
	refreshHandler *refreshhandlers.Handler
	eventsStream   *refreshhandlers.EventsStreamHandler
	cache          CacheAdmin
	upstream       UpstreamStatus
	backup         *reliability.BackupService
	databases      []*database.DB
	systemHandlers *SystemHandlers
}

// New creates the HTTP server with all routes registered.
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		marketHandlers: cfg.MarketHandlers,
		refreshHandler: cfg.RefreshHandler,
		eventsStream:   cfg.EventsStream,
		cache:          cfg.Cache,
		upstream:       cfg.Upstream,
		backup:         cfg.Backup,
		databases:      cfg.Databases,
		systemHandlers: NewSystemHandlers(cfg.Log),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // events stream connections are long-lived
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)

		s.marketHandlers.RegisterRoutes(r)
		s.refreshHandler.RegisterRoutes(r, s.eventsStream)

		r.Route("/cache", func(r chi.Router) {
			r.Post("/invalidate", s.handleCacheInvalidate)
			r.Get("/stats", s.handleCacheStats)
		})

		r.Get("/upstream/status", s.handleUpstreamStatus)
		r.Post("/backup", s.handleBackup)
	})
}

// loggingMiddleware logs each request with status and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() chi.Router {
	return s.router
}
