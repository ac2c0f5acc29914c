// Package api provides the HTTP API server.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/cloud-gov/pages-core/internal/api/handlers"
	"github.com/cloud-gov/pages-core/internal/api/health"
	"github.com/cloud-gov/pages-core/internal/api/middleware"
	"github.com/cloud-gov/pages-core/internal/auth"
	"github.com/cloud-gov/pages-core/internal/build"
	"github.com/cloud-gov/pages-core/internal/events"
	"github.com/cloud-gov/pages-core/internal/logarchive"
	"github.com/cloud-gov/pages-core/internal/store"
	"github.com/cloud-gov/pages-core/pkg/config"
)

// Version is the current version of the API server.
// This should be set at build time using ldflags.
var Version = "dev"

// Deps are the services the API server fronts.
type Deps struct {
	Store    store.Store
	Pinger   health.Pinger
	Auth     *auth.Service
	Resolver *build.Resolver
	Enqueuer *build.Enqueuer
	Status   *build.StatusService
	Archiver *logarchive.Archiver
	Broker   *events.Broker
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	deps       Deps
	config     *config.Config
	logger     *slog.Logger
}

// NewServer creates a new API server with the given dependencies.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}
	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(chimiddleware.Timeout(60 * time.Second))

	checker := health.NewChecker(s.deps.Pinger, Version)
	r.Get("/health", checker.Handler())

	buildsHandler := handlers.NewBuildsHandler(s.deps.Store, s.deps.Resolver, s.deps.Enqueuer, s.deps.Status, s.logger)
	logsHandler := handlers.NewLogsHandler(s.deps.Store, s.deps.Archiver, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.deps.Broker, s.logger)

	r.Route("/v1", func(r chi.Router) {
		// The build token in the path authenticates status callbacks.
		r.Post("/build/{buildID}/status/{token}", buildsHandler.StatusCallback)

		r.Group(func(r chi.Router) {
			authMiddleware := middleware.NewAuthMiddleware(s.deps.Auth, s.logger)
			r.Use(authMiddleware.Authenticate)

			r.Route("/sites/{siteID}", func(r chi.Router) {
				r.Post("/builds", buildsHandler.Create)
				r.Get("/builds", buildsHandler.List)
				r.Get("/builds/{buildID}", buildsHandler.Get)
				r.Get("/builds/{buildID}/logs", logsHandler.Get)
				r.Get("/events", eventsHandler.Stream)
			})
		})
	})

	s.router = r
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.APIHost, s.config.APIPort)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving HTTP: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the router for tests.
func (s *Server) Router() chi.Router {
	return s.router
}
