package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/PortNumber53/blockr/backend/internal/config"
	"github.com/PortNumber53/blockr/backend/internal/entitlement"
	"github.com/PortNumber53/blockr/backend/internal/handlers"
	"github.com/PortNumber53/blockr/backend/internal/metrics"
	requesttracking "github.com/PortNumber53/blockr/backend/internal/middleware"
)

// Dependencies are the collaborators the router is assembled from.
type Dependencies struct {
	DB            handlers.Pinger
	Users         entitlement.UserLoader
	Subscriptions handlers.SubscriptionService
	Gate          *entitlement.Gate
	Registry      *prometheus.Registry
	Logger        logrus.FieldLogger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	log        logrus.FieldLogger
}

// New constructs an HTTP server using the provided configuration and dependencies.
func New(cfg config.Config, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	registry := deps.Registry
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	gate := deps.Gate
	if gate == nil {
		gate = entitlement.NewGate(nil)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(requesttracking.NewRequestTracker(metrics.NewHTTPMetrics(registry)).Middleware())

	router.Get("/healthz", handlers.Health(deps.DB))
	router.Handle("/metrics", metrics.Handler(registry))

	router.Group(func(r chi.Router) {
		r.Use(requesttracking.RequireUser)

		if deps.Subscriptions != nil {
			handlers.NewSubscriptionHandler(deps.Subscriptions, logger).RegisterRoutes(r)
		}

		if deps.Users != nil {
			r.With(gate.RequirePremium(deps.Users, logger)).Get("/api/premium/ping", handlers.PremiumPing)
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, log: logger.WithField("component", "server")}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
