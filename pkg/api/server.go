package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/paddockio/paddock/pkg/log"
	"github.com/paddockio/paddock/pkg/manager"
	"github.com/paddockio/paddock/pkg/metrics"
)

// Server exposes the control plane over HTTP.
type Server struct {
	manager *manager.Manager
	router  chi.Router
	http    *http.Server
	logger  zerolog.Logger
}

// NewServer creates the API server and mounts all routes.
func NewServer(mgr *manager.Manager) *Server {
	s := &Server{
		manager: mgr,
		logger:  log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

// Handler returns the mounted router. Tests serve it directly.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving on addr. It blocks until the listener fails or the
// server is stopped.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metrics.RegisterComponent("api", true, "")
	s.logger.Info().Str("addr", addr).Msg("API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Unauthenticated operational surface.
	r.Get("/healthz", metrics.HealthHandler())
	r.Get("/readyz", metrics.ReadyHandler())
	r.Get("/livez", metrics.LivenessHandler())
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.observe)
		r.Use(s.authenticate)

		r.Route("/runs", func(r chi.Router) {
			r.With(s.requireScope("runs:submit")).Post("/", s.handleSubmitRun)
			r.With(s.requireScope("runs:read")).Get("/{id}", s.handleGetRun)
			r.With(s.requireScope("runs:cancel")).Post("/{id}/cancel", s.handleCancelRun)
		})

		r.Route("/items", func(r chi.Router) {
			r.With(s.requireScope("runs:read")).Get("/{id}", s.handleGetItem)
			r.With(s.requireScope("runs:cancel")).Post("/{id}/cancel", s.handleCancelItem)
		})

		r.With(s.requireScope("usage:read")).Get("/tenants/{id}/usage", s.handleGetUsage)

		// Admin surface.
		r.Group(func(r chi.Router) {
			r.Use(s.requireScope("admin"))

			r.Post("/tenants", s.handleCreateTenant)
			r.Get("/tenants", s.handleListTenants)
			r.Get("/tenants/{id}", s.handleGetTenant)
			r.Patch("/tenants/{id}", s.handleUpdateTenant)
			r.Put("/tenants/{id}/allowlist", s.handleSetAllowlist)

			r.Post("/tenants/{id}/keys", s.handleCreateKey)
			r.Get("/tenants/{id}/keys", s.handleListKeys)
			r.Delete("/keys/{id}", s.handleRevokeKey)

			r.Post("/tenants/{id}/policies", s.handleCreatePolicy)
			r.Get("/tenants/{id}/policies", s.handleListPolicies)
			r.Delete("/policies/{id}", s.handleDeletePolicy)
		})
	})

	return r
}
