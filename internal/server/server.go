// Package server is the HTTP surface: upload and catalog endpoints, the
// analytics query paths, dashboard config CRUD, system introspection, and
// the WebSocket upgrade.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/datapulse/datapulse/internal/broker"
	"github.com/datapulse/datapulse/internal/config"
	"github.com/datapulse/datapulse/internal/dashboard"
	"github.com/datapulse/datapulse/internal/export"
	"github.com/datapulse/datapulse/internal/inference"
	"github.com/datapulse/datapulse/internal/query"
	"github.com/datapulse/datapulse/internal/registry"
)

// Server wires the component graph behind a chi router.
type Server struct {
	cfg        config.Config
	registry   *registry.Registry
	inference  *inference.Service
	engine     *query.Engine
	broker     *broker.Broker
	dashboards *dashboard.Store
	exporter   *export.Exporter

	started time.Time
	http    *http.Server
}

// New assembles the router and the underlying http.Server.
func New(cfg config.Config, reg *registry.Registry, inf *inference.Service, engine *query.Engine, hub *broker.Broker, dashboards *dashboard.Store, exporter *export.Exporter) *Server {
	s := &Server{
		cfg:        cfg,
		registry:   reg,
		inference:  inf,
		engine:     engine,
		broker:     hub,
		dashboards: dashboards,
		exporter:   exporter,
		started:    time.Now(),
	}
	s.http = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	})
	r.Use(corsHandler.Handler)

	r.Route("/api", func(r chi.Router) {
		r.Route("/data", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)
			r.Get("/sources", s.handleListSources)
			r.Delete("/sources/{id}", s.handleDeleteSource)
			r.Get("/schema/{id}", s.handleSchema)
			r.Post("/preview/{id}", s.handlePreview)
			r.Get("/export/{id}", s.handleExport)
		})
		r.Route("/analytics", func(r chi.Router) {
			// Query execution gets its own timeout budget; the engine
			// enforces the per-statement deadline.
			r.Post("/query", s.handleQuery)
			r.Post("/aggregate", s.handleAggregate)
			r.Get("/metrics/{id}", s.handleMetrics)
		})
		r.Route("/dashboard", func(r chi.Router) {
			r.Get("/configs", s.handleListDashboards)
			r.Post("/configs", s.handleSaveDashboard)
			r.Get("/configs/{id}", s.handleGetDashboard)
			r.Put("/configs/{id}", s.handleUpdateDashboard)
			r.Delete("/configs/{id}", s.handleDeleteDashboard)
		})
		r.Route("/system", func(r chi.Router) {
			r.Get("/health", s.handleHealth)
			r.Get("/stats", s.handleStats)
			r.Post("/optimize", s.handleOptimize)
		})
	})
	r.Get("/ws", s.broker.Handle)
	return r
}

// Start serves until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.http.Addr }
