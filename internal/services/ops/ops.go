// Package ops serves the worker's operational surface: liveness, the routes
// the mounted modules expose, and prometheus metrics
package ops

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hubgrep/internal/modkit"
	phttp "hubgrep/internal/platform/net/http"
	"hubgrep/internal/platform/net/middleware"
)

// Server is the ops http endpoint. It is optional; workers run headless when
// no address is configured
type Server struct {
	srv *phttp.Server
}

// New builds the ops server on addr and mounts each module's routes on it.
// The surface is read-only and may be scraped cross-origin by dashboards
func New(addr string, mods ...modkit.Module) *Server {
	srv := phttp.NewServer(addr, func(m *chi.Mux) {
		m.Use(middleware.RequestID())
		m.Use(middleware.RecoverJSON)
		m.Use(middleware.AccessLog)
		m.Use(middleware.Heartbeat("/health"))
		m.Use(middleware.NoCache())
		m.Use(middleware.CORS(middleware.CORSOptions{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
		}))
	})

	r := srv.Router()
	r.Handle("/metrics", promhttp.Handler())
	for _, mod := range mods {
		mod.MountRoutes(r)
	}

	return &Server{srv: srv}
}

// Addr returns the listening address
func (s *Server) Addr() string { return s.srv.Addr() }

// Run starts the server and blocks until it closes
func (s *Server) Run(ctx context.Context) error { return s.srv.Run(ctx) }

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error { return s.srv.Shutdown(ctx) }
