// Package api provides the HTTP API of the station-occupancy dashboard.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dispatchwatch/dispatchwatch/internal/api/handler"
	"github.com/dispatchwatch/dispatchwatch/internal/api/middleware"
	"github.com/dispatchwatch/dispatchwatch/internal/provider/resilience"
)

// Controller is what the router needs from the dashboard: the view and commands,
// plus readiness for the ops checks.
type Controller interface {
	handler.DashboardController
	handler.ReadinessChecker
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version    string
	BuildTime  string
	Logger     zerolog.Logger
	Metrics    *middleware.Metrics
	RequireTLS bool
	Controller Controller
	Registry   *resilience.Registry
	Poller     handler.PollStatsProvider
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Readiness: cfg.Controller,
		Registry:  cfg.Registry,
		Poller:    cfg.Poller,
	})
	dashboardHandler := handler.NewDashboardHandler(cfg.Controller, cfg.Logger)

	viewRateLimit := middleware.RateLimitByIP(middleware.ViewRateLimit)       // 300 req/min
	commandRateLimit := middleware.RateLimitByIP(middleware.CommandRateLimit) // 30 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Read endpoints, polled by the renderer once per second.
		r.Group(func(r chi.Router) {
			r.Use(viewRateLimit)
			r.Get("/dashboard", dashboardHandler.GetDashboard)
			r.Get("/servers", dashboardHandler.ListServers)
			r.Get("/stations", dashboardHandler.ListStations)
			r.Get("/stations/{prefix}/history", dashboardHandler.GetStationHistory)
		})

		// User commands.
		r.Group(func(r chi.Router) {
			r.Use(commandRateLimit)
			r.Use(middleware.RequireJSON)
			r.Put("/selection", dashboardHandler.SelectServer)
			r.Put("/filter", dashboardHandler.SetFilter)
			r.Post("/theme:toggle", dashboardHandler.ToggleTheme)
		})
	})

	return r
}
