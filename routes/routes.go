package routes

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/market-routes/app"
	"github.com/upb/market-routes/handlers"
	"github.com/upb/market-routes/middleware"
	"github.com/upb/market-routes/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	requestTimeout := deps.Config.Server.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.EchoRequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	// CORS middleware
	origins := deps.Config.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:*", "https://*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check endpoints; the interface stays nil without a database
	var db handlers.HealthChecker
	if deps.DB != nil {
		db = deps.DB
	}
	health := handlers.NewHealthHandler(db, deps.Registry.GetProviderCount, deps.Logger)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	services := handlers.RouteServices{
		Resolver: deps.RouteResolver(),
		Batches:  deps.Scheduler,
		Ranker:   deps.Ranker,
		Catalog:  deps.Resolver,
	}
	if deps.Cache != nil {
		services.Cache = deps.Cache
	}
	if deps.AuditService != nil {
		services.Log = deps.AuditService
	}
	route := handlers.NewRouteHandler(services, deps.Logger)

	r.Route("/route", func(r chi.Router) {
		r.Get("/crawl", route.HandleCrawlQuery)
		r.Post("/crawl", route.HandleCrawl)
		r.Post("/batch", route.HandleBatch)
		r.Post("/nearby", route.HandleNearby)
		r.Get("/providers", route.HandleProviders)
		r.Get("/resolutions", route.HandleResolutions)
		r.Get("/resolutions/stats", route.HandleResolutionStats)
		r.Get("/resolutions/{id}", route.HandleResolution)
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
