package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wonny/marketcache/internal/api/handlers"
	apimw "github.com/wonny/marketcache/internal/api/middleware"
)

// Config holds router configuration
type Config struct {
	PricesHandler  *handlers.PricesHandler
	HealthHandler  *handlers.HealthHandler
	AllowedOrigins []string
	// Timeout bounds a request. A full-history fetch can take minutes.
	Timeout time.Duration
}

// NewRouter creates a new HTTP router
func NewRouter(cfg *Config) http.Handler {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apimw.Logging(apimw.LoggingConfig{SkipPaths: []string{"/health"}}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", cfg.HealthHandler.Health)
	r.Get("/health/ready", cfg.HealthHandler.Ready)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", cfg.PricesHandler.GetStatus)
		r.Get("/prices", cfg.PricesHandler.GetPrices)
		r.Get("/prices/{ticker}/latest", cfg.PricesHandler.GetLatest)
	})

	return r
}
