// Package http provides the HTTP delivery layer for the URL shortener service.
// This package contains the HTTP handlers and related types used for processing
// incoming requests, validating input, and formatting responses.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vadimbarashkov/shortly/internal/metrics"
	"github.com/vadimbarashkov/shortly/pkg/middleware/recoverer"
)

type routerOptions struct {
	shortDomain string
	metrics     *metrics.Metrics
	swaggerFile string
}

type RouterOption func(*routerOptions)

// WithShortDomain makes short URLs use https://<domain> instead of the request host.
func WithShortDomain(domain string) RouterOption {
	return func(o *routerOptions) {
		o.shortDomain = domain
	}
}

// WithMetrics instruments the router and exposes /metrics.
func WithMetrics(m *metrics.Metrics) RouterOption {
	return func(o *routerOptions) {
		o.metrics = m
	}
}

func WithSwaggerFile(path string) RouterOption {
	return func(o *routerOptions) {
		o.swaggerFile = path
	}
}

// NewRouter initializes and returns a new Chi router configured with middleware and routes for the URL shortener API.
func NewRouter(logger *httplog.Logger, urlUseCase urlUseCase, opts ...RouterOption) *chi.Mux {
	o := routerOptions{
		swaggerFile: "./docs/swagger.yml",
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"POST", "GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(recoverer.New(logger.Logger))
	if o.metrics != nil {
		r.Use(o.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", o.metrics.Handler())
	}

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/swagger.yml"),
	))

	r.Get("/docs/swagger.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, o.swaggerFile)
	})

	h := newURLHandler(urlUseCase, newValidator(), o.shortDomain, o.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", handlePing)

		r.Route("/urls", func(r chi.Router) {
			r.Post("/shorten", h.shortenURL)
			r.Get("/", h.listURLs)
			r.Get("/stats/{shortCode}", h.getURLStats)
			r.Delete("/{shortCode}", h.deleteURL)
		})

		r.Get("/analytics", h.getAnalytics)
	})

	r.Get("/{shortCode}", h.redirect)

	return r
}
