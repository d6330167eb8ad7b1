package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/infra/http/middleware"
)

type RouterConfig struct {
	Pipeline       *PipelineHandler
	Contacts       *ContactHandler
	Properties     *PropertyHandler
	Dashboard      *DashboardHandler
	Health         *HealthHandler
	RateLimiter    *middleware.RateLimiter
	AllowedOrigins []string
	TrustProxy     bool
	Logger         *zap.Logger
}

// NewRouter mounts every endpoint. Writes go through the rate limiter when
// one is configured. Forwarding headers set the client address only with
// TrustProxy.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	writes := func(r chi.Router) chi.Router {
		if cfg.RateLimiter == nil {
			return r
		}
		return r.With(cfg.RateLimiter.Limit)
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Handle)
	}
	r.Handle("/metrics", promhttp.Handler())

	if h := cfg.Pipeline; h != nil {
		r.Route("/pipeline", func(r chi.Router) {
			r.Get("/leads", h.GetLeads)
			r.Get("/columns", h.GetColumns)
			w := writes(r)
			w.Post("/reload", h.Reload)
			w.Patch("/leads/{phone}/stage", h.UpdateStage)
			w.Patch("/leads/{phone}/notes", h.UpdateNotes)
			w.Post("/drop", h.Drop)
		})
	}

	if h := cfg.Contacts; h != nil {
		r.Route("/contacts", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/{phone}", h.Get)
			w := writes(r)
			w.Post("/", h.Create)
			w.Put("/", h.Upsert)
			w.Patch("/{phone}", h.Update)
			w.Delete("/{phone}", h.Delete)
		})
	}

	if h := cfg.Properties; h != nil {
		r.Route("/properties", func(r chi.Router) {
			r.Get("/", h.List)
			r.Get("/{id}", h.Get)
			w := writes(r)
			w.Post("/", h.Create)
			w.Patch("/{id}", h.Update)
			w.Delete("/{id}", h.Delete)
		})
	}

	if h := cfg.Dashboard; h != nil {
		r.Get("/dashboard/metrics", h.Metrics)
	}

	return r
}
