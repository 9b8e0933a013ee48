package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/food-ordering/internal/metrics"
)

// RouteRegistrar mounts a group of API routes on the authenticated router.
type RouteRegistrar interface {
	RegisterRoutes(router chi.Router)
}

type RouterConfig struct {
	// Authenticate resolves the caller and stores it in the request context.
	Authenticate func(http.Handler) http.Handler
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	// Health is an optional readiness probe, typically a database ping.
	Health         func(ctx context.Context) error
	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig, handlers ...RouteRegistrar) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				log.Error().Err(err).Msg("Health check failed")
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("OK"))
	})
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Group(func(api chi.Router) {
		if cfg.Authenticate != nil {
			api.Use(cfg.Authenticate)
		}
		for _, h := range handlers {
			h.RegisterRoutes(api)
		}
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}
