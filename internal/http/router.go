package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/radzio23/gigster/internal/config"
	"github.com/radzio23/gigster/internal/observability"
)

func SetupRouter(h *Handlers, cfg *config.Config, logger observability.Logger, rl Limiter, idemp IdempotencyStore) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(IPRateLimitMiddleware(rl, cfg.IPRateLimit, logger))

		r.Get("/v1/concerts/{id}/availability", h.GetAvailability)

		r.Group(func(r chi.Router) {
			r.Use(JWTMiddleware([]byte(cfg.JWTSecret)))
			r.Use(UserRateLimitMiddleware(rl, cfg.UserRateLimit, logger))

			r.With(IdempotencyMiddleware(idemp, logger)).Post("/v1/purchases", h.CreatePurchase)
			r.Get("/v1/me/tickets", h.ListMyTickets)
			r.Get("/v1/orders/{id}", h.GetOrder)
		})
	})

	return r
}
