package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-ticket-fulfillment/internal/observability"
	"github.com/robertarktes/event-ticket-fulfillment/internal/rateLimit"
)

type RouterDeps struct {
	Handlers *Handlers
	Auth     *Authenticator
	Logger   observability.Logger

	// Limiter may be nil.
	Limiter *rateLimit.RateLimiter
	PerUser int
	PerIP   int
}

func SetupRouter(d RouterDeps) *chi.Mux {
	h := d.Handlers
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(d.Logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/v1/webhooks/paddle", h.PaddleWebhook)
	r.Get("/v1/config", h.ClientConfig)
	r.Get("/v1/events", h.ListUpcomingEvents)
	r.Get("/v1/events/{id}", h.GetEvent)

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Use(RateLimitMiddleware(d.Limiter, d.PerUser, d.PerIP))

		r.Post("/v1/checkout/sessions", h.CreateCheckoutSession)
		r.Get("/v1/events/{id}/bookings/latest", h.LatestBooking)
		r.Get("/v1/bookings", h.ListBookings)
	})

	r.Group(func(r chi.Router) {
		r.Use(d.Auth.Middleware)
		r.Use(AdminOnly)

		r.Get("/v1/admin/events", h.ListAllEvents)
		r.Post("/v1/admin/events", h.CreateEvent)
		r.Delete("/v1/admin/events/{id}", h.DeleteEvent)
		r.Put("/v1/admin/events/{id}/capacity", h.ChangeCapacity)
	})

	return r
}
