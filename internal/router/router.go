// Package router assembles the HTTP surface: public health and webhook
// routes, the authenticated client API and the admin API.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/josh-kwaku/reconciliation-engine/internal/handler"
	"github.com/josh-kwaku/reconciliation-engine/internal/middleware"
)

type Handlers struct {
	Health   *handler.HealthHandler
	Auth     *handler.AuthHandler
	Payments *handler.PaymentHandler
	Rates    *handler.RatesHandler
	Webhooks *handler.WebhookHandler
	Admin    *handler.AdminHandler
}

type Options struct {
	JWTSecret      string
	Idempotency    middleware.IdempotencyStore
	IdempotencyTTL time.Duration
	AllowedOrigins []string
}

func New(h Handlers, opts Options) http.Handler {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health.Liveness)
	r.Get("/health/ready", h.Health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/webhooks/order-update", h.Webhooks.ReceiveOrderUpdate)

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/token", h.Auth.IssueToken)

		api.Group(func(pr chi.Router) {
			pr.Use(middleware.Auth(opts.JWTSecret))

			pr.Get("/rates", h.Rates.GetRate)
			pr.Get("/rates/estimate", h.Rates.Estimate)
			pr.Get("/currencies", h.Rates.Currencies)

			pr.Route("/payments", func(p chi.Router) {
				p.Get("/", h.Payments.List)
				p.With(middleware.Idempotency(opts.Idempotency, opts.IdempotencyTTL)).Post("/", h.Payments.Create)
				p.Get("/{id}", h.Payments.Get)
				p.Post("/{id}/initiate", h.Payments.Initiate)
			})

			pr.Route("/admin", func(a chi.Router) {
				a.Use(middleware.RequireAdmin)

				a.Get("/payments/{id}", h.Admin.GetPayment)
				a.Put("/payments/{id}/status", h.Admin.UpdateStatus)
				a.Get("/reconciliation", h.Admin.ReconciliationStats)
				a.Post("/reconciliation/run", h.Admin.RunReconciliation)
			})
		})
	})

	return r
}
