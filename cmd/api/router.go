package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/josh-kwaku/horse-sheet/internal/auth"
	"github.com/josh-kwaku/horse-sheet/internal/handler"
	"github.com/josh-kwaku/horse-sheet/internal/middleware"
)

type handlers struct {
	health     *handler.HealthHandler
	payments   *handler.PaymentHandler
	balances   *handler.BalanceHandler
	priceLists *handler.PriceListHandler
	schedule   *handler.ScheduleHandler
	billing    *handler.BillingHandler
	admin      *handler.AdminHandler
}

type routerConfig struct {
	jwtSecret      string
	allowedOrigins []string
	idempotency    middleware.IdempotencyStore
}

func newRouter(h handlers, cfg routerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"Location", "X-Request-ID", "X-Idempotent-Replayed"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.health.Liveness)
	r.Get("/health/ready", h.health.Readiness)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.jwtSecret))

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.Idempotency(cfg.idempotency)).Post("/", h.payments.Create)
			r.Get("/{id}", h.payments.Get)
			r.Patch("/{id}", h.payments.Update)
			r.Delete("/{id}", h.payments.Delete)
		})

		r.Get("/contact-persons/{id}/balance", h.balances.Get)

		r.Route("/price-lists", func(r chi.Router) {
			r.Post("/", h.priceLists.Create)
			r.Get("/{id}", h.priceLists.Get)
			r.Patch("/{id}", h.priceLists.Update)
			r.Delete("/{id}", h.priceLists.Delete)
			r.Get("/{id}/history", h.priceLists.History)
		})

		r.Get("/schedule-entries/{id}/price", h.schedule.Price)
		r.Post("/billing/exports", h.billing.CreateExport)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(auth.RoleAdmin))
			r.Get("/dead-letters", h.admin.ListDeadLetters)
			r.Post("/dead-letters/{id}/requeue", h.admin.Requeue)
			r.Post("/reconcile", h.admin.Reconcile)
		})
	})

	return r
}
