package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Post("/accounts", h.CreateAccount)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Get("/wallet", h.GetWallet)
		r.Get("/wallet/packages", h.ListPackages)
		r.Get("/wallet/transactions", h.ListTransactions)
		r.Post("/wallet/top-ups", h.TopUp)
		r.Get("/wallet/payment-methods", h.ListPaymentMethods)
		r.Post("/wallet/payment-methods", h.AddPaymentMethod)

		r.Get("/purchases", h.ListPurchases)
		r.Post("/stories/{id}/purchase", h.PurchaseStory)
		r.Get("/stories/{id}/access", h.StoryAccess)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Post("/stories", h.CreateStory)
			r.Get("/orphaned-charges", h.ListOrphanedCharges)
			r.Post("/orphaned-charges/{id}/settle", h.SettleOrphanedCharge)
			r.Post("/reconcile", h.Reconcile)
			r.Get("/accounts/{id}/verify", h.VerifyAccount)
		})
	})

	return r
}
