package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-promocodes/internal/auth"
)

// NewRouter builds the HTTP router for the promo-code service. Everything
// except the health check requires an authenticated user.
func NewRouter(h *Handler, jwtSecret string) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.Logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/promo-codes", func(r chi.Router) {
		r.Use(auth.Middleware(jwtSecret))

		// Organizer management
		r.Post("/", h.CreatePromoCode)
		r.Get("/", h.ListPromoCodes)
		r.Get("/{id}", h.GetPromoCode)
		r.Put("/{id}", h.UpdatePromoCode)
		r.Delete("/{id}", h.DeletePromoCode)

		// Checkout
		r.Post("/validate-checkout", h.ValidateCheckout)
		r.Post("/{code}/redeem", h.Redeem)

		// Analytics
		r.Get("/{id}/analytics", h.GetAnalytics)
		r.Get("/{id}/usage-history", h.GetUsageHistory)
	})

	return r
}
