package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/gigmarket-escrow/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware escrow-сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5, "application/json"))

	r.Post("/users", h.Register)
	r.Post("/webhook", h.Webhook)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Get("/balance", h.GetBalance)
		r.Post("/deposits", h.CreateDeposit)

		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/jobs/{id}/bids", h.ListJobBids)
		r.Post("/jobs/{id}/bids", h.SubmitBid)

		r.Post("/bids/{id}", h.BidAction)

		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", h.GetProject)
			r.Get("/contract", h.GetContract)
			r.Get("/transactions", h.ListTransactions)
			r.Post("/complete", h.CompleteProject)
			r.Post("/payment-intent", h.CreatePaymentIntent)
			r.Post("/release", h.ReleasePayment)
			r.Post("/refund", h.RefundPayment)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
