package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all market data routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/markets/{regionID}/{typeID}", func(r chi.Router) {
		r.Get("/", h.HandleOrderBook)
		r.Get("/history", h.HandleHistory)
		r.Get("/history/summary", h.HandleHistorySummary)
	})
}
