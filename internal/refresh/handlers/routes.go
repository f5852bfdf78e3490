package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all refresh control routes.
func (h *Handler) RegisterRoutes(r chi.Router, stream *EventsStreamHandler) {
	r.Route("/refresh", func(r chi.Router) {
		r.Post("/", h.HandleForceRefresh)
		r.Get("/status", h.HandleStatus)
		r.Put("/strategies/{name}", h.HandleUpdateStrategy)
		r.Get("/events", stream.ServeHTTP)
	})
}
