// Package handlers provides HTTP handlers for refresh scheduler control.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/refresh"
)

// Scheduler is the scheduler surface the handlers need.
type Scheduler interface {
	ForceRefresh(opts refresh.ForceOptions) (*refresh.PassResult, error)
	UpdateStrategy(name string, update refresh.StrategyUpdate) (*refresh.Strategy, error)
	Status() refresh.Status
}

// Handler serves refresh control requests.
type Handler struct {
	scheduler Scheduler
	log       zerolog.Logger
}

// NewHandler creates the refresh handler.
func NewHandler(scheduler Scheduler, log zerolog.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		log:       log.With().Str("handler", "refresh").Logger(),
	}
}

// forceRefreshRequest is the POST /api/refresh body. Exactly one selector
// is required: explicit keys, an age threshold, or a full sweep.
type forceRefreshRequest struct {
	// Keys as "regionID:typeID" strings.
	Keys []string `json:"keys"`
	// MaxAgeMinutes sweeps stored keys older than the threshold.
	MaxAgeMinutes int `json:"maxAgeMinutes"`
	// Force sweeps every stored key regardless of age.
	Force bool `json:"force"`
}

// HandleForceRefresh handles POST /api/refresh.
func (h *Handler) HandleForceRefresh(w http.ResponseWriter, r *http.Request) {
	var req forceRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	if len(req.Keys) == 0 && req.MaxAgeMinutes <= 0 && !req.Force {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "one of keys, maxAgeMinutes or force is required")
		return
	}

	keys := make([]domain.Key, 0, len(req.Keys))
	for _, raw := range req.Keys {
		key, err := domain.ParseKey(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_KEY", "invalid key: "+raw)
			return
		}
		keys = append(keys, key)
	}

	result, err := h.scheduler.ForceRefresh(refresh.ForceOptions{
		Keys:          keys,
		MaxAgeMinutes: req.MaxAgeMinutes,
		Force:         req.Force,
	})
	if err != nil {
		if errors.Is(err, refresh.ErrPassInProgress) {
			writeError(w, http.StatusConflict, "REFRESH_IN_PROGRESS", err.Error())
			return
		}
		h.log.Error().Err(err).Msg("Force refresh failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	writeData(w, http.StatusOK, result)
}

// HandleStatus handles GET /api/refresh/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.scheduler.Status())
}

// HandleUpdateStrategy handles PUT /api/refresh/strategies/{name}.
func (h *Handler) HandleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var update refresh.StrategyUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be a JSON strategy update")
		return
	}

	updated, err := h.scheduler.UpdateStrategy(name, update)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_STRATEGY", err.Error())
		return
	}
	writeData(w, http.StatusOK, updated)
}

func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"data":     data,
		"metadata": map[string]any{"timestamp": time.Now().UTC()},
	})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
