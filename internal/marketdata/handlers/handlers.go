// Package handlers provides HTTP handlers for market data endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/domain"
	"github.com/chrisdruidman/eve-trading-assistant-sub000/internal/marketdata"
)

// Service is the orchestrator surface the handlers need.
type Service interface {
	GetOrderBook(ctx context.Context, key domain.Key, opts marketdata.Options) (*marketdata.OrderBookResult, error)
	GetHistory(ctx context.Context, key domain.Key, days int, opts marketdata.Options) (*marketdata.HistoryResult, error)
	GetHistorySummary(ctx context.Context, key domain.Key, days int, opts marketdata.Options) (*marketdata.HistorySummary, error)
}

// Handler serves market data requests.
type Handler struct {
	service Service
	log     zerolog.Logger
}

// NewHandler creates the market data handler.
func NewHandler(service Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "marketdata").Logger(),
	}
}

// keyFromRequest parses the regionID/typeID path params.
func keyFromRequest(r *http.Request) (domain.Key, error) {
	regionID, err := strconv.ParseInt(chi.URLParam(r, "regionID"), 10, 32)
	if err != nil {
		return domain.Key{}, err
	}
	typeID, err := strconv.ParseInt(chi.URLParam(r, "typeID"), 10, 32)
	if err != nil {
		return domain.Key{}, err
	}
	return domain.Key{RegionID: int32(regionID), TypeID: int32(typeID)}, nil
}

// optionsFromRequest reads the forceRefresh and maxStaleSeconds query
// params.
func optionsFromRequest(r *http.Request) marketdata.Options {
	opts := marketdata.Options{}
	if v := r.URL.Query().Get("forceRefresh"); v == "true" || v == "1" {
		opts.ForceRefresh = true
	}
	if v := r.URL.Query().Get("maxStaleSeconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.MaxStaleSeconds = n
		}
	}
	return opts
}

func daysFromRequest(r *http.Request) int {
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// HandleOrderBook handles GET /api/markets/{regionID}/{typeID}.
func (h *Handler) HandleOrderBook(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_KEY", "regionID and typeID must be integers")
		return
	}

	result, err := h.service.GetOrderBook(r.Context(), key, optionsFromRequest(r))
	if err != nil {
		h.writeServiceError(w, key, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// HandleHistory handles GET /api/markets/{regionID}/{typeID}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_KEY", "regionID and typeID must be integers")
		return
	}

	result, err := h.service.GetHistory(r.Context(), key, daysFromRequest(r), optionsFromRequest(r))
	if err != nil {
		h.writeServiceError(w, key, err)
		return
	}
	writeData(w, http.StatusOK, result)
}

// HandleHistorySummary handles GET /api/markets/{regionID}/{typeID}/history/summary.
func (h *Handler) HandleHistorySummary(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_KEY", "regionID and typeID must be integers")
		return
	}

	summary, err := h.service.GetHistorySummary(r.Context(), key, daysFromRequest(r), optionsFromRequest(r))
	if err != nil {
		h.writeServiceError(w, key, err)
		return
	}
	writeData(w, http.StatusOK, summary)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, key domain.Key, err error) {
	if marketdata.IsNoData(err) {
		writeError(w, http.StatusNotFound, "NO_DATA", err.Error())
		return
	}
	h.log.Error().Err(err).Str("key", key.String()).Msg("Market data request failed")
	writeError(w, http.StatusServiceUnavailable, "UPSTREAM_DEGRADED", err.Error())
}

// writeData writes a {data, metadata} envelope.
func writeData(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"data":     data,
		"metadata": map[string]any{"timestamp": time.Now().UTC()},
	})
}

// writeError writes a {error: {code, message}} envelope.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
