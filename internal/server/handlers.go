package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	for _, db := range s.databases {
		if err := db.QuickCheck(r.Context()); err != nil {
			s.log.Error().Err(err).Str("database", db.Name()).Msg("Health check ping failed")
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, httpStatus, map[string]any{
		"status":  status,
		"service": "market-data",
	})
}

// handleCacheInvalidate handles POST /api/cache/invalidate.
// Body: {"key": "orderbook:10000002:34"} or {"prefix": "orderbook:10000002:"}.
func (s *Server) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key    string `json:"key"`
		Prefix string `json:"prefix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || (req.Key == "" && req.Prefix == "") {
		s.writeError(w, http.StatusBadRequest, "INVALID_BODY", "body must be JSON with a non-empty key or prefix")
		return
	}

	if req.Key != "" {
		if err := s.cache.Invalidate(req.Key); err != nil {
			s.log.Error().Err(err).Str("key", req.Key).Msg("Cache invalidation failed")
			s.writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
			return
		}
		s.writeData(w, http.StatusOK, map[string]any{"deleted": 1})
		return
	}

	deleted, err := s.cache.InvalidateByPrefix(req.Prefix)
	if err != nil {
		s.log.Error().Err(err).Str("prefix", req.Prefix).Msg("Cache invalidation failed")
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"deleted": deleted})
}

// handleCacheStats handles GET /api/cache/stats.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.cache.Metrics())
}

// handleUpstreamStatus handles GET /api/upstream/status.
func (s *Server) handleUpstreamStatus(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, s.upstream.Status(r.Context()))
}

// handleBackup handles POST /api/backup.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if s.backup == nil {
		s.writeError(w, http.StatusServiceUnavailable, "BACKUP_DISABLED", "backup is not configured")
		return
	}
	result := s.backup.Run(r.Context())
	s.writeData(w, http.StatusOK, result)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeData writes a {data, metadata} envelope.
func (s *Server) writeData(w http.ResponseWriter, status int, data any) {
	s.writeJSON(w, status, map[string]any{
		"data":     data,
		"metadata": map[string]any{"timestamp": time.Now().UTC()},
	})
}

// writeError writes a JSON error envelope.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}
