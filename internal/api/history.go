package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// handleGetDeviceHistory returns recent accepted writes for a device,
// newest first.
func (s *Server) handleGetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if _, err := s.registry.Get(name); err != nil {
		writeDeviceError(w, err)
		return
	}

	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history unavailable")
		return
	}

	entries, err := s.history.GetHistory(r.Context(), name, limit)
	if err != nil {
		s.logger.Error("loading device history", "dev", name, "error", err)
		writeInternalError(w, "failed to load device history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dev":     name,
		"history": entries,
		"count":   len(entries),
	})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}
	return limit, nil
}
