package api

import (
	"net/http"
	"time"
)

// handleUsage reports token usage and cost over the last ?hours=
// (default 24), in total and per model.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usageStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}

	hours := parseIntParam(r, "hours", 24)
	if hours == 0 {
		hours = 24
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.usageStore.Summary(start, end)
	if err != nil {
		s.fail(w, "usage summary", err, http.StatusInternalServerError)
		return
	}
	byModel, err := s.usageStore.SummaryByModel(start, end)
	if err != nil {
		s.fail(w, "usage by model", err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"start":    start.UTC(),
		"end":      end.UTC(),
		"hours":    hours,
		"total":    total,
		"by_model": byModel,
	}, s.logger)
}
