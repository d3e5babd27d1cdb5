package api

import (
	"fmt"
	"net/http"

	"github.com/nugget/docent/internal/memory"
)

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	sessions, err := s.memoryStore.Sessions()
	if err != nil {
		s.fail(w, "list sessions", err, http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []memory.SessionSummary{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	}, s.logger)
}

// GET /v1/sessions/{id}/messages?limit=20
//
// limit=0 or absent returns the whole transcript.
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	id := r.PathValue("id")
	limit := parseIntParam(r, "limit", 0)

	var (
		msgs []memory.Message
		err  error
	)
	if limit > 0 {
		msgs, err = s.memoryStore.Recent(id, limit)
	} else {
		msgs, err = s.memoryStore.All(id)
	}
	if err != nil {
		s.fail(w, "load messages", err, http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []memory.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"messages":   msgs,
		"count":      len(msgs),
	}, s.logger)
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	id := r.PathValue("id")
	msgs, err := s.memoryStore.All(id)
	if err != nil {
		s.fail(w, "export session", err, http.StatusInternalServerError)
		return
	}
	if len(msgs) == 0 {
		s.errorResponse(w, http.StatusNotFound, "session not found")
		return
	}

	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"session-%s.md\"", short))
	fmt.Fprint(w, memory.ExportMarkdown(id, msgs))
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if s.memoryStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "memory not configured")
		return
	}
	id := r.PathValue("id")
	n, err := s.memoryStore.Clear(id)
	if err != nil {
		s.fail(w, "delete session", err, http.StatusInternalServerError)
		return
	}
	s.logger.Info("session cleared", "session_id", id, "messages", n)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"session_id": id,
		"deleted":    n,
	}, s.logger)
}
