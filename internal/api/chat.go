package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nugget/docent/internal/agent"
	"github.com/nugget/docent/internal/ingest"
)

// ChatRequest is the body of POST /v1/chat and each WebSocket frame.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

// POST /v1/chat {"message": "what do we know about the lease?"}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.loop.Run(r.Context(), &agent.Request{
		SessionID: req.SessionID,
		Message:   req.Message,
		Model:     req.Model,
	})
	if err != nil {
		s.fail(w, "chat turn", err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// POST /v1/chat/document (multipart: message, session_id, model, file)
//
// The file is stored as a temporary group before the turn runs, so the
// model can offer to promote it.
func (s *Server) handleChatDocument(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document ingestion not configured")
		return
	}

	file, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, "chat upload", err, http.StatusBadRequest)
		return
	}
	message := strings.TrimSpace(r.FormValue("message"))
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	res, err := s.ingester.IngestFile(r.Context(), file, ingest.Options{
		Temporary: true,
		TTLHours:  s.temporaryTTLHours,
	})
	if err != nil {
		s.fail(w, "chat attachment ingest", err, http.StatusInternalServerError)
		return
	}

	resp, err := s.loop.Run(r.Context(), &agent.Request{
		SessionID: r.FormValue("session_id"),
		Message:   message,
		Model:     r.FormValue("model"),
		Attachment: &agent.Attachment{
			Title:   res.Title,
			GroupID: res.GroupID,
			Chunks:  res.Chunks(),
		},
	})
	if err != nil {
		s.fail(w, "chat turn", err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// readUpload parses a multipart request and reads its "file" part.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (ingest.File, error) {
	// Leave headroom for the other form fields.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return ingest.File{}, fmt.Errorf("parse upload: %w", err)
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return ingest.File{}, fmt.Errorf("%w: file is required", ingest.ErrEmptyDocument)
		}
		return ingest.File{}, fmt.Errorf("read upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUploadBytes+1))
	if err != nil {
		return ingest.File{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return ingest.File{}, fmt.Errorf("%w: %s exceeds %s", ingest.ErrTooLarge, header.Filename, ingest.FormatSize(s.maxUploadBytes))
	}
	return ingest.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}
