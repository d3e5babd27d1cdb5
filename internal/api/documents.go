package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/ingest"
)

// DocumentInput is raw text added straight to the knowledge base.
type DocumentInput struct {
	Content string            `json:"content"`
	Source  string            `json:"source,omitempty"`
	Title   string            `json:"title,omitempty"`
	Extra   map[string]string `json:"metadata,omitempty"`
}

func (d DocumentInput) draft(embedding []float32) documents.Draft {
	source := d.Source
	if source == "" {
		source = "api"
	}
	return documents.Draft{
		Content:   d.Content,
		Embedding: embedding,
		Metadata: documents.Metadata{
			Source:      source,
			Title:       d.Title,
			ChunkIndex:  0,
			TotalChunks: 1,
			Extra:       d.Extra,
		},
	}
}

func (s *Server) documentsReady(w http.ResponseWriter) bool {
	if s.docStore == nil || s.embedder == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document store not configured")
		return false
	}
	return true
}

// POST /v1/documents {"content": "...", "source": "...", "title": "..."}
func (s *Server) handleDocumentAdd(w http.ResponseWriter, r *http.Request) {
	if !s.documentsReady(w) {
		return
	}
	var in DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(in.Content) == "" {
		s.errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	vec, err := s.embedder.Generate(r.Context(), in.Content)
	if err != nil {
		s.fail(w, "embed document", fmt.Errorf("%w: %w", ingest.ErrEmbedding, err), http.StatusBadGateway)
		return
	}
	d := in.draft(vec)
	doc, err := s.docStore.InsertPermanent(d.Content, d.Embedding, d.Metadata)
	if err != nil {
		s.fail(w, "store document", err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, doc, s.logger)
}

// POST /v1/documents/batch {"documents": [...]}
//
// Either every document is stored or none is.
func (s *Server) handleDocumentBatch(w http.ResponseWriter, r *http.Request) {
	if !s.documentsReady(w) {
		return
	}
	var body struct {
		Documents []DocumentInput `json:"documents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.Documents) == 0 {
		s.errorResponse(w, http.StatusBadRequest, "documents is required")
		return
	}
	texts := make([]string, len(body.Documents))
	for i, d := range body.Documents {
		if strings.TrimSpace(d.Content) == "" {
			s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("documents[%d]: content is required", i))
			return
		}
		texts[i] = d.Content
	}

	vecs, err := s.embedder.GenerateBatch(r.Context(), texts)
	if err != nil {
		s.fail(w, "embed batch", fmt.Errorf("%w: %w", ingest.ErrEmbedding, err), http.StatusBadGateway)
		return
	}
	if len(vecs) != len(texts) {
		s.fail(w, "embed batch", fmt.Errorf("%w: got %d vectors for %d documents", ingest.ErrEmbedding, len(vecs), len(texts)), http.StatusBadGateway)
		return
	}

	drafts := make([]documents.Draft, len(body.Documents))
	for i, d := range body.Documents {
		drafts[i] = d.draft(vecs[i])
	}
	docs, err := s.docStore.InsertPermanentGroup(drafts)
	if err != nil {
		s.fail(w, "store batch", err, http.StatusInternalServerError)
		return
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"ids":   ids,
		"count": len(ids),
	}, s.logger)
}

// ingestResponse is returned by the upload and URL endpoints.
type ingestResponse struct {
	*ingest.Result
	Chunks int `json:"chunks"`
}

// POST /v1/documents/upload (multipart: file, source)
func (s *Server) handleDocumentUpload(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document ingestion not configured")
		return
	}
	file, err := s.readUpload(w, r)
	if err != nil {
		s.fail(w, "upload", err, http.StatusBadRequest)
		return
	}
	res, err := s.ingester.IngestFile(r.Context(), file, ingest.Options{Source: r.FormValue("source")})
	if err != nil {
		s.fail(w, "ingest upload", err, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, ingestResponse{Result: res, Chunks: len(res.Documents)}, s.logger)
}

// POST /v1/documents/url {"url": "https://...", "source": "..."}
func (s *Server) handleDocumentURL(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document ingestion not configured")
		return
	}
	var body struct {
		URL    string `json:"url"`
		Source string `json:"source,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		s.errorResponse(w, http.StatusBadRequest, "url is required")
		return
	}

	// Unmapped failures here are upstream fetch problems.
	res, err := s.ingester.IngestURL(r.Context(), body.URL, ingest.Options{Source: body.Source})
	if err != nil {
		s.fail(w, "ingest url", err, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, ingestResponse{Result: res, Chunks: len(res.Documents)}, s.logger)
}

func (s *Server) handleDocumentGroup(w http.ResponseWriter, r *http.Request) {
	if s.docStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}
	id := r.PathValue("id")
	docs, err := s.docStore.FindByGroup(id)
	if err != nil {
		s.fail(w, "find group", err, http.StatusInternalServerError)
		return
	}
	if len(docs) == 0 {
		s.errorResponse(w, http.StatusNotFound, "document group not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"document_group_id": id,
		"documents":         docs,
		"count":             len(docs),
	}, s.logger)
}

// DELETE /v1/documents?source=upload:notes.md
func (s *Server) handleDocumentDelete(w http.ResponseWriter, r *http.Request) {
	if s.docStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}
	source := r.URL.Query().Get("source")
	if source == "" {
		s.errorResponse(w, http.StatusBadRequest, "source is required")
		return
	}
	n, err := s.docStore.DeleteBySource(source)
	if err != nil {
		s.fail(w, "delete documents", err, http.StatusInternalServerError)
		return
	}
	s.logger.Info("documents deleted", "source", source, "deleted", n)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"source":  source,
		"deleted": n,
	}, s.logger)
}

func (s *Server) handleDocumentStats(w http.ResponseWriter, r *http.Request) {
	if s.docStore == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "document store not configured")
		return
	}
	st, err := s.docStore.Stats()
	if err != nil {
		s.fail(w, "document stats", err, http.StatusInternalServerError)
		return
	}
	out := map[string]any{"documents": st}
	if s.memoryStore != nil {
		out["memory"] = s.memoryStore.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}
