// Package api implements the Docent HTTP API.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/docent/internal/agent"
	"github.com/nugget/docent/internal/buildinfo"
	"github.com/nugget/docent/internal/connwatch"
	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/embeddings"
	"github.com/nugget/docent/internal/fetch"
	"github.com/nugget/docent/internal/ingest"
	"github.com/nugget/docent/internal/memory"
	"github.com/nugget/docent/internal/safety"
	"github.com/nugget/docent/internal/usage"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// TurnRunner runs one conversational turn.
type TurnRunner interface {
	Run(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

// DocumentIngester stores uploaded files and fetched URLs.
type DocumentIngester interface {
	IngestFile(ctx context.Context, f ingest.File, opts ingest.Options) (*ingest.Result, error)
	IngestURL(ctx context.Context, rawURL string, opts ingest.Options) (*ingest.Result, error)
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	loop    TurnRunner
	logger  *slog.Logger
	server  *http.Server

	memoryStore *memory.Store
	docStore    *documents.Store
	embedder    embeddings.Embedder
	ingester    DocumentIngester
	usageStore  *usage.Store
	health      *connwatch.Manager

	temporaryTTLHours int
	maxUploadBytes    int64
}

// NewServer creates a new API server.
func NewServer(address string, port int, loop TurnRunner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:           address,
		port:              port,
		loop:              loop,
		logger:            logger.With("component", "api"),
		temporaryTTLHours: 1,
		maxUploadBytes:    ingest.DefaultMaxBytes,
	}
}

// SetMemoryStore configures the session endpoints.
func (s *Server) SetMemoryStore(ms *memory.Store) {
	s.memoryStore = ms
}

// SetDocumentStore configures direct document writes and lookups. The
// embedder computes embeddings for directly added text.
func (s *Server) SetDocumentStore(ds *documents.Store, embedder embeddings.Embedder) {
	s.docStore = ds
	s.embedder = embedder
}

// SetIngester configures uploads. ttlHours applies to documents attached
// to a chat turn; maxBytes bounds request bodies.
func (s *Server) SetIngester(in DocumentIngester, ttlHours int, maxBytes int64) {
	s.ingester = in
	if ttlHours > 0 {
		s.temporaryTTLHours = ttlHours
	}
	if maxBytes > 0 {
		s.maxUploadBytes = maxBytes
	}
}

// SetUsageStore configures the usage endpoint.
func (s *Server) SetUsageStore(us *usage.Store) {
	s.usageStore = us
}

// SetHealth attaches dependency watchers to the health endpoint.
func (s *Server) SetHealth(m *connwatch.Manager) {
	s.health = m
}

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/document", s.handleChatDocument)
	mux.HandleFunc("GET /v1/chat/ws", s.handleChatWS)

	mux.HandleFunc("GET /v1/sessions", s.handleSessionList)
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.handleSessionMessages)
	mux.HandleFunc("GET /v1/sessions/{id}/export", s.handleSessionExport)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleSessionDelete)

	mux.HandleFunc("POST /v1/documents", s.handleDocumentAdd)
	mux.HandleFunc("POST /v1/documents/batch", s.handleDocumentBatch)
	mux.HandleFunc("POST /v1/documents/upload", s.handleDocumentUpload)
	mux.HandleFunc("POST /v1/documents/url", s.handleDocumentURL)
	mux.HandleFunc("GET /v1/documents/groups/{id}", s.handleDocumentGroup)
	mux.HandleFunc("DELETE /v1/documents", s.handleDocumentDelete)
	mux.HandleFunc("GET /v1/documents/stats", s.handleDocumentStats)

	mux.HandleFunc("GET /v1/usage", s.handleUsage)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 60 * time.Second,
		// Long enough for a multi-iteration tool-using turn.
		WriteTimeout: 5 * time.Minute,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Docent",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleHealth always answers 200 while the process serves requests.
// Unreachable dependencies are reported as "degraded".
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"status": "healthy"}
	if s.health != nil {
		if !s.health.Healthy() {
			out["status"] = "degraded"
		}
		out["services"] = s.health.Status()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

// statusFor maps pipeline errors onto HTTP codes. Errors with no
// specific mapping get fallback.
func statusFor(err error, fallback int) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, safety.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrTooLarge),
		errors.Is(err, fetch.ErrTooLarge),
		errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrUnsupportedType),
		errors.Is(err, ingest.ErrEmptyDocument),
		errors.Is(err, documents.ErrInvalidTTL),
		errors.Is(err, fetch.ErrInvalidURL),
		errors.Is(err, agent.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrEmbedding),
		errors.Is(err, agent.ErrModel):
		return http.StatusBadGateway
	}
	return fallback
}

// fail logs server-side failures and writes the mapped error.
func (s *Server) fail(w http.ResponseWriter, what string, err error, fallback int) {
	code := statusFor(err, fallback)
	if code >= 500 {
		s.logger.Error(what+" failed", "error", err)
	} else {
		s.logger.Info(what+" refused", "status", code, "error", err)
	}
	s.errorResponse(w, code, err.Error())
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
