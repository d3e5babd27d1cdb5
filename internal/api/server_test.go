package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	_ "modernc.org/sqlite"

	"github.com/nugget/docent/internal/agent"
	"github.com/nugget/docent/internal/connwatch"
	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/fetch"
	"github.com/nugget/docent/internal/ingest"
	"github.com/nugget/docent/internal/memory"
	"github.com/nugget/docent/internal/safety"
	"github.com/nugget/docent/internal/usage"
)

// fakeRunner records requests and answers from fn, or echoes.
type fakeRunner struct {
	mu   sync.Mutex
	reqs []agent.Request
	fn   func(req *agent.Request) (*agent.Response, error)
}

func (f *fakeRunner) Run(_ context.Context, req *agent.Request) (*agent.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, *req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	sid := req.SessionID
	if sid == "" {
		sid = "generated"
	}
	resp := &agent.Response{
		Content:      "echo: " + req.Message,
		SessionID:    sid,
		Model:        "test-model",
		FinishReason: agent.FinishStop,
		Iterations:   1,
	}
	if req.Attachment != nil {
		resp.DocumentGroupID = req.Attachment.GroupID
	}
	return resp, nil
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Generate(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) GenerateBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type flaggingScanner struct{}

func (flaggingScanner) ScanBytes(context.Context, string, []byte) (safety.Verdict, error) {
	return safety.Verdict{Positives: 4, Total: 70}, nil
}

func (flaggingScanner) ScanURL(context.Context, string) (safety.Verdict, error) {
	return safety.Verdict{Positives: 1, Total: 90}, nil
}

type testEnv struct {
	srv    *Server
	h      http.Handler
	runner *fakeRunner
	mem    *memory.Store
	docs   *documents.Store
	usage  *usage.Store
}

func newTestEnv(t *testing.T, scanner safety.Scanner, emb *fakeEmbedder) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	mem, err := memory.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	docs, err := documents.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	us, err := usage.NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	if emb == nil {
		emb = &fakeEmbedder{}
	}

	guard := safety.NewGuard(scanner, 0, nil, nil)
	in := ingest.New(docs, emb, guard, fetch.New(0), nil, nil, ingest.Config{ChunkSize: 200, ChunkOverlap: 20})

	runner := &fakeRunner{}
	srv := NewServer("", 0, runner, nil)
	srv.SetMemoryStore(mem)
	srv.SetDocumentStore(docs, emb)
	srv.SetIngester(in, 1, 1<<20)
	srv.SetUsageStore(us)

	return &testEnv{srv: srv, h: srv.Handler(), runner: runner, mem: mem, docs: docs, usage: us}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func multipartBody(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(fw, content); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode[struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}](t, rec)
	return body.Error.Message
}

func TestHealthAndRoot(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	for _, path := range []string{"/health", "/", "/v1/version"} {
		rec := env.do(t, http.MethodGet, path, nil, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d", path, rec.Code)
		}
	}
	if rec := env.do(t, http.MethodGet, "/nope", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", rec.Code)
	}
}

func TestHealth_ReportsServices(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	m := connwatch.NewManager(connwatch.Config{PollInterval: time.Hour}, nil, nil)
	t.Cleanup(m.Stop)
	m.Watch(context.Background(), "models", func(context.Context) error { return errors.New("refused") })
	env.srv.SetHealth(m)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
	body := decode[struct {
		Status   string             `json:"status"`
		Services []connwatch.Status `json:"services"`
	}](t, rec)
	if body.Status != "degraded" {
		t.Errorf("status = %q, want degraded", body.Status)
	}
	if len(body.Services) != 1 || body.Services[0].Name != "models" || body.Services[0].Ready {
		t.Errorf("services = %+v", body.Services)
	}
}

func TestUsage(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()
	now := time.Now()
	for _, rec := range []usage.Record{
		{Timestamp: now.Add(-time.Hour), RequestID: "r1", Model: "a", Provider: "ollama", InputTokens: 10, OutputTokens: 5},
		{Timestamp: now.Add(-2 * time.Hour), RequestID: "r2", Model: "b", Provider: "openai", InputTokens: 20, OutputTokens: 10, CostUSD: 0.5},
		{Timestamp: now.Add(-72 * time.Hour), RequestID: "r3", Model: "b", Provider: "openai", InputTokens: 999, OutputTokens: 999, CostUSD: 9},
	} {
		if err := env.usage.Record(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	body := decode[struct {
		Hours   int                       `json:"hours"`
		Total   usage.Summary             `json:"total"`
		ByModel map[string]*usage.Summary `json:"by_model"`
	}](t, env.do(t, http.MethodGet, "/v1/usage", nil, ""))
	if body.Hours != 24 || body.Total.Calls != 2 || body.Total.InputTokens != 30 {
		t.Errorf("24h usage = %+v", body)
	}
	if body.ByModel["b"] == nil || body.ByModel["b"].CostUSD != 0.5 {
		t.Errorf("by_model = %+v", body.ByModel)
	}

	body = decode[struct {
		Hours   int                       `json:"hours"`
		Total   usage.Summary             `json:"total"`
		ByModel map[string]*usage.Summary `json:"by_model"`
	}](t, env.do(t, http.MethodGet, "/v1/usage?hours=96", nil, ""))
	if body.Total.Calls != 3 {
		t.Errorf("96h calls = %d, want 3", body.Total.Calls)
	}
}

func TestChat(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hello","session_id":"s1","model":"m"}`), "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[map[string]any](t, rec)
	if resp["response"] != "echo: hello" || resp["session_id"] != "s1" || resp["finish_reason"] != "stop" {
		t.Errorf("response = %v", resp)
	}
	if got := env.runner.reqs[0]; got.Model != "m" || got.Attachment != nil {
		t.Errorf("request = %+v", got)
	}
}

func TestChat_Validation(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"empty message", `{"message":""}`},
		{"whitespace message", `{"message":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/chat", strings.NewReader(tt.body), "application/json")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
	if len(env.runner.reqs) != 0 {
		t.Errorf("runner called %d times", len(env.runner.reqs))
	}
}

func TestChat_ModelFailure(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.runner.fn = func(*agent.Request) (*agent.Response, error) {
		return nil, fmt.Errorf("%w: connection refused", agent.ErrModel)
	}

	rec := env.do(t, http.MethodPost, "/v1/chat", strings.NewReader(`{"message":"hi"}`), "application/json")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestChatDocument(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	body, ct := multipartBody(t, map[string]string{"message": "what is this?", "session_id": "s1"},
		"notes.md", "# Garden Notes\n\nTomatoes need six hours of sun.")
	rec := env.do(t, http.MethodPost, "/v1/chat/document", body, ct)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	req := env.runner.reqs[0]
	if req.Attachment == nil {
		t.Fatal("turn ran without attachment")
	}
	if req.Attachment.Title != "Garden Notes" || len(req.Attachment.Chunks) != 1 {
		t.Errorf("attachment = %+v", req.Attachment)
	}

	docs, err := env.docs.FindByGroup(req.Attachment.GroupID)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || !docs[0].IsTemporary || docs[0].ExpiresAt == nil {
		t.Errorf("stored = %+v, want one temporary chunk", docs)
	}

	resp := decode[map[string]any](t, rec)
	if resp["document_group_id"] != req.Attachment.GroupID {
		t.Errorf("document_group_id = %v", resp["document_group_id"])
	}
}

func TestChatDocument_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		scanner  safety.Scanner
		fields   map[string]string
		filename string
		content  string
		want     int
		wantMsg  string
	}{
		{"missing message", nil, nil, "a.txt", "text", http.StatusBadRequest, "message is required"},
		{"missing file", nil, map[string]string{"message": "hi"}, "", "", http.StatusBadRequest, "file is required"},
		{"unsupported type", nil, map[string]string{"message": "hi"}, "photo.png", "\x89PNG\r\n\x1a\n\x00\x00", http.StatusBadRequest, "unsupported"},
		{"flagged", flaggingScanner{}, map[string]string{"message": "hi"}, "a.txt", "text", http.StatusUnprocessableEntity, "4/70"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.scanner, nil)
			body, ct := multipartBody(t, tt.fields, tt.filename, tt.content)
			rec := env.do(t, http.MethodPost, "/v1/chat/document", body, ct)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			if msg := errorMessage(t, rec); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", msg, tt.wantMsg)
			}
			if len(env.runner.reqs) != 0 {
				t.Error("turn ran after rejection")
			}
			if st, _ := env.docs.Stats(); st.Total != 0 {
				t.Errorf("stored %d documents after rejection", st.Total)
			}
		})
	}
}

func TestChatDocument_TooLarge(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.srv.SetIngester(env.srv.ingester, 1, 64)

	body, ct := multipartBody(t, map[string]string{"message": "hi"}, "big.txt", strings.Repeat("a", 4096))
	rec := env.do(t, http.MethodPost, "/v1/chat/document", body, ct)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	for i := range 3 {
		if _, err := env.mem.Append("s1", memory.RoleUser, fmt.Sprintf("q%d", i), memory.Metadata{}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.mem.Append("s2", memory.RoleUser, "other", memory.Metadata{}); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, http.MethodGet, "/v1/sessions", nil, "")
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if list.Count != 2 {
		t.Errorf("sessions count = %d, want 2", list.Count)
	}

	rec = env.do(t, http.MethodGet, "/v1/sessions/s1/messages?limit=2", nil, "")
	msgs := decode[struct {
		Messages []memory.Message `json:"messages"`
	}](t, rec)
	if len(msgs.Messages) != 2 || msgs.Messages[0].Content != "q1" || msgs.Messages[1].Content != "q2" {
		t.Errorf("messages = %+v", msgs.Messages)
	}

	rec = env.do(t, http.MethodGet, "/v1/sessions/s1/export", nil, "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown") {
		t.Errorf("export status=%d type=%q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "# Session s1") {
		t.Errorf("export body = %q", rec.Body.String())
	}

	rec = env.do(t, http.MethodDelete, "/v1/sessions/s1", nil, "")
	if del := decode[struct {
		Deleted int `json:"deleted"`
	}](t, rec); del.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", del.Deleted)
	}

	if rec := env.do(t, http.MethodGet, "/v1/sessions/s1/export", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("export after delete = %d, want 404", rec.Code)
	}
}

func TestDocumentAddAndBatch(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(t, http.MethodPost, "/v1/documents", strings.NewReader(`{"content":"The office wifi password rotates monthly.","source":"handbook"}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}
	doc := decode[documents.Document](t, rec)
	if doc.IsTemporary || doc.Metadata.Source != "handbook" {
		t.Errorf("doc = %+v", doc)
	}

	rec = env.do(t, http.MethodPost, "/v1/documents/batch", strings.NewReader(`{"documents":[{"content":"one"},{"content":"two"}]}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("batch status = %d: %s", rec.Code, rec.Body.String())
	}
	batch := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	if batch.Count != 2 {
		t.Errorf("batch count = %d", batch.Count)
	}

	st, err := env.docs.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Permanent != 3 || st.Embedded != 3 {
		t.Errorf("stats = %+v, want 3 permanent embedded", st)
	}

	rec = env.do(t, http.MethodGet, "/v1/documents/stats", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("stats status = %d", rec.Code)
	}
}

func TestDocumentAdd_Errors(t *testing.T) {
	env := newTestEnv(t, nil, &fakeEmbedder{err: errors.New("ollama down")})

	if rec := env.do(t, http.MethodPost, "/v1/documents", strings.NewReader(`{"content":""}`), "application/json"); rec.Code != http.StatusBadRequest {
		t.Errorf("empty content = %d, want 400", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/documents", strings.NewReader(`{"content":"x"}`), "application/json"); rec.Code != http.StatusBadGateway {
		t.Errorf("embed failure = %d, want 502", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/v1/documents/batch", strings.NewReader(`{"documents":[{"content":"a"},{"content":" "}]}`), "application/json"); rec.Code != http.StatusBadRequest {
		t.Errorf("blank batch entry = %d, want 400", rec.Code)
	}
	if st, _ := env.docs.Stats(); st.Total != 0 {
		t.Errorf("stored %d documents", st.Total)
	}
}

func TestDocumentUploadGroupAndDelete(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	body, ct := multipartBody(t, map[string]string{"source": "manual"}, "guide.txt", "Step one. Step two.")
	rec := env.do(t, http.MethodPost, "/v1/documents/upload", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[struct {
		GroupID   string `json:"document_group_id"`
		Temporary bool   `json:"temporary"`
		Chunks    int    `json:"chunks"`
	}](t, rec)
	if res.GroupID == "" || res.Temporary || res.Chunks != 1 {
		t.Errorf("upload result = %+v", res)
	}

	rec = env.do(t, http.MethodGet, "/v1/documents/groups/"+res.GroupID, nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("group status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/v1/documents/groups/missing", nil, ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing group = %d, want 404", rec.Code)
	}

	if rec := env.do(t, http.MethodDelete, "/v1/documents", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("delete without source = %d, want 400", rec.Code)
	}
	rec = env.do(t, http.MethodDelete, "/v1/documents?source=manual", nil, "")
	if del := decode[struct {
		Deleted int `json:"deleted"`
	}](t, rec); del.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", del.Deleted)
	}
}

func TestDocumentURL(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Release Notes</title></head><body><main><p>Version 2 adds offline mode.</p></main></body></html>`)
	}))
	defer page.Close()

	env := newTestEnv(t, nil, nil)
	rec := env.do(t, http.MethodPost, "/v1/documents/url", strings.NewReader(`{"url":"`+page.URL+`/notes"}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	res := decode[struct {
		Title string `json:"title"`
	}](t, rec)
	if res.Title != "Release Notes" {
		t.Errorf("title = %q", res.Title)
	}

	tests := []struct {
		name    string
		scanner safety.Scanner
		body    string
		want    int
	}{
		{"missing url", nil, `{"url":""}`, http.StatusBadRequest},
		{"invalid url", nil, `{"url":"http://"}`, http.StatusBadRequest},
		{"flagged", flaggingScanner{}, `{"url":"` + page.URL + `"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.scanner, nil)
			rec := env.do(t, http.MethodPost, "/v1/documents/url", strings.NewReader(tt.body), "application/json")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestChatWebSocket(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ts := httptest.NewServer(env.h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ChatRequest{Message: "first"}); err != nil {
		t.Fatal(err)
	}
	var f wsFrame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Type != "response" || f.Response == nil || f.Response.Content != "echo: first" {
		t.Fatalf("frame = %+v", f)
	}

	// The session id sticks to the connection.
	if err := conn.WriteJSON(ChatRequest{Message: "second"}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.SessionID != "generated" {
		t.Errorf("session = %q, want generated", f.SessionID)
	}

	if err := conn.WriteJSON(ChatRequest{Message: ""}); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatal(err)
	}
	if f.Type != "error" || f.Status != http.StatusBadRequest {
		t.Errorf("frame = %+v, want 400 error", f)
	}

	env.runner.mu.Lock()
	defer env.runner.mu.Unlock()
	if len(env.runner.reqs) != 2 || env.runner.reqs[1].SessionID != "generated" {
		t.Errorf("requests = %+v", env.runner.reqs)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&safety.RejectedError{Target: "x", Verdict: safety.Verdict{Positives: 1, Total: 2}}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", ingest.ErrUnsupportedType), http.StatusBadRequest},
		{ingest.ErrEmptyDocument, http.StatusBadRequest},
		{documents.ErrInvalidTTL, http.StatusBadRequest},
		{fetch.ErrInvalidURL, http.StatusBadRequest},
		{agent.ErrEmptyMessage, http.StatusBadRequest},
		{ingest.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: boom", ingest.ErrEmbedding), http.StatusBadGateway},
		{fmt.Errorf("%w: boom", agent.ErrModel), http.StatusBadGateway},
		{errors.New("other"), http.StatusTeapot},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err, http.StatusTeapot); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
