// Package ingest turns uploaded files and fetched URLs into document
// groups: each artifact is type-checked, scanned, extracted to text,
// split into ordered chunks, embedded and stored in one transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/embeddings"
	"github.com/nugget/docent/internal/events"
	"github.com/nugget/docent/internal/fetch"
	"github.com/nugget/docent/internal/safety"
)

// Validation errors. They are reported before any scan or write.
var (
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrEmptyDocument   = errors.New("document has no extractable text")
	ErrTooLarge        = errors.New("document too large")
)

// ErrEmbedding wraps embedding service failures during ingestion.
var ErrEmbedding = errors.New("embedding failed")

// DefaultMaxBytes is the upload size limit when none is configured.
const DefaultMaxBytes int64 = 10 * 1024 * 1024

// GroupStore persists document groups.
type GroupStore interface {
	InsertTemporaryGroup(drafts []documents.Draft, ttlHours int) ([]documents.Document, error)
	InsertPermanentGroup(drafts []documents.Draft) ([]documents.Document, error)
}

// File is an uploaded artifact.
type File struct {
	Name        string
	ContentType string // as declared by the client; may be empty
	Data        []byte
}

// Options control where ingested chunks land.
type Options struct {
	// Temporary stores the group with a TTL instead of permanently.
	Temporary bool
	TTLHours  int
	// Source overrides the default source label.
	Source string
}

func (o Options) validate() error {
	if o.Temporary && o.TTLHours <= 0 {
		return documents.ErrInvalidTTL
	}
	return nil
}

// Result describes a stored group.
type Result struct {
	GroupID     string               `json:"document_group_id"`
	Title       string               `json:"title"`
	Source      string               `json:"source"`
	ContentType string               `json:"content_type"`
	Temporary   bool                 `json:"temporary"`
	Documents   []documents.Document `json:"-"`
	Verdict     safety.Verdict       `json:"scan"`
}

// Chunks returns the stored chunk texts in order.
func (r *Result) Chunks() []string {
	out := make([]string, len(r.Documents))
	for i, d := range r.Documents {
		out[i] = d.Content
	}
	return out
}

// Config controls chunking and limits.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MaxBytes     int64
}

// Ingester runs the ingestion pipeline.
type Ingester struct {
	store      GroupStore
	embedder   embeddings.Embedder
	guard      *safety.Guard
	fetcher    *fetch.Fetcher
	chunker    Chunker
	maxBytes   int64
	extractors map[string]Extractor
	bus        *events.Bus
	logger     *slog.Logger
}

// New creates an ingester with the built-in extractors. embedder may be
// nil, in which case chunks are stored unembedded for later backfill.
// guard, fetcher and bus may be nil.
func New(store GroupStore, embedder embeddings.Embedder, guard *safety.Guard, fetcher *fetch.Fetcher, bus *events.Bus, logger *slog.Logger, cfg Config) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	if guard == nil {
		guard = safety.NewGuard(nil, 0, bus, logger)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if fetcher == nil {
		fetcher = fetch.New(cfg.MaxBytes)
	}
	in := &Ingester{
		store:    store,
		embedder: embedder,
		guard:    guard,
		fetcher:  fetcher,
		chunker:  Chunker{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		maxBytes: cfg.MaxBytes,
		bus:      bus,
		logger:   logger.With("component", "ingest"),
		extractors: map[string]Extractor{
			TypeText:     ExtractorFunc(extractText),
			TypeMarkdown: ExtractorFunc(extractMarkdown),
			TypeHTML:     ExtractorFunc(extractHTML),
			TypeEmail:    ExtractorFunc(extractEmail),
		},
	}
	return in
}

// RegisterExtractor adds or replaces the extractor for a media type,
// e.g. a PDF text extractor.
func (in *Ingester) RegisterExtractor(mediaType string, e Extractor) {
	in.extractors[strings.ToLower(mediaType)] = e
}

// Supports reports whether a media type has an extractor.
func (in *Ingester) Supports(mediaType string) bool {
	_, ok := in.extractors[strings.ToLower(mediaType)]
	return ok
}

// IngestFile stores an uploaded file.
func (in *Ingester) IngestFile(ctx context.Context, f File, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if len(f.Data) == 0 {
		return nil, ErrEmptyDocument
	}
	if int64(len(f.Data)) > in.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %s", ErrTooLarge, FormatSize(int64(len(f.Data))), FormatSize(in.maxBytes))
	}
	mt := DetectType(f.Name, f.ContentType, f.Data)
	ext, err := in.extractor(mt)
	if err != nil {
		return nil, err
	}

	verdict, err := in.guard.CheckBytes(ctx, f.Name, f.Data)
	if err != nil {
		return nil, err
	}

	source := opts.Source
	if source == "" {
		source = "upload:" + f.Name
	}
	return in.ingest(ctx, ext, f.Data, mt, f.Name, source, verdict, opts)
}

// IngestURL fetches and stores a URL. The URL is scanned before it is
// fetched.
func (in *Ingester) IngestURL(ctx context.Context, rawURL string, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	target, err := fetch.Normalize(rawURL)
	if err != nil {
		return nil, err
	}

	verdict, err := in.guard.CheckURL(ctx, target)
	if err != nil {
		return nil, err
	}

	resp, err := in.fetcher.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return nil, ErrEmptyDocument
	}

	name := target
	if u, err := url.Parse(resp.URL); err == nil {
		name = path.Base(u.Path)
	}
	mt := DetectType(name, resp.ContentType, resp.Body)
	ext, err := in.extractor(mt)
	if err != nil {
		return nil, err
	}

	source := opts.Source
	if source == "" {
		source = resp.URL
	}
	return in.ingest(ctx, ext, resp.Body, mt, resp.URL, source, verdict, opts)
}

func (in *Ingester) extractor(mt string) (Extractor, error) {
	ext, ok := in.extractors[mt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}
	return ext, nil
}

func (in *Ingester) ingest(ctx context.Context, ext Extractor, data []byte, mt, name, source string, verdict safety.Verdict, opts Options) (*Result, error) {
	start := time.Now()

	ex, err := ext.Extract(data)
	if err != nil {
		if errors.Is(err, ErrUnsupportedType) {
			return nil, err
		}
		return nil, fmt.Errorf("extract %s: %w", mt, err)
	}
	chunks := in.chunker.Split(ex.Text)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	title := strings.TrimSpace(ex.Title)
	if title == "" {
		title = name
	}

	var vecs [][]float32
	if in.embedder != nil {
		vecs, err = in.embedder.GenerateBatch(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
	}

	extra := map[string]string{"content_type": mt}
	for k, v := range ex.Extra {
		extra[k] = v
	}
	if ex.Author != "" {
		extra["author"] = ex.Author
	}
	if ex.Date != "" {
		extra["date"] = ex.Date
	}
	if verdict.Inconclusive {
		extra["scan"] = "inconclusive"
	}

	gid, _ := uuid.NewV7()
	groupID := gid.String()
	drafts := make([]documents.Draft, len(chunks))
	for i, c := range chunks {
		drafts[i] = documents.Draft{
			Content: c,
			Metadata: documents.Metadata{
				Source:          source,
				Title:           title,
				DocumentGroupID: groupID,
				ChunkIndex:      i,
				TotalChunks:     len(chunks),
				Extra:           extra,
			},
		}
		if i < len(vecs) {
			drafts[i].Embedding = vecs[i]
		}
	}

	var docs []documents.Document
	if opts.Temporary {
		docs, err = in.store.InsertTemporaryGroup(drafts, opts.TTLHours)
	} else {
		docs, err = in.store.InsertPermanentGroup(drafts)
	}
	if err != nil {
		return nil, fmt.Errorf("store group: %w", err)
	}

	in.logger.Info("document ingested",
		"group", groupID,
		"title", title,
		"source", source,
		"type", mt,
		"chunks", len(docs),
		"temporary", opts.Temporary,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	in.bus.Emit(events.SourceDocuments, events.KindDocumentIngested, map[string]any{
		"document_group_id": groupID,
		"source":            source,
		"chunks":            len(docs),
		"temporary":         opts.Temporary,
	})

	return &Result{
		GroupID:     groupID,
		Title:       title,
		Source:      source,
		ContentType: mt,
		Temporary:   opts.Temporary,
		Documents:   docs,
		Verdict:     verdict,
	}, nil
}

// DetectType picks the media type of an artifact from its file
// extension, then the declared content type, then content sniffing.
func DetectType(name, declared string, data []byte) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".text", ".log", ".csv":
		return TypeText
	case ".md", ".markdown":
		return TypeMarkdown
	case ".html", ".htm", ".xhtml":
		return TypeHTML
	case ".eml":
		return TypeEmail
	case ".pdf":
		return TypePDF
	}

	if mt := fetch.MediaType(declared); mt != "" && mt != "application/octet-stream" {
		switch mt {
		case "application/xhtml+xml":
			return TypeHTML
		case "text/x-markdown":
			return TypeMarkdown
		}
		return mt
	}

	sniffed := fetch.MediaType(http.DetectContentType(data))
	return sniffed
}

// FormatSize renders a byte count for messages.
func FormatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return strconv.FormatFloat(float64(n)/(1<<20), 'f', 1, 64) + " MB"
	case n >= 1<<10:
		return strconv.FormatFloat(float64(n)/(1<<10), 'f', 1, 64) + " KB"
	}
	return strconv.FormatInt(n, 10) + " B"
}
