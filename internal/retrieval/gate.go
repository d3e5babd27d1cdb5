// Package retrieval turns a text query into knowledge-base hits that
// clear a relevance threshold, formatted for a model to read.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/embeddings"
)

// NoResults is returned by Search when nothing clears the threshold.
const NoResults = "No relevant documents found in the knowledge base."

// Searcher is the part of the document store the gate needs.
type Searcher interface {
	SimilaritySearch(query []float32, opts documents.SearchOptions) ([]documents.Result, error)
}

// Config bounds retrieval.
type Config struct {
	Threshold     *float32 // minimum cosine score; nil means documents.DefaultThreshold
	DefaultLimit  int      // results when the caller does not ask for a count
	MaxLimit      int      // hard cap on requested results
	PermanentOnly bool     // restrict to promoted or directly ingested documents
}

// Gate embeds queries and filters store hits.
type Gate struct {
	store    Searcher
	embedder embeddings.Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewGate creates a retrieval gate. Zero limits and a nil threshold fall
// back to the store defaults.
func NewGate(store Searcher, embedder embeddings.Embedder, cfg Config, logger *slog.Logger) *Gate {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = documents.DefaultK
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

func (g *Gate) threshold() float32 {
	if g.cfg.Threshold == nil {
		return documents.DefaultThreshold
	}
	return *g.cfg.Threshold
}

// MaxLimit returns the largest result count a caller may request.
func (g *Gate) MaxLimit() int {
	return g.cfg.MaxLimit
}

// Retrieve returns hits for query, best first. A limit of zero uses the
// default; larger limits are clamped to MaxLimit. Embedding failures are
// returned as errors.
func (g *Gate) Retrieve(ctx context.Context, query string, limit int) ([]documents.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if limit <= 0 {
		limit = g.cfg.DefaultLimit
	}
	limit = min(limit, g.cfg.MaxLimit)

	vec, err := g.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := g.store.SimilaritySearch(vec, documents.SearchOptions{
		K:             limit,
		Threshold:     g.threshold(),
		PermanentOnly: g.cfg.PermanentOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	g.logger.Debug("retrieval complete",
		"query_len", len(query),
		"limit", limit,
		"hits", len(results),
	)
	return results, nil
}

// Search runs Retrieve and formats the hits for the model. It never
// returns an empty string without an error.
func (g *Gate) Search(ctx context.Context, query string, limit int) (string, error) {
	results, err := g.Retrieve(ctx, query, limit)
	if err != nil {
		return "", err
	}
	return Format(results), nil
}

// Format renders hits as numbered entries with title, source and match
// percentage, followed by the chunk text.
func Format(results []documents.Result) string {
	if len(results) == 0 {
		return NoResults
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d relevant document(s):\n", len(results))
	for i, r := range results {
		title := r.Metadata.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "\n[%d] %s", i+1, title)
		if r.Metadata.Source != "" {
			fmt.Fprintf(&b, " (%s)", r.Metadata.Source)
		}
		if r.Metadata.TotalChunks > 1 {
			fmt.Fprintf(&b, " part %d/%d", r.Metadata.ChunkIndex+1, r.Metadata.TotalChunks)
		}
		fmt.Fprintf(&b, " - %.0f%% match\n", r.Score*100)
		if r.IsTemporary && r.Metadata.DocumentGroupID != "" {
			fmt.Fprintf(&b, "(temporary upload, documentGroupId: %s)\n", r.Metadata.DocumentGroupID)
		}
		b.WriteString(strings.TrimSpace(r.Content))
		b.WriteString("\n")
	}
	return b.String()
}
