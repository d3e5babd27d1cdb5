// Package documents stores text chunks with embeddings and manages their
// lifecycle. A document is either temporary, carrying an expiry set at
// creation, or permanent. Promotion moves a temporary document to
// permanent exactly once; the cleanup sweep removes temporaries whose
// expiry has passed. Chunks ingested together share a group id and are
// always created in one transaction.
package documents

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTTL is returned when a temporary document is created with a
// non-positive lifetime.
var ErrInvalidTTL = errors.New("temporary documents require a positive ttl")

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("document not found")

// Metadata describes where a chunk came from and where it sits in its
// group.
type Metadata struct {
	Source          string            `json:"source,omitempty"`
	Title           string            `json:"title,omitempty"`
	DocumentGroupID string            `json:"document_group_id,omitempty"`
	ChunkIndex      int               `json:"chunk_index"`
	TotalChunks     int               `json:"total_chunks"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// Document is one stored chunk of text.
type Document struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Embedding   []float32  `json:"-"`
	Metadata    Metadata   `json:"metadata"`
	IsTemporary bool       `json:"is_temporary"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	PromotedAt  *time.Time `json:"promoted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasEmbedding reports whether the document can take part in similarity
// search.
func (d Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// Draft is content waiting to be stored.
type Draft struct {
	Content   string
	Embedding []float32
	Metadata  Metadata
}

// NewTemporary builds a temporary document that expires ttl after now.
func NewTemporary(d Draft, now time.Time, ttl time.Duration) (Document, error) {
	if ttl <= 0 {
		return Document{}, fmt.Errorf("%w: got %s", ErrInvalidTTL, ttl)
	}
	doc := newDocument(d, now)
	expires := now.Add(ttl)
	doc.IsTemporary = true
	doc.ExpiresAt = &expires
	return doc, nil
}

// NewPermanent builds a permanent document.
func NewPermanent(d Draft, now time.Time) Document {
	return newDocument(d, now)
}

func newDocument(d Draft, now time.Time) Document {
	id, _ := uuid.NewV7()
	return Document{
		ID:        id.String(),
		Content:   d.Content,
		Embedding: d.Embedding,
		Metadata:  d.Metadata,
		CreatedAt: now,
	}
}

// Result is a similarity search hit.
type Result struct {
	Document
	Score float32 `json:"score"`
}

// SearchOptions controls SimilaritySearch.
type SearchOptions struct {
	K             int
	Threshold     float32
	PermanentOnly bool
}

// Default search settings.
const (
	DefaultK         = 5
	DefaultThreshold = 0.7
)

// DefaultSearchOptions returns k=5, threshold=0.7 over all documents.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{K: DefaultK, Threshold: DefaultThreshold}
}

// Stats summarizes store contents.
type Stats struct {
	Total     int `json:"total"`
	Temporary int `json:"temporary"`
	Permanent int `json:"permanent"`
	Embedded  int `json:"embedded"`
	Groups    int `json:"groups"`
}
