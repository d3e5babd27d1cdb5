package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/events"
)

type fakeGate struct {
	gotQuery string
	gotLimit int
	max      int
	out      string
	err      error
}

func (g *fakeGate) Search(_ context.Context, query string, limit int) (string, error) {
	g.gotQuery, g.gotLimit = query, limit
	return g.out, g.err
}

func (g *fakeGate) MaxLimit() int { return g.max }

func newDocStore(t *testing.T) *documents.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store, err := documents.NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestSearchDocuments(t *testing.T) {
	gate := &fakeGate{max: 10, out: "Found 1 relevant document(s)"}
	r := NewRegistry(nil)
	r.RegisterDocumentTools(gate, newDocStore(t), nil)

	got, ok := r.Execute(context.Background(), "search_documents", map[string]any{"query": "vacation policy", "limit": float64(50)})
	if !ok || got != gate.out {
		t.Fatalf("Execute = %q, %v", got, ok)
	}
	if gate.gotQuery != "vacation policy" {
		t.Errorf("query = %q", gate.gotQuery)
	}
	if gate.gotLimit != 10 {
		t.Errorf("limit = %d, want clamped to 10", gate.gotLimit)
	}
}

func TestSearchDocumentsEmbeddingFailure(t *testing.T) {
	gate := &fakeGate{max: 10, err: errors.New("embedding service unavailable")}
	r := NewRegistry(nil)
	r.RegisterDocumentTools(gate, newDocStore(t), nil)

	got, ok := r.Execute(context.Background(), "search_documents", map[string]any{"query": "anything"})
	if !ok {
		t.Errorf("embedding failure should be a tool result, got failure %q", got)
	}
	if !strings.Contains(got, "embedding service unavailable") {
		t.Errorf("result = %q", got)
	}
}

func TestPromoteThreeChunkGroup(t *testing.T) {
	store := newDocStore(t)
	drafts := make([]documents.Draft, 3)
	for i := range drafts {
		drafts[i] = documents.Draft{
			Content:   "part",
			Embedding: []float32{1, 0},
			Metadata: documents.Metadata{
				Title:           "Quarterly Report",
				Source:          "upload:q3.txt",
				DocumentGroupID: "group-3",
				ChunkIndex:      i,
				TotalChunks:     3,
			},
		}
	}
	if _, err := store.InsertTemporaryGroup(drafts, 1); err != nil {
		t.Fatalf("insert group: %v", err)
	}

	bus := events.New()
	ch := bus.Subscribe(4)
	defer bus.Unsubscribe(ch)

	r := NewRegistry(nil)
	r.RegisterDocumentTools(&fakeGate{max: 10}, store, bus)

	got, ok := r.Execute(context.Background(), "promote_document_to_knowledge", map[string]any{
		"document_group_id": "group-3",
		"reason":            "user asked to keep it",
	})
	if !ok {
		t.Fatalf("promote failed: %q", got)
	}
	if !strings.Contains(got, "Quarterly Report") || !strings.Contains(got, "3 chunks") {
		t.Errorf("confirmation = %q", got)
	}

	chunks, err := store.FindByGroup("group-3")
	if err != nil {
		t.Fatalf("FindByGroup: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	var stamp time.Time
	for i, c := range chunks {
		if c.IsTemporary {
			t.Errorf("chunk %d still temporary", i)
		}
		if c.PromotedAt == nil {
			t.Fatalf("chunk %d PromotedAt nil", i)
		}
		if c.ExpiresAt != nil {
			t.Errorf("chunk %d ExpiresAt = %v, want nil", i, c.ExpiresAt)
		}
		if i == 0 {
			stamp = *c.PromotedAt
		} else if !c.PromotedAt.Equal(stamp) {
			t.Errorf("chunk %d PromotedAt = %v, want shared %v", i, c.PromotedAt, stamp)
		}
	}

	select {
	case e := <-ch:
		if e.Kind != events.KindDocumentsPromoted || e.Data["promoted"] != int64(3) {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Error("no documents_promoted event")
	}

	again, ok := r.Execute(context.Background(), "promote_document_to_knowledge", map[string]any{"document_group_id": "group-3"})
	if !ok || !strings.Contains(again, "already") {
		t.Errorf("second promote = %q, %v", again, ok)
	}
}

func TestPromoteUnknownGroup(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterDocumentTools(&fakeGate{max: 10}, newDocStore(t), nil)

	got, ok := r.Execute(context.Background(), "promote_document_to_knowledge", map[string]any{"document_group_id": "missing"})
	if !ok {
		t.Fatalf("unknown group should not be a tool failure: %q", got)
	}
	if !strings.Contains(got, "not found") || !strings.Contains(got, "expired") {
		t.Errorf("result = %q", got)
	}
}

// racingPromoter answers FindByGroup from finds in order and promotes
// nothing, the way the store behaves when a sweep lands between calls.
type racingPromoter struct {
	finds    [][]documents.Document
	promoted int64
	calls    int
}

func (p *racingPromoter) FindByGroup(string) ([]documents.Document, error) {
	i := min(p.calls, len(p.finds)-1)
	p.calls++
	return p.finds[i], nil
}

func (p *racingPromoter) Promote([]string) (int64, error) { return p.promoted, nil }

func tempChunks(n int, temporary bool) []documents.Document {
	docs := make([]documents.Document, n)
	for i := range docs {
		docs[i] = documents.Document{
			ID:          fmt.Sprintf("doc-%d", i),
			IsTemporary: temporary,
			Metadata:    documents.Metadata{Title: "Manual", DocumentGroupID: "group-m", ChunkIndex: i, TotalChunks: n},
		}
	}
	return docs
}

func TestPromoteRacingSweep(t *testing.T) {
	tests := []struct {
		name     string
		finds    [][]documents.Document
		promoted int64
		want     string
		reject   string
	}{
		{
			name:   "group swept before update",
			finds:  [][]documents.Document{tempChunks(3, true), nil},
			want:   "not found",
			reject: "already",
		},
		{
			name:     "part of group swept",
			finds:    [][]documents.Document{tempChunks(3, true), tempChunks(2, false)},
			promoted: 2,
			want:     "(2 chunks)",
		},
		{
			name:  "already permanent",
			finds: [][]documents.Document{tempChunks(3, false)},
			want:  "already in the permanent knowledge base",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			r.RegisterDocumentTools(&fakeGate{max: 10}, &racingPromoter{finds: tt.finds, promoted: tt.promoted}, nil)

			got, ok := r.Execute(context.Background(), "promote_document_to_knowledge", map[string]any{"document_group_id": "group-m"})
			if !ok {
				t.Fatalf("Execute failed: %q", got)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if tt.reject != "" && strings.Contains(got, tt.reject) {
				t.Errorf("result = %q, must not contain %q", got, tt.reject)
			}
		})
	}
}
