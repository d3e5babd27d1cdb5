package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/docent/internal/documents"
	"github.com/nugget/docent/internal/events"
)

// KnowledgeSearcher answers free-text knowledge base queries.
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string, limit int) (string, error)
	MaxLimit() int
}

// GroupPromoter resolves and promotes document groups.
type GroupPromoter interface {
	FindByGroup(groupID string) ([]documents.Document, error)
	Promote(ids []string) (int64, error)
}

// RegisterDocumentTools adds search_documents and
// promote_document_to_knowledge. bus may be nil.
func (r *Registry) RegisterDocumentTools(gate KnowledgeSearcher, store GroupPromoter, bus *events.Bus) {
	r.Register(&Tool{
		Name: "search_documents",
		Description: "Search the knowledge base for documents relevant to a query. " +
			"Use this before answering questions that may be covered by stored documents.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for, in natural language",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of results (default 5, max %d)", gate.MaxLimit()),
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query := strings.TrimSpace(stringArg(args, "query"))
			if query == "" {
				return "Please provide a non-empty search query.", nil
			}
			limit := intArg(args, "limit", 0)
			if maxLimit := gate.MaxLimit(); limit > maxLimit {
				limit = maxLimit
			}
			out, err := gate.Search(ctx, query, limit)
			if err != nil {
				// Embedding or store failures stay inside the tool result.
				return fmt.Sprintf("Knowledge base search failed: %v", err), nil
			}
			return out, nil
		},
	})

	r.Register(&Tool{
		Name: "promote_document_to_knowledge",
		Description: "Permanently save a temporarily uploaded document to the knowledge base. " +
			"Temporary uploads expire; promote them when the user wants the content kept or it has lasting reference value.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"document_group_id": map[string]any{
					"type":        "string",
					"description": "The documentGroupId of the uploaded document",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why this document is worth keeping",
				},
			},
			"required": []string{"document_group_id"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			groupID := strings.TrimSpace(stringArg(args, "document_group_id"))
			reason := stringArg(args, "reason")

			chunks, err := store.FindByGroup(groupID)
			if err != nil {
				return "", fmt.Errorf("find group: %w", err)
			}
			if len(chunks) == 0 {
				return fmt.Sprintf("Document group %s not found. It may have expired or never existed.", groupID), nil
			}

			ids := make([]string, len(chunks))
			temporary := 0
			for i, c := range chunks {
				ids[i] = c.ID
				if c.IsTemporary {
					temporary++
				}
			}
			n, err := store.Promote(ids)
			if err != nil {
				return "", fmt.Errorf("promote: %w", err)
			}

			title := chunks[0].Metadata.Title
			if title == "" {
				title = "Untitled"
			}

			permanent := len(chunks)
			if n < int64(temporary) {
				// Rows were swept between the lookup and the update.
				chunks, err = store.FindByGroup(groupID)
				if err != nil {
					return "", fmt.Errorf("find group: %w", err)
				}
				permanent = 0
				for _, c := range chunks {
					if !c.IsTemporary {
						permanent++
					}
				}
				if permanent == 0 {
					return fmt.Sprintf("Document group %s not found. It may have expired or never existed.", groupID), nil
				}
			}

			if n > 0 {
				bus.Emit(events.SourceDocuments, events.KindDocumentsPromoted, map[string]any{
					"document_group_id": groupID,
					"promoted":          n,
					"reason":            reason,
				})
				return fmt.Sprintf("Saved %q to the permanent knowledge base (%d chunks).", title, permanent), nil
			}
			return fmt.Sprintf("%q (%d chunks) is already in the permanent knowledge base.", title, permanent), nil
		},
	})
}
