package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/docent/internal/search"
)

// WebSearcher runs web queries.
type WebSearcher interface {
	Search(ctx context.Context, query string, opts search.Options) ([]search.Result, error)
}

// RegisterWebSearch adds the web_search tool. A nil ws registers a tool
// that reports web search as unavailable. maxResults caps max_results;
// zero or less means search.MaxCount.
func (r *Registry) RegisterWebSearch(ws WebSearcher, maxResults int) {
	if maxResults <= 0 || maxResults > search.MaxCount {
		maxResults = search.MaxCount
	}
	r.Register(&Tool{
		Name:        "web_search",
		Description: "Search the web for current information not in the knowledge base. Returns titles, links and snippets.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query",
				},
				"max_results": map[string]any{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of results (default %d, max %d)", search.DefaultCount, maxResults),
				},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query := strings.TrimSpace(stringArg(args, "query"))
			if query == "" {
				return "Please provide a non-empty search query.", nil
			}
			if ws == nil {
				return "Web search is not configured on this server. Answer from the knowledge base or say the information is unavailable.", nil
			}
			count := min(intArg(args, "max_results", search.DefaultCount), maxResults)
			results, err := ws.Search(ctx, query, search.Options{Count: count})
			if err != nil {
				r.logger.Warn("web search failed", "error", err)
				return "Web search failed: " + err.Error() + ". Try again later or answer from the knowledge base.", nil
			}
			return search.FormatResults(results), nil
		},
	})
}
