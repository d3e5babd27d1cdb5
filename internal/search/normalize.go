package search

import (
	"strings"

	"golang.org/x/net/html"
)

// collector turns raw provider rows into results. Markup and entities
// are stripped from titles and snippets, rows without a URL are dropped,
// and a URL seen twice keeps its first (higher ranked) row.
type collector struct {
	limit   int
	seen    map[string]bool
	results []Result
}

func newCollector(limit int) *collector {
	return &collector{limit: limit, seen: make(map[string]bool)}
}

// add appends one row and reports whether there is room for more.
func (c *collector) add(title, rawURL, snippet string) bool {
	if len(c.results) >= c.limit {
		return false
	}
	u := strings.TrimSpace(rawURL)
	if u == "" {
		return true
	}
	key := urlKey(u)
	if c.seen[key] {
		return true
	}
	c.seen[key] = true

	title = plainText(title)
	if title == "" {
		title = u
	}
	c.results = append(c.results, Result{Title: title, URL: u, Snippet: plainText(snippet)})
	return len(c.results) < c.limit
}

// urlKey ignores fragments and trailing slashes when comparing URLs.
func urlKey(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/")
}

// plainText strips tags, decodes entities, and collapses whitespace.
func plainText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}
