package ingest

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// extractMarkdown walks the goldmark AST and returns the document as
// plain paragraphs. The first level-1 heading becomes the title.
func extractMarkdown(data []byte) (Extracted, error) {
	doc := goldmark.New().Parser().Parse(text.NewReader(data))

	var ex Extracted
	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		collectBlock(n, data, &blocks, &ex.Title)
	}
	ex.Text = strings.Join(blocks, "\n\n")
	return ex, nil
}

func collectBlock(n ast.Node, src []byte, blocks *[]string, title *string) {
	switch b := n.(type) {
	case *ast.Heading:
		t := inlineText(b, src)
		if b.Level == 1 && *title == "" {
			*title = t
		}
		appendBlock(blocks, t)
	case *ast.Paragraph, *ast.TextBlock:
		appendBlock(blocks, inlineText(b, src))
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		appendBlock(blocks, linesText(b, src))
	case *ast.List:
		var items []string
		for li := b.FirstChild(); li != nil; li = li.NextSibling() {
			var inner []string
			for c := li.FirstChild(); c != nil; c = c.NextSibling() {
				collectBlock(c, src, &inner, title)
			}
			if len(inner) > 0 {
				items = append(items, "- "+strings.Join(inner, "\n  "))
			}
		}
		appendBlock(blocks, strings.Join(items, "\n"))
	case *ast.HTMLBlock, *ast.ThematicBreak:
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			collectBlock(c, src, blocks, title)
		}
	}
}

func appendBlock(blocks *[]string, s string) {
	if s = strings.TrimSpace(s); s != "" {
		*blocks = append(*blocks, s)
	}
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.URL(src))
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func linesText(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}
