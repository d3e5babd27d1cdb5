package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/nugget/docent/internal/fetch"
)

// Media types with built-in extractors.
const (
	TypeText     = "text/plain"
	TypeMarkdown = "text/markdown"
	TypeHTML     = "text/html"
	TypeEmail    = "message/rfc822"
	TypePDF      = "application/pdf"
)

// Extracted is the text and document-level metadata of one artifact.
type Extracted struct {
	Title  string
	Author string
	Date   string
	Text   string
	// Extra holds any further metadata worth keeping on every chunk.
	Extra map[string]string
}

// Extractor turns raw bytes of one media type into text.
type Extractor interface {
	Extract(data []byte) (Extracted, error)
}

// ExtractorFunc adapts a function to [Extractor].
type ExtractorFunc func(data []byte) (Extracted, error)

// Extract calls f(data).
func (f ExtractorFunc) Extract(data []byte) (Extracted, error) { return f(data) }

func extractText(data []byte) (Extracted, error) {
	if !utf8.Valid(data) {
		return Extracted{}, fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedType)
	}
	return Extracted{Text: strings.TrimSpace(string(data))}, nil
}

func extractHTML(data []byte) (Extracted, error) {
	p := fetch.ExtractHTML(data)
	ex := Extracted{Title: p.Title, Author: p.Author, Date: p.Published, Text: p.Text}
	if p.Description != "" {
		ex.Extra = map[string]string{"description": p.Description}
	}
	return ex, nil
}

// extractEmail reads an RFC 822 message: headers become metadata and
// the first text/plain part (or text/html, converted) becomes the text.
// Attachments are skipped.
func extractEmail(data []byte) (Extracted, error) {
	mr, err := mail.CreateReader(bytes.NewReader(data))
	if err != nil && !message.IsUnknownCharset(err) {
		return Extracted{}, fmt.Errorf("parse message: %w", err)
	}
	if mr == nil {
		return Extracted{}, fmt.Errorf("parse message: %w", err)
	}
	defer mr.Close()

	var ex Extracted
	ex.Title, _ = mr.Header.Subject()
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		if from[0].Name != "" {
			ex.Author = from[0].Name
		} else {
			ex.Author = from[0].Address
		}
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		ex.Date = date.UTC().Format("2006-01-02T15:04:05Z")
	}
	if id, err := mr.Header.MessageID(); err == nil && id != "" {
		ex.Extra = map[string]string{"message_id": id}
	}

	var plain, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return Extracted{}, fmt.Errorf("read part: %w", err)
		}
		if part == nil {
			continue
		}
		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}
		switch {
		case ct == TypeText && plain == "":
			plain = strings.TrimSpace(string(body))
		case ct == TypeHTML && htmlBody == "":
			htmlBody = fetch.ExtractHTML(body).Text
		}
	}

	ex.Text = plain
	if ex.Text == "" {
		ex.Text = htmlBody
	}
	return ex, nil
}
