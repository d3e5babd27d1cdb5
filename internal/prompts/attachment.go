package prompts

import (
	"fmt"
	"strings"
)

// Attachment is a document uploaded alongside a chat message.
type Attachment struct {
	Title   string
	GroupID string
	Chunks  []string
	TTL     string
}

// AttachmentMarker is the short note stored in session history in place
// of the full document text.
func AttachmentMarker(title, groupID string) string {
	return fmt.Sprintf("[Attached document %q, documentGroupId: %s]", title, groupID)
}

// UserMessageWithAttachment inlines the full extracted text after the
// user's message, one delimited section per chunk.
func UserMessageWithAttachment(message string, a Attachment) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(message))
	fmt.Fprintf(&b, "\n\n[Attached document %q]\n", a.Title)
	fmt.Fprintf(&b, "documentGroupId: %s\n", a.GroupID)
	fmt.Fprintf(&b, "Stored temporarily (expires in %s). %d chunk(s) follow.\n", a.TTL, len(a.Chunks))
	for i, c := range a.Chunks {
		fmt.Fprintf(&b, "\n--- chunk %d/%d ---\n", i+1, len(a.Chunks))
		b.WriteString(strings.TrimSpace(c))
		b.WriteString("\n")
	}
	b.WriteString("--- end of document ---")
	return b.String()
}
