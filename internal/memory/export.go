package memory

import (
	"fmt"
	"strings"
	"time"
)

// ExportMarkdown renders a transcript as a markdown document, one
// section per message. An empty transcript still gets a header.
func ExportMarkdown(sessionID string, msgs []Message) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Session %s\n\n", sessionID)
	if len(msgs) == 0 {
		sb.WriteString("_No messages._\n")
		return sb.String()
	}

	fmt.Fprintf(&sb, "- Started: %s\n", msgs[0].CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "- Messages: %d\n\n", len(msgs))

	for _, m := range msgs {
		fmt.Fprintf(&sb, "## %s · %s\n\n", roleHeading(m.Role), m.CreatedAt.UTC().Format("2006-01-02 15:04:05"))
		if m.Metadata.DocumentGroupID != "" {
			fmt.Fprintf(&sb, "_Attachment: %s_\n\n", m.Metadata.DocumentGroupID)
		}
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n\n")
		if m.Metadata.Model != "" {
			fmt.Fprintf(&sb, "_Model: %s_\n\n", m.Metadata.Model)
		}
	}
	return sb.String()
}

func roleHeading(r Role) string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}
