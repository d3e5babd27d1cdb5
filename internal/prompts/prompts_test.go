package prompts

import (
	"strings"
	"testing"
)

func TestSystemPrompt(t *testing.T) {
	tests := []struct {
		name       string
		persona    string
		tools      []string
		wantParts  []string
		wantAbsent []string
	}{
		{
			name:  "all tools",
			tools: []string{"promote_document_to_knowledge", "search_documents", "web_search"},
			wantParts: []string{
				"You are Docent",
				"- search_documents:",
				"- web_search:",
				"## Uploaded Documents",
				"expire after 1h",
			},
		},
		{
			name:       "no promotion tool",
			tools:      []string{"search_documents"},
			wantParts:  []string{"- search_documents:"},
			wantAbsent: []string{"## Uploaded Documents", "web_search"},
		},
		{
			name:       "custom persona",
			persona:    "You are a legal research aide.",
			tools:      []string{"custom_tool"},
			wantParts:  []string{"legal research aide", "- custom_tool\n"},
			wantAbsent: []string{"You are Docent"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SystemPrompt(tt.persona, tt.tools, "1h")
			for _, p := range tt.wantParts {
				if !strings.Contains(got, p) {
					t.Errorf("prompt missing %q:\n%s", p, got)
				}
			}
			for _, p := range tt.wantAbsent {
				if strings.Contains(got, p) {
					t.Errorf("prompt should not contain %q", p)
				}
			}
		})
	}
}

func TestUserMessageWithAttachment(t *testing.T) {
	got := UserMessageWithAttachment("Summarize this", Attachment{
		Title:   "notes.md",
		GroupID: "g-123",
		Chunks:  []string{"first part", "second part"},
		TTL:     "1h",
	})

	for _, p := range []string{
		"Summarize this",
		`[Attached document "notes.md"]`,
		"documentGroupId: g-123",
		"--- chunk 1/2 ---\nfirst part",
		"--- chunk 2/2 ---\nsecond part",
		"--- end of document ---",
	} {
		if !strings.Contains(got, p) {
			t.Errorf("missing %q in:\n%s", p, got)
		}
	}
	if !strings.HasPrefix(got, "Summarize this") {
		t.Error("user message should come first")
	}
}

func TestAttachmentMarker(t *testing.T) {
	got := AttachmentMarker("notes.md", "g-123")
	if got != `[Attached document "notes.md", documentGroupId: g-123]` {
		t.Errorf("marker = %q", got)
	}
}
