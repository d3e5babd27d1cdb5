package prompts

import (
	"fmt"
	"strings"
)

const basePersona = `You are Docent, a knowledgeable assistant backed by a document knowledge base.

Answer from the knowledge base when it covers the question, and say which
document an answer came from. Use web search for current events or topics
the knowledge base does not cover. If neither source has the answer, say so
plainly instead of guessing.`

// toolGuide describes each built-in tool. Tools not registered in the
// current process are left out of the prompt.
var toolGuide = map[string]string{
	"search_documents":              "search the knowledge base; call it before answering questions about stored material",
	"web_search":                    "search the web for current or external information",
	"promote_document_to_knowledge": "permanently keep a temporarily uploaded document, identified by its documentGroupId",
}

const promotionPolicy = `## Uploaded Documents
Documents attached to a message are stored temporarily and expire after %s.
Promote an upload with promote_document_to_knowledge when:
- the user asks you to save, keep or remember it, or
- it is reference material the user will clearly want again (manuals, policies, specifications).
Do not promote scratch content, one-off questions or anything the user asks you not to keep.
After promoting, tell the user the document was saved.`

// SystemPrompt assembles the system message. persona replaces the
// default persona when non-empty; tools lists the registered tool names
// and ttl describes how long uploads live.
func SystemPrompt(persona string, tools []string, ttl string) string {
	if strings.TrimSpace(persona) == "" {
		persona = basePersona
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona))

	if len(tools) > 0 {
		b.WriteString("\n\n## Available Tools\n")
		for _, name := range tools {
			desc, ok := toolGuide[name]
			if !ok {
				fmt.Fprintf(&b, "- %s\n", name)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", name, desc)
		}
	}

	if containsTool(tools, "promote_document_to_knowledge") {
		b.WriteString("\n")
		fmt.Fprintf(&b, promotionPolicy, ttl)
	}
	return b.String()
}

func containsTool(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}
