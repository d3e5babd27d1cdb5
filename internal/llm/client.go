package llm

import "context"

// Client is implemented by every chat model provider.
type Client interface {
	// Chat sends a chat completion request. tools are OpenAI-style
	// function schemas as produced by tools.Registry.List.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
