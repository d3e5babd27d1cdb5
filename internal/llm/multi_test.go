package llm

import (
	"context"
	"errors"
	"testing"
)

type stubClient struct {
	name    string
	pingErr error
	called  []string
}

func (s *stubClient) Chat(_ context.Context, model string, _ []Message, _ []map[string]any) (*ChatResponse, error) {
	s.called = append(s.called, model)
	return &ChatResponse{Model: model, Message: Message{Role: RoleAssistant, Content: s.name}}, nil
}

func (s *stubClient) Ping(context.Context) error { return s.pingErr }

func TestMultiClient_Routing(t *testing.T) {
	ollama := &stubClient{name: "ollama"}
	anthropic := &stubClient{name: "anthropic"}

	m := NewMultiClient(ollama)
	m.AddProvider("ollama", ollama)
	m.AddProvider("anthropic", anthropic)
	m.AddModel("claude-sonnet", "anthropic")

	tests := []struct {
		model string
		want  string
	}{
		{"claude-sonnet", "anthropic"},
		{"qwen3:4b", "ollama"},
		{"unmapped", "ollama"},
	}
	for _, tt := range tests {
		resp, err := m.Chat(context.Background(), tt.model, nil, nil)
		if err != nil {
			t.Fatalf("Chat(%s): %v", tt.model, err)
		}
		if resp.Message.Content != tt.want {
			t.Errorf("Chat(%s) routed to %s, want %s", tt.model, resp.Message.Content, tt.want)
		}
	}
}

func TestMultiClient_NoProvider(t *testing.T) {
	m := NewMultiClient(nil)
	if _, err := m.Chat(context.Background(), "x", nil, nil); err == nil {
		t.Error("expected error with no providers")
	}
	if err := m.Ping(context.Background()); err == nil {
		t.Error("Ping with no providers should fail")
	}
}

func TestMultiClient_PingJoinsErrors(t *testing.T) {
	down := errors.New("connection refused")
	m := NewMultiClient(&stubClient{})
	m.AddProvider("anthropic", &stubClient{pingErr: down})
	if err := m.Ping(context.Background()); !errors.Is(err, down) {
		t.Errorf("Ping = %v, want wrapped %v", err, down)
	}
}
