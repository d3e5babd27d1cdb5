package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIClient_ChatWithTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role       string `json:"role"`
				ToolCallID string `json:"tool_call_id"`
				ToolCalls  []struct {
					ID       string `json:"id"`
					Function struct {
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"messages"`
			Tools []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "web_search" {
			t.Errorf("tools = %+v", req.Tools)
		}
		if len(req.Messages) != 3 || req.Messages[1].ToolCalls[0].Function.Arguments != `{"query":"go"}` {
			t.Errorf("messages = %+v", req.Messages)
		}
		if req.Messages[2].ToolCallID != "call_1" {
			t.Errorf("tool_call_id = %q", req.Messages[2].ToolCallID)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1767225600, "model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_2", "type": "function",
					"function": {"name": "search_documents", "arguments": "{\"query\":\"pricing\",\"limit\":2}"}}]
			}}],
			"usage": {"prompt_tokens": 50, "completion_tokens": 8, "total_tokens": 58}
		}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("sk-test", srv.URL+"/v1", nil)
	msgs := []Message{
		{Role: RoleUser, Content: "search"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Function: ToolFunction{Name: "web_search", Arguments: map[string]any{"query": "go"}}}}},
		{Role: RoleTool, Content: "results", ToolCallID: "call_1"},
	}
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "web_search", "parameters": map[string]any{"type": "object"}}}}

	resp, err := c.Chat(context.Background(), "gpt-4o-mini", msgs, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != "tool_calls" || resp.InputTokens != 50 || resp.OutputTokens != 8 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.Message.ToolCalls)
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "call_2" || tc.Function.Arguments["query"] != "pricing" || tc.Function.Arguments["limit"] != float64(2) {
		t.Errorf("tool call = %+v", tc)
	}
}

func TestConvertFromOpenAI_BadArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"m","choices":[{"message":{"role":"assistant",
			"tool_calls":[{"id":"c","type":"function","function":{"name":"web_search","arguments":"not json"}}]}}]}`))
	}))
	defer srv.Close()

	resp, err := NewOpenAIClient("k", srv.URL, nil).Chat(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.ToolCalls[0].Function.Arguments["_raw"] != "not json" {
		t.Errorf("arguments = %v", resp.Message.ToolCalls[0].Function.Arguments)
	}
}
