package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func echoTool() *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo a message.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
				"times":   map[string]any{"type": "integer"},
				"loud":    map[string]any{"type": "boolean"},
			},
			"required": []string{"message"},
		},
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			msg := stringArg(args, "message")
			return strings.Repeat(msg, intArg(args, "times", 1)), nil
		},
	}
}

func TestListSortedOpenAIFormat(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&Tool{Name: "zeta", Handler: func(context.Context, map[string]any) (string, error) { return "", nil }})
	r.Register(echoTool())
	r.Register(&Tool{Name: "alpha", Handler: func(context.Context, map[string]any) (string, error) { return "", nil }})

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	var names []string
	for _, def := range list {
		if def["type"] != "function" {
			t.Errorf("type = %v, want function", def["type"])
		}
		fn := def["function"].(map[string]any)
		names = append(names, fn["name"].(string))
	}
	if got := strings.Join(names, ","); got != "alpha,echo,zeta" {
		t.Errorf("List() order = %s", got)
	}
	if got := strings.Join(r.Names(), ","); got != "alpha,echo,zeta" {
		t.Errorf("Names() = %s", got)
	}
}

func TestExecute(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(echoTool())
	r.Register(&Tool{
		Name: "fails",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("backend down")
		},
	})
	r.Register(&Tool{
		Name: "panics",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("boom")
		},
	})
	r.Register(&Tool{
		Name: "cancelled",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			return "", context.DeadlineExceeded
		},
	})

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		wantOK   bool
		wantText string
	}{
		{"success", "echo", map[string]any{"message": "hi", "times": float64(2)}, true, "hihi"},
		{"unknown tool", "nope", nil, false, `"nope" is not available`},
		{"missing required", "echo", map[string]any{}, false, `missing required field "message"`},
		{"wrong type", "echo", map[string]any{"message": 42.0}, false, `"message" must be string`},
		{"non-integer", "echo", map[string]any{"message": "x", "times": 1.5}, false, `"times" must be integer`},
		{"bad bool", "echo", map[string]any{"message": "x", "loud": "yes"}, false, `"loud" must be boolean`},
		{"handler error", "fails", nil, false, "backend down"},
		{"handler panic", "panics", nil, false, "failed unexpectedly: boom"},
		{"deadline", "cancelled", nil, false, "timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Execute(context.Background(), tt.tool, tt.args)
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v (result %q)", ok, tt.wantOK, got)
			}
			if !strings.Contains(got, tt.wantText) {
				t.Errorf("result = %q, want substring %q", got, tt.wantText)
			}
		})
	}
}

func TestValidateArgsRequiredAsAny(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"id"},
	}
	err := validateArgs(schema, map[string]any{})
	if !errors.Is(err, ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
	if err := validateArgs(schema, map[string]any{"id": "x", "extra": 1}); err != nil {
		t.Errorf("undeclared field rejected: %v", err)
	}
	if err := validateArgs(nil, map[string]any{"anything": true}); err != nil {
		t.Errorf("nil schema: %v", err)
	}
}
