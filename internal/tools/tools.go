// Package tools defines the tools available to the agent.
//
// Every tool returns text for the model. Failures (unknown tool, bad
// arguments, handler errors, panics) become descriptive strings so the
// model can react instead of the turn aborting.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                      `json:"name"`
	Description string                                                      `json:"description"`
	Parameters  map[string]any                                              `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool, replacing any existing tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns tool definitions in OpenAI-style function format,
// sorted by name so prompts are stable across calls.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool and returns its text output. The second return
// value reports whether the tool ran and succeeded; it is false for
// every failure the text describes.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, ok bool) {
	tool := r.tools[name]
	if tool == nil {
		err := &ErrToolUnavailable{ToolName: name}
		r.logger.Warn("unknown tool requested", "tool", name)
		return "Error: " + err.Error(), false
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(tool.Parameters, args); err != nil {
		r.logger.Debug("tool arguments rejected", "tool", name, "error", err)
		return fmt.Sprintf("Error: invalid arguments for %s: %v", name, err), false
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", name, "panic", p)
			result = fmt.Sprintf("Error: tool %s failed unexpectedly: %v", name, p)
			ok = false
		}
	}()

	out, err := tool.Handler(ctx, args)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Sprintf("Error: %s timed out or was cancelled", name), false
		}
		r.logger.Warn("tool failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: %s failed: %v", name, err), false
	}
	return out, true
}
