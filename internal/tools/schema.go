package tools

import (
	"fmt"
	"math"
	"sort"
)

// validateArgs checks args against a JSON-schema-style object
// declaration: required fields must be present and declared properties
// must carry the declared primitive type. Undeclared fields pass
// through untouched.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	for _, name := range requiredFields(schema["required"]) {
		v, ok := args[name]
		if !ok || v == nil {
			return fmt.Errorf("%w: missing required field %q", ErrInvalidArguments, name)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, present := args[name]
		if !present || v == nil {
			continue
		}
		prop, _ := props[name].(map[string]any)
		want, _ := prop["type"].(string)
		if want == "" {
			continue
		}
		if !hasType(v, want) {
			return fmt.Errorf("%w: field %q must be %s, got %T", ErrInvalidArguments, name, want, v)
		}
	}
	return nil
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func hasType(v any, want string) bool {
	switch want {
	case "string":
		_, ok := v.(string)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "number":
		_, ok := toFloat(v)
		return ok
	case "integer":
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		if !ok {
			_, ok = v.([]string)
		}
		return ok
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// intArg reads an optional integer argument, returning def when absent.
func intArg(args map[string]any, name string, def int) int {
	f, ok := toFloat(args[name])
	if !ok {
		return def
	}
	return int(f)
}

// stringArg reads an optional string argument.
func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}
