package tools

import (
	"errors"
	"fmt"
)

// ErrInvalidArguments is wrapped by argument validation failures.
var ErrInvalidArguments = errors.New("invalid tool arguments")

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
