// Package tools gives the orchestrator a set of callable tools.
//
// Information Hiding:
// - How a tool does its work stays behind the Tool interface
// - Each tool owns its own argument schema and error handling
// - Callers see registry lookups and results, nothing else
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Metadata describes the tool: name, description, argument schema.
	Metadata() ToolMetadata

	// Execute runs the tool against raw JSON arguments.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)

	// Validate rejects malformed arguments before Execute runs.
	Validate(args json.RawMessage) error
}

// BaseTool can be embedded by tools that do no argument validation.
type BaseTool struct{}

func (BaseTool) Validate(args json.RawMessage) error {
	return nil
}

// ToolMetadata is what the registry exports to the model for a tool.
type ToolMetadata struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
}

// ToolParameter describes one argument a tool accepts.
type ToolParameter struct {
	Name        string `json:"name"`
	ParamType   string `json:"param_type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolResult is the outcome of one tool execution. A nil Error means
// success; Output carries whatever text goes back to the model.
type ToolResult struct {
	Output string
	Error  error
}

// Success reports whether the execution produced a usable result.
func (t ToolResult) Success() bool {
	return t.Error == nil
}

// SuccessResult wraps output in a successful result.
func SuccessResult(output string) ToolResult {
	return ToolResult{Output: output}
}

// FailureResult wraps an error in a failed result.
func FailureResult(err error) ToolResult {
	return ToolResult{Error: err}
}

// FailureResultf is FailureResult with fmt.Errorf formatting.
func FailureResultf(format string, args ...interface{}) ToolResult {
	return ToolResult{Error: fmt.Errorf(format, args...)}
}

// ToolConfig bounds how the executor runs a tool. The zero value is
// usable: 30s per attempt, 3 attempts.
type ToolConfig struct {
	TimeoutSecs uint64
	MaxRetries  uint32
}

// Timeout is the per-attempt limit in seconds, defaulting to 30.
func (c *ToolConfig) Timeout() uint64 {
	if c == nil || c.TimeoutSecs == 0 {
		return 30
	}
	return c.TimeoutSecs
}

// Retries is the attempt bound, defaulting to 3.
func (c *ToolConfig) Retries() uint32 {
	if c == nil || c.MaxRetries == 0 {
		return 3
	}
	return c.MaxRetries
}

// DefaultToolConfig spells out the zero-value defaults.
func DefaultToolConfig() ToolConfig {
	return ToolConfig{
		TimeoutSecs: 30,
		MaxRetries:  3,
	}
}
