// Tool execution with bounded retries.
//
// Information Hiding:
// - Backoff schedule internal
// - Which failures retry is internal

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Executor runs tools with per-attempt timeouts and retry on transient failures.
type Executor struct {
	config ToolConfig
}

// NewExecutor creates an executor with the given bounds.
func NewExecutor(config ToolConfig) *Executor {
	return &Executor{config: config}
}

// NewDefaultExecutor creates an executor with the default bounds.
func NewDefaultExecutor() *Executor {
	return &Executor{config: DefaultToolConfig()}
}

// Execute validates the arguments and runs the tool, retrying transient
// failures with exponential backoff. Validation errors never retry.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	toolName := tool.Metadata().Name

	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}

	var lastErr error
	maxRetries := e.config.Retries()

	for attempt := uint32(0); attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return ToolResult{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := e.runAttempt(ctx, tool, args)
		if err != nil {
			if ctx.Err() != nil {
				return ToolResult{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		if result.Success() {
			return result, nil
		}

		if !e.shouldRetry(result) {
			return result, nil
		}

		lastErr = result.Error
	}

	errMsg := "unknown error"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}
	return FailureResultf("tool '%s' failed after %d attempts: %s", toolName, maxRetries, errMsg), nil
}

// runAttempt executes a single attempt under the configured timeout.
func (e *Executor) runAttempt(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.Timeout())*time.Second)
	defer cancel()

	return tool.Execute(ctx, args)
}

// calculateBackoff doubles the delay each attempt, capped at 5s.
func (e *Executor) calculateBackoff(attempt uint32) time.Duration {
	delay := 100 * time.Millisecond << attempt
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}

// shouldRetry determines if a failed result is worth another attempt.
func (e *Executor) shouldRetry(result ToolResult) bool {
	if result.Error == nil {
		return true
	}

	msg := strings.ToLower(result.Error.Error())

	// Bad input stays bad on retry.
	for _, s := range []string{"validation", "not allowed", "permission", "empty"} {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}
