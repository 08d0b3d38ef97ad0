// Package llm provides shared data models for LLM providers.
package llm

import "encoding/json"

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // For assistant messages with tool calls
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool result messages
	ToolName   string     `json:"tool_name,omitempty"`    // For tool result messages
}

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition defines a tool that the LLM can call.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    "system",
		Content: content,
	}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    "user",
		Content: content,
	}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) ChatMessage {
	return ChatMessage{
		Role:    "assistant",
		Content: content,
	}
}

// LLMResponse represents a non-streamed response from an LLM provider.
type LLMResponse struct {
	Content   string
	ToolCalls []ToolCall // Tool calls requested by the LLM
	Usage     *TokenUsage
}

// TokenUsage contains token usage statistics.
type TokenUsage struct {
	PromptTokens     uint32
	CompletionTokens uint32
	TotalTokens      uint32
}

// ChatOptions adjusts a single non-streamed completion without
// reconfiguring the provider. A nil *ChatOptions means provider
// defaults.
type ChatOptions struct {
	Model       string   // Override the provider's model
	Temperature *float32 // Override the provider's temperature
	MaxTokens   int      // Override the provider's max tokens
}

// StreamRequest describes one streamed completion.
type StreamRequest struct {
	Messages []ChatMessage
	Tools    []ToolDefinition
	// Thinking asks the provider to emit reasoning frames before
	// content. Providers that cannot separate reasoning ignore it;
	// callers must bound thinking consumption themselves.
	Thinking    bool
	Model       string   // Override the provider's model
	Temperature *float32 // Override the provider's temperature
	MaxTokens   int      // Override the provider's max tokens
}

// Frame is one increment of a streamed completion. Any combination of
// fields may be set; a frame with Done=true is the terminal frame and
// carries the fully assembled tool calls, if any.
type Frame struct {
	Thinking  string
	Content   string
	ToolCalls []ToolCall
	Done      bool
}

// Empty reports whether the frame carries nothing.
func (f Frame) Empty() bool {
	return f.Thinking == "" && f.Content == "" && len(f.ToolCalls) == 0 && !f.Done
}
