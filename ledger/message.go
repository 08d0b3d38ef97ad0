// Package ledger owns the canonical conversation data model.
//
// Information Hiding:
// - Storage backend implementation details hidden behind the Store interface
// - Version/conflict handling encapsulated per backend
// - Ownership checks internalized; callers only see not-found semantics
package ledger

import (
	"fmt"
	"time"

	"github.com/laundryguy77/PeanutChat-sub000/llm"
)

// Role identifies who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message is one entry in a conversation's append-only log.
//
// Optional fields are only legal for specific roles: ToolCalls and
// Thinking on assistant messages, ToolName on tool messages. Use the
// constructors below; Validate enforces the shape for anything built
// by hand. A message is immutable once stored except for the Compacted
// flag, which is set exactly once when the message is folded into a
// summary.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Images    []string       `json:"images,omitempty"`
	ToolCalls []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	// ToolCallID links a tool-result message back to the assistant
	// tool call it answers. Required by providers that correlate
	// results by call id.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Thinking   string    `json:"thinking_content,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Compacted  bool      `json:"compacted"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// WithToolCalls attaches tool calls to an assistant message.
func (m Message) WithToolCalls(calls []llm.ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// WithThinking attaches a reasoning trace to an assistant message.
func (m Message) WithThinking(thinking string) Message {
	m.Thinking = thinking
	return m
}

// WithImages attaches image references to a message.
func (m Message) WithImages(images []string) Message {
	m.Images = images
	return m
}

// NewToolMessage creates a tool-result message for the named tool.
// callID may be empty for providers that do not correlate by id.
func NewToolMessage(toolName, callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolName: toolName, ToolCallID: callID}
}

// Validate checks that optional fields match the message's role.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if len(m.ToolCalls) > 0 && m.Role != RoleAssistant {
		return fmt.Errorf("tool_calls only legal on assistant messages, got role %q", m.Role)
	}
	if m.Thinking != "" && m.Role != RoleAssistant {
		return fmt.Errorf("thinking_content only legal on assistant messages, got role %q", m.Role)
	}
	if m.ToolCallID != "" && m.Role != RoleTool {
		return fmt.Errorf("tool_call_id only legal on tool messages, got role %q", m.Role)
	}
	if m.ToolName != "" && m.Role != RoleTool {
		return fmt.Errorf("tool_name only legal on tool messages, got role %q", m.Role)
	}
	if m.Role == RoleTool && m.ToolName == "" {
		return fmt.Errorf("tool messages require tool_name")
	}
	return nil
}

// Synthetic reports whether the message was fabricated for a prompt
// rather than loaded from a conversation. Synthetic messages have no
// assigned id.
func (m Message) Synthetic() bool {
	return m.ID == ""
}

// ChatMessage converts the message to the LLM wire shape.
func (m Message) ChatMessage() llm.ChatMessage {
	cm := llm.ChatMessage{
		Role:      string(m.Role),
		Content:   m.Content,
		ToolCalls: m.ToolCalls,
	}
	if m.Role == RoleTool {
		cm.ToolName = m.ToolName
		cm.ToolCallID = m.ToolCallID
	}
	return cm
}

// ChatMessages converts a message slice to the LLM wire shape.
func ChatMessages(messages []Message) []llm.ChatMessage {
	out := make([]llm.ChatMessage, len(messages))
	for i, m := range messages {
		out[i] = m.ChatMessage()
	}
	return out
}
