// Package turn drives one streamed user turn: the primary model
// stream, tool dispatch, the follow-up completion, and the event
// stream back to the caller.
//
// Information Hiding:
// - State machine phases hidden behind Orchestrator.Run
// - Thinking/content accumulation and safety limits internalized
// - Heuristic tool-call recovery isolated in the parser
package turn

import (
	"encoding/json"
)

// EventType identifies one kind of event on the caller-facing stream.
type EventType string

const (
	// EventConversation announces the conversation id for the turn.
	EventConversation EventType = "conversation"
	// EventMessage announces a persisted message.
	EventMessage EventType = "message"
	// EventToken carries a content or thinking increment.
	EventToken EventType = "token"
	// EventToolCall announces a tool invocation about to run.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries a tool's result or error payload.
	EventToolResult EventType = "tool_result"
	// EventStatus carries a human-readable progress note.
	EventStatus EventType = "status"
	// EventDone is the terminal completion signal.
	EventDone EventType = "done"
	// EventError reports a turn-fatal failure.
	EventError EventType = "error"
	// EventWarning reports a recoverable anomaly.
	EventWarning EventType = "warning"
)

// Event is one frame on the caller-facing stream. Only the fields
// relevant to its Type are populated.
type Event struct {
	Type EventType `json:"type"`

	ConversationID string `json:"conversation_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	Role           string `json:"role,omitempty"`

	Content      string `json:"content,omitempty"`
	Thinking     string `json:"thinking,omitempty"`
	ThinkingDone bool   `json:"thinking_done,omitempty"`

	ToolName      string          `json:"tool_name,omitempty"`
	ToolArguments json.RawMessage `json:"tool_arguments,omitempty"`
	ToolResult    string          `json:"tool_result,omitempty"`
	ToolError     string          `json:"tool_error,omitempty"`

	Message      string `json:"message,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Emitter delivers events to the caller. Emit returns an error only
// when the caller can no longer receive (disconnect); the orchestrator
// treats that as cancellation, not failure.
type Emitter interface {
	Emit(event Event) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(event Event) error

// Emit calls the wrapped function.
func (f EmitterFunc) Emit(event Event) error {
	return f(event)
}

func conversationEvent(id string) Event {
	return Event{Type: EventConversation, ConversationID: id}
}

func messageEvent(id, role string) Event {
	return Event{Type: EventMessage, MessageID: id, Role: role}
}

func contentToken(s string) Event {
	return Event{Type: EventToken, Content: s}
}

func thinkingToken(s string) Event {
	return Event{Type: EventToken, Thinking: s}
}

func thinkingDoneToken() Event {
	return Event{Type: EventToken, ThinkingDone: true}
}

func toolCallEvent(name string, args json.RawMessage) Event {
	return Event{Type: EventToolCall, ToolName: name, ToolArguments: args}
}

func toolResultEvent(name, result, errMsg string) Event {
	return Event{Type: EventToolResult, ToolName: name, ToolResult: result, ToolError: errMsg}
}

func statusEvent(msg string) Event {
	return Event{Type: EventStatus, Message: msg}
}

func doneEvent(reason string) Event {
	return Event{Type: EventDone, FinishReason: reason}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Message: msg}
}
