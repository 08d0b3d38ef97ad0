package ledger

import (
	"encoding/json"
	"testing"

	"github.com/laundryguy77/PeanutChat-sub000/llm"
)

func TestMessageValidate(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "fetch", Arguments: json.RawMessage(`{}`)}

	cases := []struct {
		name string
		msg  Message
		ok   bool
	}{
		{"system", NewSystemMessage("prompt"), true},
		{"user", NewUserMessage("hi"), true},
		{"assistant", NewAssistantMessage("hello"), true},
		{"assistant with calls", NewAssistantMessage("").WithToolCalls([]llm.ToolCall{call}), true},
		{"assistant with thinking", NewAssistantMessage("x").WithThinking("because"), true},
		{"tool", NewToolMessage("fetch", "call_1", "result"), true},
		{"tool without call id", NewToolMessage("fetch", "", "result"), true},
		{"bad role", Message{Role: "narrator", Content: "x"}, false},
		{"tool calls on user", Message{Role: RoleUser, ToolCalls: []llm.ToolCall{call}}, false},
		{"thinking on user", Message{Role: RoleUser, Thinking: "hmm"}, false},
		{"tool name on user", Message{Role: RoleUser, ToolName: "fetch"}, false},
		{"call id on assistant", Message{Role: RoleAssistant, ToolCallID: "call_1"}, false},
		{"tool without name", Message{Role: RoleTool, Content: "result"}, false},
	}
	for _, tc := range cases {
		err := tc.msg.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestMessageSynthetic(t *testing.T) {
	if !NewSystemMessage("prompt").Synthetic() {
		t.Error("constructed message without id must be synthetic")
	}
	stored := NewUserMessage("hi")
	stored.ID = "m-1"
	if stored.Synthetic() {
		t.Error("message with id must not be synthetic")
	}
}

func TestChatMessageConversion(t *testing.T) {
	tool := NewToolMessage("fetch", "call_1", "result")
	cm := tool.ChatMessage()
	if cm.Role != "tool" || cm.ToolName != "fetch" || cm.ToolCallID != "call_1" {
		t.Errorf("tool linkage lost in conversion: %+v", cm)
	}

	call := llm.ToolCall{ID: "call_1", Name: "fetch", Arguments: json.RawMessage(`{}`)}
	assistant := NewAssistantMessage("on it").WithToolCalls([]llm.ToolCall{call}).WithThinking("private")
	cm = assistant.ChatMessage()
	if len(cm.ToolCalls) != 1 {
		t.Errorf("tool calls lost in conversion: %+v", cm)
	}
}

func TestActiveMessages(t *testing.T) {
	conv := &Conversation{Messages: []Message{
		{ID: "a", Role: RoleUser, Content: "one", Compacted: true},
		{ID: "b", Role: RoleAssistant, Content: "two"},
		{ID: "c", Role: RoleUser, Content: "three", Compacted: true},
		{ID: "d", Role: RoleAssistant, Content: "four"},
	}}

	active := conv.ActiveMessages()
	if len(active) != 2 || active[0].ID != "b" || active[1].ID != "d" {
		t.Errorf("expected active [b d], got %+v", active)
	}

	empty := &Conversation{}
	if got := empty.ActiveMessages(); got == nil {
		t.Error("expected empty slice, not nil")
	}
}
