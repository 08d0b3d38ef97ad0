package turn

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/laundryguy77/PeanutChat-sub000/llm"
	jsonutil "github.com/laundryguy77/PeanutChat-sub000/internal/json"
)

// textToolCall is the JSON shape some models emit in plain text when
// they want a tool but the native tool-call channel was not used.
type textToolCall struct {
	Tool      string          `json:"tool"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c textToolCall) toolName() string {
	if c.Tool != "" {
		return c.Tool
	}
	return c.Name
}

func (c textToolCall) args() json.RawMessage {
	if len(c.Input) > 0 {
		return c.Input
	}
	if len(c.Arguments) > 0 {
		return c.Arguments
	}
	return json.RawMessage("{}")
}

// bracketedCallOpen matches the head of the compact [tool_name({...})]
// syntax up to the argument object's opening brace. The object itself
// is read with a balanced scan, since a regex cannot handle nesting.
var bracketedCallOpen = regexp.MustCompile(`\[([a-zA-Z_][a-zA-Z0-9_]*)\(\{`)

// ParseToolCalls scans assistant text for tool invocations expressed
// in prose instead of the provider's native tool-call channel. It
// recognizes a JSON object naming a tool (optionally fenced in
// markdown) and the bracketed [name({...})] form. Unknown tool names
// are filtered out by the caller; this only recovers structure.
//
// Returns nil when the text contains no recognizable invocation.
func ParseToolCalls(content string) []llm.ToolCall {
	if call, ok := parseJSONToolCall(content); ok {
		return []llm.ToolCall{call}
	}
	return parseBracketedCalls(content)
}

func parseJSONToolCall(content string) (llm.ToolCall, bool) {
	// Cheap pre-check before attempting extraction.
	if !strings.Contains(content, "{") {
		return llm.ToolCall{}, false
	}
	parsed, err := jsonutil.Decode[textToolCall](content)
	if err != nil || parsed.toolName() == "" {
		return llm.ToolCall{}, false
	}
	args := parsed.args()
	if !json.Valid(args) {
		return llm.ToolCall{}, false
	}
	return llm.ToolCall{
		ID:        newCallID(),
		Name:      parsed.toolName(),
		Arguments: args,
	}, true
}

func parseBracketedCalls(content string) []llm.ToolCall {
	var calls []llm.ToolCall
	for _, loc := range bracketedCallOpen.FindAllStringSubmatchIndex(content, -1) {
		braceStart := loc[1] - 1
		args, ok := jsonutil.ObjectAt(content, braceStart)
		if !ok {
			continue
		}
		if !strings.HasPrefix(content[braceStart+len(args):], ")]") {
			continue
		}
		calls = append(calls, llm.ToolCall{
			ID:        newCallID(),
			Name:      content[loc[2]:loc[3]],
			Arguments: json.RawMessage(args),
		})
	}
	return calls
}

func newCallID() string {
	return "call_" + uuid.NewString()
}
