package compaction

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/laundryguy77/PeanutChat-sub000/ledger"
	"github.com/laundryguy77/PeanutChat-sub000/llm"
)

func TestCompactedRewriteOrderAndSummaryPlacement(t *testing.T) {
	effective := []ledger.Message{
		ledger.NewSystemMessage("prompt"),
		ledger.NewUserMessage("first"),
		ledger.NewAssistantMessage("reply one"),
		ledger.NewUserMessage("second"),
		ledger.NewAssistantMessage("reply two"),
	}
	compacted := map[int]bool{1: true, 2: true}

	out := CompactedRewrite(effective, "they greeted each other", compacted)

	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out))
	}
	if out[0].Role != ledger.RoleSystem || out[0].Content != "prompt" {
		t.Errorf("leading system message must survive first, got %+v", out[0])
	}
	if out[1].Role != ledger.RoleSystem || !strings.Contains(out[1].Content, "they greeted each other") {
		t.Errorf("summary must follow the system prompt, got %+v", out[1])
	}
	if !strings.HasPrefix(out[1].Content, summaryPreamble) {
		t.Error("summary message must carry the preamble")
	}
	if out[2].Content != "second" || out[3].Content != "reply two" {
		t.Errorf("survivors must keep original order, got %q then %q", out[2].Content, out[3].Content)
	}
}

func TestCompactedRewriteNoLeadingSystem(t *testing.T) {
	effective := []ledger.Message{
		ledger.NewUserMessage("hello"),
		ledger.NewAssistantMessage("hi"),
	}

	out := CompactedRewrite(effective, "recap", map[int]bool{0: true})

	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != ledger.RoleSystem {
		t.Error("summary must lead when no system prompt exists")
	}
	if out[1].Content != "hi" {
		t.Errorf("expected surviving assistant message, got %q", out[1].Content)
	}
}

func TestCompactedRewriteNoDuplicates(t *testing.T) {
	effective := []ledger.Message{
		ledger.NewSystemMessage("prompt"),
		ledger.NewUserMessage("a"),
		ledger.NewUserMessage("b"),
	}

	out := CompactedRewrite(effective, "recap", map[int]bool{1: true})

	seen := map[string]int{}
	for _, m := range out {
		seen[m.Content]++
	}
	for content, n := range seen {
		if n > 1 {
			t.Errorf("message %q appears %d times", content, n)
		}
	}
	if seen["a"] != 0 {
		t.Error("compacted message must not survive the rewrite")
	}
}

func TestTruncateUnderBudgetUnchanged(t *testing.T) {
	effective := []ledger.Message{
		ledger.NewSystemMessage("prompt"),
		ledger.NewUserMessage("short"),
	}

	out := Truncate(effective, 1000, Estimator{})
	if len(out) != 2 {
		t.Fatalf("under-budget list must pass through, got %d messages", len(out))
	}
}

func TestTruncateKeepsSystemNoticeAndSuffix(t *testing.T) {
	effective := []ledger.Message{
		ledger.NewSystemMessage("prompt"),
		messageOfTokens(ledger.RoleUser, 200),
		messageOfTokens(ledger.RoleAssistant, 200),
		ledger.NewUserMessage("latest question"),
		ledger.NewAssistantMessage("partial"),
	}

	out := Truncate(effective, 100, Estimator{})

	if out[0].Content != "prompt" {
		t.Errorf("system prompt must survive, got %q", out[0].Content)
	}
	if out[1].Content != truncationNotice {
		t.Errorf("expected truncation notice, got %q", out[1].Content)
	}
	if out[2].Content != "latest question" {
		t.Errorf("suffix must start at the anchoring user message, got %q", out[2].Content)
	}
	if out[len(out)-1].Content != "partial" {
		t.Errorf("suffix must run to the end, got %q", out[len(out)-1].Content)
	}
}

func TestTruncateKeepsToolChainIntact(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "fetch", Arguments: json.RawMessage(`{}`)}
	effective := []ledger.Message{
		ledger.NewSystemMessage("prompt"),
		messageOfTokens(ledger.RoleUser, 300),
		messageOfTokens(ledger.RoleAssistant, 300),
		ledger.NewUserMessage("run the tool"),
		ledger.NewAssistantMessage("").WithToolCalls([]llm.ToolCall{call}),
		ledger.NewToolMessage("fetch", "call_1", strings.Repeat("r", 800)),
	}

	out := Truncate(effective, 50, Estimator{})

	var haveCall, haveResult, haveUser bool
	for _, m := range out {
		if len(m.ToolCalls) > 0 {
			haveCall = true
		}
		if m.Role == ledger.RoleTool {
			haveResult = true
		}
		if m.Content == "run the tool" {
			haveUser = true
		}
	}
	if !haveCall || !haveResult {
		t.Errorf("tool exchange must survive truncation intact (call=%v result=%v)", haveCall, haveResult)
	}
	if !haveUser {
		t.Error("the user message that opened the exchange must survive")
	}
}
