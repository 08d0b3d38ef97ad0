package turn

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/laundryguy77/PeanutChat-sub000/compaction"
	"github.com/laundryguy77/PeanutChat-sub000/ledger"
	"github.com/laundryguy77/PeanutChat-sub000/llm"
	"github.com/laundryguy77/PeanutChat-sub000/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedStream plays back a fixed frame sequence, then io.EOF.
// Close unblocks a pending Recv on a blocking stream.
type scriptedStream struct {
	frames []llm.Frame
	block  bool

	mu     sync.Mutex
	pos    int
	closed chan struct{}
	once   sync.Once
}

func newScriptedStream(block bool, frames ...llm.Frame) *scriptedStream {
	return &scriptedStream{frames: frames, block: block, closed: make(chan struct{})}
}

func (s *scriptedStream) Recv() (llm.Frame, error) {
	s.mu.Lock()
	if s.pos < len(s.frames) {
		frame := s.frames[s.pos]
		s.pos++
		s.mu.Unlock()
		return frame, nil
	}
	s.mu.Unlock()

	if s.block {
		<-s.closed
		return llm.Frame{}, errors.New("stream closed")
	}
	return llm.Frame{}, io.EOF
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// scriptedProvider hands out streams from a queue, one per Stream call.
type scriptedProvider struct {
	mu      sync.Mutex
	streams []*scriptedStream
	reqs    []llm.StreamRequest
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []llm.ChatMessage, opts *llm.ChatOptions) (llm.LLMResponse, error) {
	return llm.LLMResponse{}, errors.New("scripted provider does not chat")
}

func (p *scriptedProvider) Stream(ctx context.Context, req llm.StreamRequest) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reqs = append(p.reqs, req)
	if len(p.streams) == 0 {
		return nil, errors.New("no scripted stream left")
	}
	stream := p.streams[0]
	p.streams = p.streams[1:]
	return stream, nil
}

var _ llm.Provider = (*scriptedProvider)(nil)

// collector records events; it can simulate a disconnect after a
// fixed number of emits.
type collector struct {
	mu        sync.Mutex
	events    []Event
	failAfter int // 0 means never fail
}

func (c *collector) Emit(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAfter > 0 && len(c.events) >= c.failAfter {
		return errors.New("client gone")
	}
	c.events = append(c.events, event)
	return nil
}

func (c *collector) byType(t EventType) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (c *collector) content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, e := range c.events {
		if e.Type == EventToken {
			b.WriteString(e.Content)
		}
	}
	return b.String()
}

func newTestOrchestrator(t *testing.T, provider llm.Provider, cfg Config) (*Orchestrator, ledger.Store) {
	t.Helper()
	store := ledger.NewMemoryStore()
	budgets, err := compaction.ComputeBudgets(8192, 20, 80)
	if err != nil {
		t.Fatalf("ComputeBudgets: %v", err)
	}
	engine := compaction.NewEngine(compaction.SelectorConfig{
		Enabled:   false,
		Budgets:   budgets,
		Estimator: compaction.Estimator{},
	}, nil, store, nil)

	registry, err := tools.WithDefaults()
	if err != nil {
		t.Fatalf("WithDefaults: %v", err)
	}
	return NewOrchestrator(provider, engine, store, registry, tools.NewDefaultExecutor(), cfg, nil), store
}

func TestRunPlainAnswer(t *testing.T) {
	provider := &scriptedProvider{streams: []*scriptedStream{
		newScriptedStream(false,
			llm.Frame{Content: "Hello "},
			llm.Frame{Content: "there."},
			llm.Frame{Done: true},
		),
	}}
	orch, store := newTestOrchestrator(t, provider, Config{SystemPrompt: "Be brief."})
	emit := &collector{}

	err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "hi"}, emit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := emit.content(); got != "Hello there." {
		t.Errorf("expected streamed content, got %q", got)
	}
	done := emit.byType(EventDone)
	if len(done) != 1 || done[0].FinishReason != "stop" {
		t.Errorf("expected one done(stop) event, got %+v", done)
	}
	if errs := emit.byType(EventError); len(errs) != 0 {
		t.Errorf("unexpected error events: %+v", errs)
	}

	convID := emit.byType(EventConversation)[0].ConversationID
	conv, err := store.Get(context.Background(), "owner-1", convID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected user + assistant messages, got %d", len(conv.Messages))
	}
	if conv.Messages[1].Content != "Hello there." {
		t.Errorf("assistant message not persisted: %q", conv.Messages[1].Content)
	}
}

func TestRunThinkingOnlyFallsBack(t *testing.T) {
	provider := &scriptedProvider{streams: []*scriptedStream{
		newScriptedStream(false,
			llm.Frame{Thinking: "hmm, "},
			llm.Frame{Thinking: "tricky question"},
			llm.Frame{Done: true},
		),
	}}
	orch, store := newTestOrchestrator(t, provider, Config{ThinkingEnabled: true})
	emit := &collector{}

	if err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "why?"}, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := emit.content(); got != fallbackContent {
		t.Errorf("expected fallback content exactly once, got %q", got)
	}

	var thinkingDone int
	for _, e := range emit.byType(EventToken) {
		if e.ThinkingDone {
			thinkingDone++
		}
	}
	if thinkingDone != 1 {
		t.Errorf("expected exactly one thinking-done marker, got %d", thinkingDone)
	}

	convID := emit.byType(EventConversation)[0].ConversationID
	conv, _ := store.Get(context.Background(), "owner-1", convID)
	assistant := conv.Messages[len(conv.Messages)-1]
	if assistant.Content != fallbackContent {
		t.Errorf("fallback must be persisted, got %q", assistant.Content)
	}
	if !strings.Contains(assistant.Thinking, "tricky question") {
		t.Errorf("thinking trace must be persisted, got %q", assistant.Thinking)
	}
}

func TestRunToolDispatchOrdered(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "call_a", Name: "calculator", Arguments: json.RawMessage(`{"expression":"2+2"}`)},
		{ID: "call_b", Name: "current_time", Arguments: json.RawMessage(`{"timezone":"UTC"}`)},
	}
	provider := &scriptedProvider{streams: []*scriptedStream{
		newScriptedStream(false,
			llm.Frame{Content: "Let me check."},
			llm.Frame{ToolCalls: calls, Done: true},
		),
		newScriptedStream(false,
			llm.Frame{Content: "It is 4."},
			llm.Frame{Done: true},
		),
	}}
	orch, store := newTestOrchestrator(t, provider, Config{})
	emit := &collector{}

	if err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "compute"}, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	callEvents := emit.byType(EventToolCall)
	if len(callEvents) != 2 {
		t.Fatalf("expected 2 tool_call events, got %d", len(callEvents))
	}
	if callEvents[0].ToolName != "calculator" || callEvents[1].ToolName != "current_time" {
		t.Errorf("tool calls out of order: %q, %q", callEvents[0].ToolName, callEvents[1].ToolName)
	}

	results := emit.byType(EventToolResult)
	if len(results) != 2 {
		t.Fatalf("expected 2 tool_result events, got %d", len(results))
	}
	if results[0].ToolResult != "4" {
		t.Errorf("expected calculator result 4, got %q", results[0].ToolResult)
	}

	done := emit.byType(EventDone)
	if len(done) != 1 || done[0].FinishReason != "tool_use" {
		t.Errorf("expected done(tool_use), got %+v", done)
	}

	convID := emit.byType(EventConversation)[0].ConversationID
	conv, _ := store.Get(context.Background(), "owner-1", convID)
	// user, assistant(tool calls), tool, tool, assistant
	if len(conv.Messages) != 5 {
		t.Fatalf("expected 5 persisted messages, got %d", len(conv.Messages))
	}
	if len(conv.Messages[1].ToolCalls) != 2 {
		t.Errorf("assistant tool calls not persisted: %+v", conv.Messages[1].ToolCalls)
	}
	if conv.Messages[2].ToolName != "calculator" || conv.Messages[3].ToolName != "current_time" {
		t.Errorf("tool messages out of order: %q, %q", conv.Messages[2].ToolName, conv.Messages[3].ToolName)
	}
	if conv.Messages[2].ToolCallID != "call_a" {
		t.Errorf("tool message must link its call id, got %q", conv.Messages[2].ToolCallID)
	}
	if conv.Messages[4].Content != "It is 4." {
		t.Errorf("follow-up answer not persisted: %q", conv.Messages[4].Content)
	}

	// The follow-up request must carry the tool exchange.
	if len(provider.reqs) != 2 {
		t.Fatalf("expected 2 stream requests, got %d", len(provider.reqs))
	}
	followup := provider.reqs[1].Messages
	var toolResults int
	for _, m := range followup {
		if m.Role == "tool" {
			toolResults++
		}
	}
	if toolResults != 2 {
		t.Errorf("follow-up context must include both tool results, got %d", toolResults)
	}
}

func TestRunParsesTextualToolCall(t *testing.T) {
	provider := &scriptedProvider{streams: []*scriptedStream{
		newScriptedStream(false,
			llm.Frame{Content: `{"tool": "calculator", "input": {"expression": "3*3"}}`},
			llm.Frame{Done: true},
		),
		newScriptedStream(false,
			llm.Frame{Content: "Nine."},
			llm.Frame{Done: true},
		),
	}}
	orch, _ := newTestOrchestrator(t, provider, Config{})
	emit := &collector{}

	if err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "3 squared?"}, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	results := emit.byType(EventToolResult)
	if len(results) != 1 || results[0].ToolResult != "9" {
		t.Fatalf("expected recovered calculator call with result 9, got %+v", results)
	}
}

func TestRunThinkingLimitEndsPhase(t *testing.T) {
	frames := make([]llm.Frame, 0, 12)
	for i := 0; i < 10; i++ {
		frames = append(frames, llm.Frame{Thinking: strings.Repeat("reason ", 10)})
	}
	frames = append(frames, llm.Frame{Content: "never reached"}, llm.Frame{Done: true})

	provider := &scriptedProvider{streams: []*scriptedStream{
		newScriptedStream(false, frames...),
	}}
	orch, _ := newTestOrchestrator(t, provider, Config{
		ThinkingEnabled:      true,
		ThinkingLimitInitial: 40,
	})
	emit := &collector{}

	if err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "think hard"}, emit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(emit.byType(EventWarning)) != 1 {
		t.Errorf("expected one warning event, got %d", len(emit.byType(EventWarning)))
	}
	if got := emit.content(); got != fallbackContent {
		t.Errorf("phase must end before content arrives, got %q", got)
	}
	if len(emit.byType(EventDone)) != 1 {
		t.Error("turn must still complete normally")
	}
}

func TestRunClientDisconnectSilent(t *testing.T) {
	stream := newScriptedStream(false,
		llm.Frame{Content: "a"},
		llm.Frame{Content: "b"},
		llm.Frame{Content: "c"},
		llm.Frame{Done: true},
	)
	provider := &scriptedProvider{streams: []*scriptedStream{stream}}
	orch, _ := newTestOrchestrator(t, provider, Config{})

	// Allow conversation + user message + one token, then "disconnect".
	emit := &collector{failAfter: 4}

	if err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "hi"}, emit); err != nil {
		t.Fatalf("disconnect must not surface an error, got %v", err)
	}

	if len(emit.byType(EventDone)) != 0 {
		t.Error("no done event may follow a disconnect")
	}
	if len(emit.byType(EventError)) != 0 {
		t.Error("no error event may follow a disconnect")
	}
	if !stream.isClosed() {
		t.Error("model stream must be closed after disconnect")
	}
}

func TestRunContextCancelled(t *testing.T) {
	stream := newScriptedStream(true, llm.Frame{Content: "partial"})
	provider := &scriptedProvider{streams: []*scriptedStream{stream}}
	orch, _ := newTestOrchestrator(t, provider, Config{})
	emit := &collector{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- orch.Run(ctx, Request{OwnerID: "owner-1", Content: "hi"}, emit)
	}()

	// Wait for the partial token to prove the stream is live.
	for emit.content() != "partial" {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("cancellation must not surface an error, got %v", err)
	}
	if len(emit.byType(EventDone)) != 0 || len(emit.byType(EventError)) != 0 {
		t.Error("cancelled turn must end without done or error events")
	}
	if !stream.isClosed() {
		t.Error("model stream must be closed after cancellation")
	}
}

func TestRunStreamErrorReported(t *testing.T) {
	provider := &scriptedProvider{} // no streams: Stream() fails
	orch, _ := newTestOrchestrator(t, provider, Config{})
	emit := &collector{}

	err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "hi"}, emit)
	if err == nil {
		t.Fatal("expected error when the stream cannot open")
	}
	if len(emit.byType(EventError)) != 1 {
		t.Error("failure must be reported as an error event")
	}
	if len(emit.byType(EventDone)) != 0 {
		t.Error("failed turn must not emit done")
	}
}

func TestRunEmptyContentRejected(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedProvider{}, Config{})
	emit := &collector{}

	if err := orch.Run(context.Background(), Request{OwnerID: "owner-1", Content: "   "}, emit); err == nil {
		t.Fatal("expected error for blank content")
	}
}

func TestRunUnknownConversation(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &scriptedProvider{}, Config{})
	emit := &collector{}

	err := orch.Run(context.Background(), Request{
		OwnerID:        "owner-1",
		ConversationID: "no-such-conversation",
		Content:        "hi",
	}, emit)
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
