package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/laundryguy77/PeanutChat-sub000/compaction"
	"github.com/laundryguy77/PeanutChat-sub000/ledger"
	"github.com/laundryguy77/PeanutChat-sub000/llm"
	"github.com/laundryguy77/PeanutChat-sub000/tools"
)

const (
	// DefaultThinkingLimitInitial bounds reasoning tokens on the
	// primary stream.
	DefaultThinkingLimitInitial = 4096
	// DefaultThinkingLimitFollowup bounds reasoning tokens on the
	// post-tool follow-up stream.
	DefaultThinkingLimitFollowup = 1024

	// fallbackContent replaces an assistant turn that produced
	// reasoning but no user-visible answer.
	fallbackContent = "I considered this at length but could not produce a final answer. Could you rephrase the question?"

	// followupDirective steers the follow-up completion after tool
	// results have been appended.
	followupDirective = "Continue the conversation using the tool results above. Answer the user's original question directly; do not call any more tools."

	frameBuffer = 16
)

// errClientGone signals that the caller stopped receiving events.
// The turn ends silently when it surfaces.
var errClientGone = errors.New("turn: client gone")

// Config carries the orchestrator's tunables.
type Config struct {
	SystemPrompt          string
	ThinkingEnabled       bool
	ThinkingLimitInitial  int
	ThinkingLimitFollowup int
}

func (c Config) initialLimit() int {
	if c.ThinkingLimitInitial > 0 {
		return c.ThinkingLimitInitial
	}
	return DefaultThinkingLimitInitial
}

func (c Config) followupLimit() int {
	if c.ThinkingLimitFollowup > 0 {
		return c.ThinkingLimitFollowup
	}
	return DefaultThinkingLimitFollowup
}

// Request is one user turn.
type Request struct {
	OwnerID        string
	ConversationID string // empty creates a new conversation
	Content        string
	Images         []string
	Model          string // optional per-turn model override
}

// Orchestrator runs user turns: it assembles the effective context,
// streams the model, dispatches tool calls, streams the follow-up,
// and persists everything to the ledger.
type Orchestrator struct {
	provider  llm.Provider
	engine    *compaction.Engine
	store     ledger.Store
	registry  *tools.Registry
	executor  *tools.Executor
	estimator compaction.Estimator
	cfg       Config
	log       *zap.Logger
}

// NewOrchestrator wires an orchestrator. A nil logger is replaced
// with a no-op one.
func NewOrchestrator(provider llm.Provider, engine *compaction.Engine, store ledger.Store, registry *tools.Registry, executor *tools.Executor, cfg Config, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		provider:  provider,
		engine:    engine,
		store:     store,
		registry:  registry,
		executor:  executor,
		estimator: compaction.Estimator{},
		cfg:       cfg,
		log:       log,
	}
}

// Run executes one turn and streams events to the emitter. It
// returns nil on normal completion and on cancellation (caller
// disconnect or context cancellation); the turn's partial state is
// released either way. Turn-fatal failures are reported both as an
// error event and as the returned error.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit Emitter) error {
	if strings.TrimSpace(req.Content) == "" {
		return o.fail(emit, fmt.Errorf("empty message content"))
	}

	state := newTurnState()
	defer state.release()

	err := o.run(ctx, req, emit, state)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errClientGone), errors.Is(err, context.Canceled):
		o.log.Debug("turn cancelled",
			zap.String("owner_id", req.OwnerID),
			zap.String("conversation_id", req.ConversationID))
		return nil
	default:
		return o.fail(emit, err)
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, emit Emitter, state *turnState) error {
	conv, err := o.resolveConversation(ctx, req)
	if err != nil {
		return err
	}
	if err := emit.Emit(conversationEvent(conv.ID)); err != nil {
		return errClientGone
	}

	userMsg := ledger.NewUserMessage(req.Content).WithImages(req.Images)
	stored, err := o.store.AppendMessage(ctx, req.OwnerID, conv.ID, userMsg)
	if err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	if err := emit.Emit(messageEvent(stored.ID, string(ledger.RoleUser))); err != nil {
		return errClientGone
	}

	// Re-read so the effective context includes the new message and
	// any compaction applied by a concurrent turn.
	conv, err = o.store.Get(ctx, req.OwnerID, conv.ID)
	if err != nil {
		return fmt.Errorf("reload conversation: %w", err)
	}
	effective := o.engine.EffectiveMessages(ctx, req.OwnerID, conv, o.cfg.SystemPrompt)

	calls, err := o.streamPhase(ctx, emit, state, llm.StreamRequest{
		Messages: ledger.ChatMessages(effective),
		Tools:    o.registry.Definitions(),
		Thinking: o.cfg.ThinkingEnabled,
		Model:    req.Model,
	}, o.cfg.initialLimit())
	if err != nil {
		return err
	}

	if len(calls) == 0 {
		calls = o.knownCalls(ParseToolCalls(state.content.String()))
	}
	if len(calls) == 0 {
		return o.finishTurn(ctx, req, conv.ID, emit, state, nil)
	}

	if _, err := o.persistAssistant(ctx, req, conv.ID, emit, state, calls); err != nil {
		return err
	}

	toolMsgs, err := o.dispatchTools(ctx, req, conv.ID, emit, calls)
	if err != nil {
		return err
	}

	followup := o.buildFollowupContext(effective, state, calls, toolMsgs)
	state.resetPhase()

	if _, err := o.streamPhase(ctx, emit, state, llm.StreamRequest{
		Messages: ledger.ChatMessages(followup),
		Model:    req.Model,
	}, o.cfg.followupLimit()); err != nil {
		return err
	}
	// Tool calls on the follow-up stream are dropped: the turn does
	// at most one dispatch round.
	return o.finishTurn(ctx, req, conv.ID, emit, state, calls)
}

func (o *Orchestrator) resolveConversation(ctx context.Context, req Request) (*ledger.Conversation, error) {
	if req.ConversationID == "" {
		conv, err := o.store.Create(ctx, req.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		return conv, nil
	}
	conv, err := o.store.Get(ctx, req.OwnerID, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

type frameResult struct {
	frame llm.Frame
	err   error
}

// streamPhase consumes one model stream into the turn state, relaying
// token events as they arrive. A dedicated goroutine pumps frames
// into a bounded channel so the select below stays responsive to
// cancellation; closing the stream unblocks the pump.
func (o *Orchestrator) streamPhase(ctx context.Context, emit Emitter, state *turnState, req llm.StreamRequest, thinkingLimit int) ([]llm.ToolCall, error) {
	stream, err := o.provider.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open model stream: %w", err)
	}
	state.onRelease(func() { _ = stream.Close() })

	frames := make(chan frameResult, frameBuffer)
	go func() {
		defer close(frames)
		for {
			frame, err := stream.Recv()
			frames <- frameResult{frame: frame, err: err}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		_ = stream.Close()
		for range frames {
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil, context.Canceled
		case res, ok := <-frames:
			if !ok {
				return state.calls, nil
			}
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return state.calls, nil
				}
				return nil, fmt.Errorf("model stream: %w", res.err)
			}
			done, err := o.consumeFrame(emit, state, res.frame, thinkingLimit)
			if err != nil {
				return nil, err
			}
			if done {
				return state.calls, nil
			}
		}
	}
}

func (o *Orchestrator) consumeFrame(emit Emitter, state *turnState, frame llm.Frame, thinkingLimit int) (bool, error) {
	if frame.Thinking != "" {
		state.thinkingTokens += o.estimator.Estimate(frame.Thinking)
		if state.thinkingTokens > thinkingLimit {
			// Safety valve against a model that reasons forever:
			// the phase ends as if the stream had completed.
			o.log.Warn("thinking limit exceeded, ending stream phase",
				zap.Int("limit", thinkingLimit))
			if err := emit.Emit(Event{Type: EventWarning, Message: "reasoning limit reached"}); err != nil {
				return false, errClientGone
			}
			if err := o.closeThinking(emit, state); err != nil {
				return false, err
			}
			return true, nil
		}
		state.thinkingOpen = true
		state.thinking.WriteString(frame.Thinking)
		if err := emit.Emit(thinkingToken(frame.Thinking)); err != nil {
			return false, errClientGone
		}
	}
	if frame.Content != "" {
		if err := o.closeThinking(emit, state); err != nil {
			return false, err
		}
		state.content.WriteString(frame.Content)
		if err := emit.Emit(contentToken(frame.Content)); err != nil {
			return false, errClientGone
		}
	}
	if len(frame.ToolCalls) > 0 {
		state.calls = append(state.calls, frame.ToolCalls...)
	}
	if frame.Done {
		if err := o.closeThinking(emit, state); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (o *Orchestrator) closeThinking(emit Emitter, state *turnState) error {
	if !state.thinkingOpen {
		return nil
	}
	state.thinkingOpen = false
	if err := emit.Emit(thinkingDoneToken()); err != nil {
		return errClientGone
	}
	return nil
}

// knownCalls filters heuristically parsed calls down to registered
// tools. Native calls are not filtered; the dispatcher reports
// unknown tools back to the model instead.
func (o *Orchestrator) knownCalls(calls []llm.ToolCall) []llm.ToolCall {
	var known []llm.ToolCall
	for _, call := range calls {
		if o.registry.Has(call.Name) {
			known = append(known, call)
		}
	}
	return known
}

func (o *Orchestrator) persistAssistant(ctx context.Context, req Request, conversationID string, emit Emitter, state *turnState, calls []llm.ToolCall) (string, error) {
	msg := ledger.NewAssistantMessage(state.content.String()).
		WithThinking(state.thinking.String()).
		WithToolCalls(calls)
	stored, err := o.store.AppendMessage(ctx, req.OwnerID, conversationID, msg)
	if err != nil {
		return "", fmt.Errorf("append assistant message: %w", err)
	}
	if err := emit.Emit(messageEvent(stored.ID, string(ledger.RoleAssistant))); err != nil {
		return "", errClientGone
	}
	return stored.ID, nil
}

// dispatchTools runs the calls strictly in order and appends one tool
// message per call. Tool failures are reported to the model as
// results, not raised; only persistence failures abort the turn.
func (o *Orchestrator) dispatchTools(ctx context.Context, req Request, conversationID string, emit Emitter, calls []llm.ToolCall) ([]ledger.Message, error) {
	if err := emit.Emit(statusEvent("running tools")); err != nil {
		return nil, errClientGone
	}
	msgs := make([]ledger.Message, 0, len(calls))
	for _, call := range calls {
		if err := emit.Emit(toolCallEvent(call.Name, call.Arguments)); err != nil {
			return nil, errClientGone
		}
		output, errMsg := o.executeCall(ctx, call)
		if err := emit.Emit(toolResultEvent(call.Name, output, errMsg)); err != nil {
			return nil, errClientGone
		}
		content := output
		if errMsg != "" {
			content = fmt.Sprintf("tool error: %s", errMsg)
		}
		msg := ledger.NewToolMessage(call.Name, call.ID, content)
		stored, err := o.store.AppendMessage(ctx, req.OwnerID, conversationID, msg)
		if err != nil {
			return nil, fmt.Errorf("append tool message: %w", err)
		}
		if err := emit.Emit(messageEvent(stored.ID, string(ledger.RoleTool))); err != nil {
			return nil, errClientGone
		}
		msgs = append(msgs, *stored)
	}
	return msgs, nil
}

func (o *Orchestrator) executeCall(ctx context.Context, call llm.ToolCall) (output, errMsg string) {
	tool, ok := o.registry.Get(call.Name)
	if !ok {
		return "", fmt.Sprintf("unknown tool %q", call.Name)
	}
	result, err := o.executor.Execute(ctx, tool, call.Arguments)
	if err != nil {
		o.log.Warn("tool execution failed",
			zap.String("tool", call.Name),
			zap.Error(err))
		return "", err.Error()
	}
	if result.Error != nil {
		return result.Output, result.Error.Error()
	}
	return result.Output, ""
}

// buildFollowupContext extends the primary context with the assistant
// tool-call message, the tool results, and a closing directive, then
// trims it back under the active window.
func (o *Orchestrator) buildFollowupContext(effective []ledger.Message, state *turnState, calls []llm.ToolCall, toolMsgs []ledger.Message) []ledger.Message {
	followup := make([]ledger.Message, 0, len(effective)+len(toolMsgs)+2)
	followup = append(followup, effective...)
	followup = append(followup, ledger.NewAssistantMessage(state.content.String()).WithToolCalls(calls))
	followup = append(followup, toolMsgs...)
	followup = append(followup, ledger.NewUserMessage(followupDirective))
	return o.engine.TruncateForFollowup(followup)
}

// finishTurn persists the final assistant message, substituting the
// fallback text when the model reasoned without answering, and closes
// the event stream.
func (o *Orchestrator) finishTurn(ctx context.Context, req Request, conversationID string, emit Emitter, state *turnState, priorCalls []llm.ToolCall) error {
	content := state.content.String()
	if strings.TrimSpace(content) == "" {
		content = fallbackContent
		if err := emit.Emit(contentToken(content)); err != nil {
			return errClientGone
		}
	}

	msg := ledger.NewAssistantMessage(content).WithThinking(state.thinking.String())
	stored, err := o.store.AppendMessage(ctx, req.OwnerID, conversationID, msg)
	if err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}
	if err := emit.Emit(messageEvent(stored.ID, string(ledger.RoleAssistant))); err != nil {
		return errClientGone
	}

	reason := "stop"
	if len(priorCalls) > 0 {
		reason = "tool_use"
	}
	if err := emit.Emit(doneEvent(reason)); err != nil {
		return errClientGone
	}
	return nil
}

// fail reports a turn-fatal error. The error event is best-effort;
// a gone client cannot receive it anyway.
func (o *Orchestrator) fail(emit Emitter, err error) error {
	o.log.Error("turn failed", zap.Error(err))
	_ = emit.Emit(errorEvent(err.Error()))
	return err
}
