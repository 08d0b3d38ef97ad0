// Engine wires selection, summarization, rewriting, and the ledger
// into the single entry point the turn orchestrator calls.

package compaction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/laundryguy77/PeanutChat-sub000/ledger"
)

// Engine produces the effective message list for a turn, running a
// compaction pass first when one is due. All failures inside the
// engine degrade to plain truncation; the turn itself never fails
// because compaction could not run.
type Engine struct {
	selector   *Selector
	summarizer *Summarizer
	store      ledger.Store
	budgets    Budgets
	estimator  Estimator
	enabled    bool
	log        *zap.Logger
}

// NewEngine creates an engine. summarizer may be nil only when cfg
// disables compaction.
func NewEngine(cfg SelectorConfig, summarizer *Summarizer, store ledger.Store, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		selector:   NewSelector(cfg),
		summarizer: summarizer,
		store:      store,
		budgets:    cfg.Budgets,
		estimator:  cfg.Estimator,
		enabled:    cfg.Enabled,
		log:        log,
	}
}

// Budgets returns the engine's budget split.
func (e *Engine) Budgets() Budgets {
	return e.budgets
}

// EffectiveMessages builds the prompt for a turn from the
// conversation's active messages, prefixed by systemPrompt when
// non-empty. When compaction is enabled and due, a pass runs first and
// its result is persisted through the ledger (which re-verifies
// ownership); with compaction disabled, plain truncation enforces the
// active window instead.
func (e *Engine) EffectiveMessages(ctx context.Context, ownerID string, conv *ledger.Conversation, systemPrompt string) []ledger.Message {
	active := conv.ActiveMessages()

	base := make([]ledger.Message, 0, len(active)+1)
	if systemPrompt != "" {
		base = append(base, ledger.NewSystemMessage(systemPrompt))
	}
	base = append(base, active...)

	if !e.enabled {
		return withSummary(Truncate(base, e.budgets.ActiveWindow, e.estimator), conv.Summary)
	}

	plan, needed := e.selector.Select(base, conv.SummaryTokens)
	if !needed {
		// No pass is due, or nothing is eligible (protected tail or an
		// open tool chain covering the range). The list may still be
		// over budget; truncation is the fallback for that too.
		return e.enforceWindow(withSummary(base, conv.Summary))
	}

	summary, summaryTokens := e.summarizer.Summarize(ctx, plan.Messages, conv.Summary)

	messageIDs := make([]string, 0, len(plan.Indices))
	for _, idx := range plan.Indices {
		storedIdx, ok := plan.StoredIndex(idx)
		if !ok || storedIdx >= len(active) {
			continue
		}
		if id := active[storedIdx].ID; id != "" {
			messageIDs = append(messageIDs, id)
		}
	}

	update := ledger.CompactionUpdate{
		Summary:       summary,
		SummaryTokens: summaryTokens,
		Record: ledger.CompactionRecord{
			ID:                 uuid.NewString(),
			CreatedAt:          time.Now().UTC(),
			Summary:            summary,
			MessageIDs:         messageIDs,
			TokenCount:         summaryTokens,
			OriginalTokenCount: plan.SelectedTokens + conv.SummaryTokens,
		},
	}
	if err := e.store.ApplyCompaction(ctx, ownerID, conv.ID, update); err != nil {
		// The pass lost a race or the conversation is gone; serve the
		// turn anyway with plain truncation on the unmodified list.
		e.log.Warn("compaction persist failed, truncating instead",
			zap.String("conversation_id", conv.ID), zap.Error(err))
		return withSummary(Truncate(base, e.budgets.ActiveWindow, e.estimator), conv.Summary)
	}

	compacted := make(map[int]bool, len(plan.Indices))
	for _, idx := range plan.Indices {
		compacted[idx] = true
	}
	e.log.Info("compacted conversation",
		zap.String("conversation_id", conv.ID),
		zap.Int("messages_folded", len(messageIDs)),
		zap.Int("tokens_before", plan.TotalTokens),
		zap.Int("summary_tokens", summaryTokens))
	return e.enforceWindow(CompactedRewrite(base, summary, compacted))
}

// TruncateForFollowup applies plain truncation to a follow-up context.
// Summarized compaction is never re-run mid-turn.
func (e *Engine) TruncateForFollowup(messages []ledger.Message) []ledger.Message {
	return Truncate(messages, e.budgets.ActiveWindow, e.estimator)
}

// enforceWindow truncates a prompt that still exceeds the active
// window after compaction declined to run or did not shed enough.
func (e *Engine) enforceWindow(messages []ledger.Message) []ledger.Message {
	if e.estimator.EstimateMessages(messages) <= e.budgets.ActiveWindow {
		return messages
	}
	return Truncate(messages, e.budgets.ActiveWindow, e.estimator)
}

// withSummary injects the running summary into a list that was not
// rewritten by a fresh compaction pass.
func withSummary(messages []ledger.Message, summary string) []ledger.Message {
	if summary == "" {
		return messages
	}
	return CompactedRewrite(messages, summary, nil)
}
