// Compaction triggering and message selection.

package compaction

import (
	"github.com/laundryguy77/PeanutChat-sub000/ledger"
)

// targetReductionPct is the share of total estimated tokens the
// selector tries to fold into a summary per pass.
const targetReductionPct = 30

// SelectorConfig configures the selection rules.
type SelectorConfig struct {
	// Enabled gates the whole engine; when false Select always
	// answers "no".
	Enabled bool
	// ProtectedMessages is the count of most-recent messages never
	// eligible for compaction.
	ProtectedMessages int
	// Budgets supplies the trigger threshold.
	Budgets Budgets
	// Estimator measures messages.
	Estimator Estimator
}

// Plan is the outcome of a positive selection: which effective indices
// to fold into the summary, plus the bookkeeping needed to map those
// indices back to stored messages.
type Plan struct {
	// Indices are the selected positions in the effective message
	// list, ascending.
	Indices []int
	// Messages are the corresponding messages, in the same order.
	Messages []ledger.Message
	// PrefixLen is the number of synthetic prompt-only elements at
	// the head of the effective list (0 or 1). Stored-index mapping
	// subtracts it; see StoredIndex.
	PrefixLen int
	// TotalTokens is the estimate for the whole effective list plus
	// the running summary at decision time.
	TotalTokens int
	// SelectedTokens is the estimate for the selected messages.
	SelectedTokens int
}

// StoredIndex translates an effective-list index to the corresponding
// index in the conversation's active message list. Returns false for
// indices that refer to synthetic elements or fall out of range —
// callers must skip those rather than guess.
func (p Plan) StoredIndex(effectiveIdx int) (int, bool) {
	idx := effectiveIdx - p.PrefixLen
	if effectiveIdx < p.PrefixLen || idx < 0 {
		return 0, false
	}
	return idx, true
}

// Selector decides whether compaction is needed and which messages
// qualify. Select is pure: identical inputs always produce identical
// output.
type Selector struct {
	cfg SelectorConfig
}

// NewSelector creates a selector with the given configuration.
func NewSelector(cfg SelectorConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Select examines the effective message list (possibly prefixed by a
// synthetic system prompt) plus the current summary's token count and
// returns a Plan when compaction should run. The boolean is false when
// compaction is disabled, under threshold, or no eligible messages
// exist.
//
// Selection respects two boundaries: the last ProtectedMessages
// messages are never compacted, and an active tool chain (assistant
// tool-call message plus its tool results) is never split.
func (s *Selector) Select(effective []ledger.Message, summaryTokens int) (Plan, bool) {
	if !s.cfg.Enabled || len(effective) == 0 {
		return Plan{}, false
	}

	est := s.cfg.Estimator
	totalTokens := est.EstimateMessages(effective) + summaryTokens
	if totalTokens <= s.cfg.Budgets.Threshold {
		return Plan{}, false
	}

	prefixLen := 0
	if effective[0].Role == ledger.RoleSystem && effective[0].Synthetic() {
		prefixLen = 1
	}

	// Eligible range [start, end): skip a leading system message and
	// the protected tail.
	start := 0
	if effective[0].Role == ledger.RoleSystem {
		start = 1
	}
	end := len(effective) - s.cfg.ProtectedMessages
	if end > len(effective) {
		end = len(effective)
	}

	end = shrinkPastToolChain(effective, start, end)
	if end <= start {
		return Plan{}, false
	}

	// Greedily take messages from the oldest end until the target
	// reduction is reached or the range is exhausted.
	target := totalTokens * targetReductionPct / 100
	var indices []int
	var selected []ledger.Message
	selectedTokens := 0
	for i := start; i < end; i++ {
		indices = append(indices, i)
		selected = append(selected, effective[i])
		selectedTokens += est.EstimateMessage(effective[i])
		if selectedTokens < target {
			continue
		}
		// Target reached, but never cut inside a tool chain: ending on
		// the call, or just before its results, would compact one half
		// of the exchange and keep the other.
		if effective[i].Role == ledger.RoleAssistant && len(effective[i].ToolCalls) > 0 {
			continue
		}
		if i+1 < end && effective[i+1].Role == ledger.RoleTool {
			continue
		}
		break
	}
	if len(indices) == 0 {
		return Plan{}, false
	}

	return Plan{
		Indices:        indices,
		Messages:       selected,
		PrefixLen:      prefixLen,
		TotalTokens:    totalTokens,
		SelectedTokens: selectedTokens,
	}, true
}

// shrinkPastToolChain moves the eligible range's end so that an
// assistant tool-call message and its tool results stay on the same
// side of the cut. Compacting away the call while keeping the result
// (or vice versa) leaves the model unable to interpret the exchange.
func shrinkPastToolChain(messages []ledger.Message, start, end int) int {
	if end <= start {
		return end
	}

	last := end - 1
	switch {
	case messages[last].Role == ledger.RoleTool:
		// A result sits at the boundary; back up to its call.
		for i := last; i >= start; i-- {
			if messages[i].Role == ledger.RoleAssistant && len(messages[i].ToolCalls) > 0 {
				return i
			}
		}
		// No call inside the range: the whole range is mid-chain.
		return start
	case messages[last].Role == ledger.RoleAssistant && len(messages[last].ToolCalls) > 0:
		// The call is at the boundary but its results lie beyond it.
		return last
	}
	return end
}
