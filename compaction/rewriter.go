// Effective message list construction: compacted rewrite and plain
// truncation fallback.

package compaction

import (
	"github.com/laundryguy77/PeanutChat-sub000/ledger"
)

// summaryPreamble delimits the injected summary so the model can tell
// recap from live conversation.
const summaryPreamble = "Summary of the conversation so far (recent messages follow):\n\n"

// truncationNotice replaces history dropped by plain truncation.
const truncationNotice = "[earlier history truncated]"

// CompactedRewrite builds the effective message list after a
// compaction pass: the leading system message (if present), a
// synthetic system message carrying the summary, then every surviving
// message in original order. Compacted indices refer to positions in
// the input list.
func CompactedRewrite(effective []ledger.Message, summary string, compacted map[int]bool) []ledger.Message {
	out := make([]ledger.Message, 0, len(effective)+1)

	i := 0
	if len(effective) > 0 && effective[0].Role == ledger.RoleSystem {
		out = append(out, effective[0])
		i = 1
	}
	out = append(out, ledger.NewSystemMessage(summaryPreamble+summary))
	for ; i < len(effective); i++ {
		if !compacted[i] {
			out = append(out, effective[i])
		}
	}
	return out
}

// Truncate enforces a token budget without summarization. If the list
// already fits, it is returned unchanged. Otherwise the most recent
// interaction — the current tool exchange and the user message that
// started it — is kept behind a truncation notice, even when that
// suffix alone exceeds the budget: dropping in-flight tool context
// corrupts the exchange, while an oversized prompt merely gets
// truncated by the model.
func Truncate(effective []ledger.Message, budget int, est Estimator) []ledger.Message {
	if est.EstimateMessages(effective) <= budget {
		return effective
	}
	if len(effective) == 0 {
		return effective
	}

	suffixStart := criticalSuffixStart(effective)

	out := make([]ledger.Message, 0, len(effective)-suffixStart+2)
	if effective[0].Role == ledger.RoleSystem {
		out = append(out, effective[0])
	}
	out = append(out, ledger.NewSystemMessage(truncationNotice))
	for i := suffixStart; i < len(effective); i++ {
		out = append(out, effective[i])
	}
	return out
}

// criticalSuffixStart finds the start of the most recent contiguous
// interaction, using the same boundary rules as the active-tool-chain
// scan: trailing tool results pull in their assistant call, and the
// nearest preceding user message anchors the exchange.
func criticalSuffixStart(messages []ledger.Message) int {
	i := len(messages) - 1
	if i < 0 {
		return 0
	}

	// Back over trailing tool results to their assistant call.
	sawTool := false
	for i >= 0 && messages[i].Role == ledger.RoleTool {
		sawTool = true
		i--
	}
	if sawTool {
		for i >= 0 {
			if messages[i].Role == ledger.RoleAssistant && len(messages[i].ToolCalls) > 0 {
				break
			}
			i--
		}
	}

	// Anchor at the user message that opened this exchange.
	for i >= 0 && messages[i].Role != ledger.RoleUser {
		i--
	}
	if i < 0 {
		return len(messages) - 1
	}

	// Never start the suffix at a leading system slot; index 0 system
	// is re-emitted separately.
	if i == 0 && messages[0].Role == ledger.RoleSystem {
		return 1
	}
	return i
}
