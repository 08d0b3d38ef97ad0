// Package compaction implements the context compaction engine: token
// budgeting, compaction triggering, summary generation, and the
// message rewriting that produces the effective prompt for a turn.
//
// Information Hiding:
// - Token estimation heuristic hidden behind Estimator
// - Selection and boundary rules hidden behind Selector
// - Summarization prompt and fallback policy hidden in Summarizer
package compaction

import (
	"encoding/json"

	"github.com/laundryguy77/PeanutChat-sub000/ledger"
)

// defaultCharsPerToken is the character-to-token ratio used when none
// is configured. One token per four characters is the common heuristic
// across providers.
const defaultCharsPerToken = 4

// messageOverheadTokens approximates the per-message framing cost
// (role markers, separators) a provider charges beyond the content.
const messageOverheadTokens = 3

// Estimator approximates token counts from text length. It is cheap,
// deterministic, and monotonic in length; it is intentionally not
// exact, and nothing downstream may treat it as a hard guarantee.
type Estimator struct {
	// CharsPerToken is the character-to-token divisor; defaults to 4
	// if zero or negative.
	CharsPerToken int
}

func (e Estimator) ratio() int {
	if e.CharsPerToken <= 0 {
		return defaultCharsPerToken
	}
	return e.CharsPerToken
}

// Estimate returns a token estimate for raw text. Empty text still
// costs one token so no message is ever free.
func (e Estimator) Estimate(text string) int {
	return len(text)/e.ratio() + 1
}

// EstimateMessage returns a token estimate for one message: content
// plus serialized tool calls plus framing overhead. Thinking traces
// are not counted, they are never sent back to the model.
func (e Estimator) EstimateMessage(m ledger.Message) int {
	total := e.Estimate(m.Content) + messageOverheadTokens
	for _, tc := range m.ToolCalls {
		total += e.Estimate(tc.Name)
		total += len(tc.Arguments) / e.ratio()
	}
	if m.ToolName != "" {
		total += e.Estimate(m.ToolName)
	}
	return total
}

// EstimateMessages sums EstimateMessage over a slice.
func (e Estimator) EstimateMessages(messages []ledger.Message) int {
	total := 0
	for _, m := range messages {
		total += e.EstimateMessage(m)
	}
	return total
}

// EstimateValue serializes a non-text payload to JSON and estimates
// the result. Serialization failures fall back to zero-length text.
func (e Estimator) EstimateValue(v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		return e.Estimate("")
	}
	return e.Estimate(string(data))
}
