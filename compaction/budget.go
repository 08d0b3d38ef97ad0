// Token budget arithmetic.

package compaction

import (
	"errors"
	"fmt"
)

// ResponseReserve is the fixed headroom, in tokens, held back for the
// model's response on every turn.
const ResponseReserve = 1000

// ErrConfiguration indicates budget parameters that leave no usable
// active window. Fatal: callers must not attempt compaction math with
// a non-positive window.
var ErrConfiguration = errors.New("invalid compaction configuration")

// Budgets carves a model's context window into the regions the engine
// works with. Invariant: ResponseReserve + SummaryBuffer +
// ActiveWindow == Total, and Threshold <= ActiveWindow.
type Budgets struct {
	Total           int // full context window (num_ctx)
	SummaryBuffer   int // reserved for the running summary
	ActiveWindow    int // usable for live history
	Threshold       int // compaction trigger point
	ResponseReserve int // held back for the model's reply
}

// ComputeBudgets derives Budgets from the context size and two
// percentages: bufferPct of the total is reserved for the summary,
// and thresholdPct of the resulting active window is the compaction
// trigger. Returns ErrConfiguration when the active window comes out
// non-positive.
func ComputeBudgets(total, bufferPct, thresholdPct int) (Budgets, error) {
	if total <= 0 {
		return Budgets{}, fmt.Errorf("%w: context size %d", ErrConfiguration, total)
	}

	summaryBuffer := total * bufferPct / 100
	activeWindow := total - summaryBuffer - ResponseReserve
	if activeWindow <= 0 {
		return Budgets{}, fmt.Errorf(
			"%w: context %d with buffer %d%% leaves active window %d",
			ErrConfiguration, total, bufferPct, activeWindow)
	}

	return Budgets{
		Total:           total,
		SummaryBuffer:   summaryBuffer,
		ActiveWindow:    activeWindow,
		Threshold:       activeWindow * thresholdPct / 100,
		ResponseReserve: ResponseReserve,
	}, nil
}
