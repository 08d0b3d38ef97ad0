package turn

import (
	"strings"
	"sync"

	"github.com/laundryguy77/PeanutChat-sub000/llm"
)

// turnState tracks the accumulation for one streaming phase plus the
// resources that must be released when the turn ends, however it ends.
type turnState struct {
	thinking strings.Builder
	content  strings.Builder

	thinkingTokens int
	thinkingOpen   bool

	calls []llm.ToolCall

	mu       sync.Mutex
	cleanups []func()
	released bool
}

func newTurnState() *turnState {
	return &turnState{}
}

// onRelease registers a cleanup to run when the turn ends. Cleanups
// run in reverse registration order, exactly once.
func (s *turnState) onRelease(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		fn()
		return
	}
	s.cleanups = append(s.cleanups, fn)
}

// release runs all registered cleanups. Idempotent.
func (s *turnState) release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	cleanups := s.cleanups
	s.cleanups = nil
	s.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// resetPhase clears the per-stream accumulators for the follow-up
// stream while keeping registered cleanups intact.
func (s *turnState) resetPhase() {
	s.thinking.Reset()
	s.content.Reset()
	s.thinkingTokens = 0
	s.thinkingOpen = false
	s.calls = nil
}
