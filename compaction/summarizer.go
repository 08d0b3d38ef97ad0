// Summary generation via the LLM, with deterministic fallback.

package compaction

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/laundryguy77/PeanutChat-sub000/ledger"
	"github.com/laundryguy77/PeanutChat-sub000/llm"
)

const summarizerInstruction = `You are a conversation summarizer. Summarize the following conversation history concisely, preserving key information, decisions, and context that would be important for continuing the conversation. Focus on:
1. Main topics discussed
2. Key decisions or conclusions reached
3. Important facts or data mentioned
4. Any pending tasks or questions

Respond with the summary only.`

const (
	// summarizerTemperature keeps summarization near-deterministic.
	summarizerTemperature = float32(0.2)
	// summarizerMaxTokens caps the summarization call so it cannot
	// blow the context window itself.
	summarizerMaxTokens = 1024
	// summaryCharCap hard-truncates a summary that failed the
	// quality check.
	summaryCharCap = 4000
	// fallbackSnippetChars is the transcript excerpt length used
	// when the LLM call fails outright.
	fallbackSnippetChars = 1500
)

// Summarizer produces and merges conversation summaries. It degrades
// rather than fails: an LLM error yields a deterministic excerpt of
// the transcript, never an empty slot.
type Summarizer struct {
	provider  llm.Provider
	model     string
	estimator Estimator
	log       *zap.Logger
}

// NewSummarizer creates a summarizer using the given provider and
// model identifier. model may be empty to use the provider's default.
func NewSummarizer(provider llm.Provider, model string, estimator Estimator, log *zap.Logger) *Summarizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Summarizer{provider: provider, model: model, estimator: estimator, log: log}
}

// Summarize renders the selected messages to a transcript, merges any
// previous summary, and asks the model for a replacement summary.
// Returns the summary text and its estimated token count.
func (s *Summarizer) Summarize(ctx context.Context, selected []ledger.Message, previousSummary string) (string, int) {
	transcript := RenderTranscript(selected)

	prompt := transcript
	if previousSummary != "" {
		prompt = fmt.Sprintf("Previous summary of earlier conversation:\n%s\n\nNew messages to fold in:\n%s",
			previousSummary, transcript)
	}

	temp := summarizerTemperature
	resp, err := s.provider.Chat(ctx, []llm.ChatMessage{
		llm.SystemMessage(summarizerInstruction),
		llm.UserMessage(prompt),
	}, &llm.ChatOptions{
		Model:       s.model,
		Temperature: &temp,
		MaxTokens:   summarizerMaxTokens,
	})
	if err != nil {
		s.log.Warn("summarization call failed, using fallback excerpt", zap.Error(err))
		summary := fallbackSummary(previousSummary, transcript)
		return summary, s.estimator.Estimate(summary)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		s.log.Warn("summarization returned empty content, using fallback excerpt")
		summary = fallbackSummary(previousSummary, transcript)
		return summary, s.estimator.Estimate(summary)
	}

	// Quality check: a summary that is more than half the size of the
	// transcript it folds in is a regression, not a summary. The
	// previous summary being merged does not count toward the input.
	if s.estimator.Estimate(summary) > s.estimator.Estimate(transcript)/2 {
		s.log.Warn("summary failed quality check, truncating",
			zap.Int("summary_chars", len(summary)))
		summary = truncateChars(summary, summaryCharCap)
	}

	return summary, s.estimator.Estimate(summary)
}

// RenderTranscript flattens messages into a role-labeled transcript.
// Tool activity is labeled distinctly so the summarizer can tell it
// apart from conversation.
func RenderTranscript(messages []ledger.Message) string {
	var b strings.Builder
	for _, m := range messages {
		label := string(m.Role)
		switch {
		case m.Role == ledger.RoleAssistant && len(m.ToolCalls) > 0:
			names := make([]string, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				names[i] = tc.Name
			}
			label = fmt.Sprintf("assistant [called tools: %s]", strings.Join(names, ", "))
		case m.Role == ledger.RoleTool:
			label = fmt.Sprintf("tool result [%s]", m.ToolName)
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	return b.String()
}

// fallbackSummary is the deterministic degradation path: the previous
// summary (if any) followed by a fixed-size excerpt of the transcript.
func fallbackSummary(previousSummary, transcript string) string {
	excerpt := truncateChars(transcript, fallbackSnippetChars)
	if previousSummary != "" {
		return previousSummary + "\n\nMore recent exchange (excerpt):\n" + excerpt
	}
	return "Earlier conversation (excerpt):\n" + excerpt
}

// truncateChars cuts s to at most limit bytes without splitting a
// UTF-8 sequence.
func truncateChars(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}
