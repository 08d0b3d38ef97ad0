package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/laundryguy77/PeanutChat-sub000/ledger"
)

func seedConversation(t *testing.T, store ledger.Store, ownerID string, count, tokensEach int) *ledger.Conversation {
	t.Helper()
	ctx := context.Background()

	conv, err := store.Create(ctx, ownerID)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	for i := 0; i < count; i++ {
		role := ledger.RoleUser
		if i%2 == 1 {
			role = ledger.RoleAssistant
		}
		if _, err := store.AppendMessage(ctx, ownerID, conv.ID, messageOfTokens(role, tokensEach)); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}
	conv, err = store.Get(ctx, ownerID, conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	return conv
}

func testEngine(t *testing.T, store ledger.Store, enabled bool) *Engine {
	t.Helper()
	budgets, err := ComputeBudgets(4096, 20, 50)
	if err != nil {
		t.Fatalf("ComputeBudgets: %v", err)
	}
	summarizer := NewSummarizer(&stubProvider{content: "Earlier exchanges covered routine back and forth."}, "", Estimator{}, nil)
	return NewEngine(SelectorConfig{
		Enabled:           enabled,
		ProtectedMessages: 4,
		Budgets:           budgets,
		Estimator:         Estimator{},
	}, summarizer, store, nil)
}

func TestEffectiveMessagesCompactsAndPersists(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := testEngine(t, store, true)
	conv := seedConversation(t, store, "owner-1", 30, 50)

	effective := engine.EffectiveMessages(context.Background(), "owner-1", conv, "You are helpful.")

	if len(effective) >= len(conv.Messages)+1 {
		t.Errorf("compaction must shrink the effective list: %d messages from %d stored", len(effective), len(conv.Messages))
	}
	if effective[0].Content != "You are helpful." {
		t.Errorf("system prompt must lead, got %q", effective[0].Content)
	}
	if !strings.Contains(effective[1].Content, "routine back and forth") {
		t.Errorf("summary must follow the prompt, got %q", effective[1].Content)
	}

	persisted, err := store.Get(context.Background(), "owner-1", conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if persisted.Summary == "" {
		t.Error("compaction must persist the running summary")
	}
	if len(persisted.Records) != 1 {
		t.Fatalf("expected 1 compaction record, got %d", len(persisted.Records))
	}
	if persisted.Version <= conv.Version {
		t.Error("compaction must bump the conversation version")
	}

	marked := 0
	for _, m := range persisted.Messages {
		if m.Compacted {
			marked++
		}
	}
	if marked != len(persisted.Records[0].MessageIDs) {
		t.Errorf("%d messages marked compacted but record lists %d", marked, len(persisted.Records[0].MessageIDs))
	}
	if marked == 0 {
		t.Error("compacted messages must be marked in the ledger")
	}
}

func TestEffectiveMessagesStableAfterCompaction(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := testEngine(t, store, true)
	conv := seedConversation(t, store, "owner-1", 30, 50)

	engine.EffectiveMessages(context.Background(), "owner-1", conv, "prompt")

	// A second pass over the compacted conversation stays under the
	// threshold and must not compact again.
	conv, err := store.Get(context.Background(), "owner-1", conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	engine.EffectiveMessages(context.Background(), "owner-1", conv, "prompt")

	final, err := store.Get(context.Background(), "owner-1", conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if len(final.Records) != 1 {
		t.Errorf("expected exactly 1 compaction record after repeat pass, got %d", len(final.Records))
	}
}

func TestEffectiveMessagesBelowThresholdUntouched(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := testEngine(t, store, true)
	conv := seedConversation(t, store, "owner-1", 6, 20)

	effective := engine.EffectiveMessages(context.Background(), "owner-1", conv, "prompt")

	if len(effective) != 7 {
		t.Errorf("expected prompt plus 6 messages, got %d", len(effective))
	}
	persisted, err := store.Get(context.Background(), "owner-1", conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if persisted.Summary != "" || len(persisted.Records) != 0 {
		t.Error("below-threshold turn must not write compaction state")
	}
}

func TestEffectiveMessagesDisabledTruncates(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := testEngine(t, store, false)
	conv := seedConversation(t, store, "owner-1", 60, 100) // ~6000 tokens, over the 2277 window

	effective := engine.EffectiveMessages(context.Background(), "owner-1", conv, "prompt")

	if len(effective) >= 61 {
		t.Errorf("disabled engine must truncate, got %d messages", len(effective))
	}
	var notice bool
	for _, m := range effective {
		if m.Content == truncationNotice {
			notice = true
		}
	}
	if !notice {
		t.Error("truncated list must carry the truncation notice")
	}
	persisted, err := store.Get(context.Background(), "owner-1", conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if persisted.Summary != "" {
		t.Error("disabled engine must never write a summary")
	}
}

func TestEffectiveMessagesTruncatesWhenNothingEligible(t *testing.T) {
	// Compaction is enabled but the protected tail covers every
	// message, so no pass can run; the over-budget prompt must still
	// fall back to plain truncation.
	store := ledger.NewMemoryStore()
	budgets, err := ComputeBudgets(4096, 20, 50)
	if err != nil {
		t.Fatalf("ComputeBudgets: %v", err)
	}
	summarizer := NewSummarizer(&stubProvider{content: "unused"}, "", Estimator{}, nil)
	engine := NewEngine(SelectorConfig{
		Enabled:           true,
		ProtectedMessages: 100,
		Budgets:           budgets,
		Estimator:         Estimator{},
	}, summarizer, store, nil)
	conv := seedConversation(t, store, "owner-1", 40, 100) // ~4100 tokens, over the 2277 window

	effective := engine.EffectiveMessages(context.Background(), "owner-1", conv, "prompt")

	if got := (Estimator{}).EstimateMessages(effective); got > budgets.ActiveWindow {
		t.Errorf("effective list estimates %d tokens, must fit the %d-token active window", got, budgets.ActiveWindow)
	}
	var notice bool
	for _, m := range effective {
		if m.Content == truncationNotice {
			notice = true
		}
	}
	if !notice {
		t.Error("truncated list must carry the truncation notice")
	}
	persisted, err := store.Get(context.Background(), "owner-1", conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	if persisted.Summary != "" || len(persisted.Records) != 0 {
		t.Error("no compaction state may be written when nothing was eligible")
	}
}

func TestEffectiveMessagesSkipsCompactedMessages(t *testing.T) {
	store := ledger.NewMemoryStore()
	engine := testEngine(t, store, true)
	conv := seedConversation(t, store, "owner-1", 30, 50)

	engine.EffectiveMessages(context.Background(), "owner-1", conv, "prompt")

	conv, err := store.Get(context.Background(), "owner-1", conv.ID)
	if err != nil {
		t.Fatalf("reload conversation: %v", err)
	}
	effective := engine.EffectiveMessages(context.Background(), "owner-1", conv, "prompt")

	compactedIDs := map[string]bool{}
	for _, m := range conv.Messages {
		if m.Compacted {
			compactedIDs[m.ID] = true
		}
	}
	for _, m := range effective {
		if m.ID != "" && compactedIDs[m.ID] {
			t.Errorf("compacted message %s leaked into the effective list", m.ID)
		}
	}
}
