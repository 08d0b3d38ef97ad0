// In-memory Store implementation.
//
// Information Hiding:
// - Map/mutex layout hidden behind the Store interface
// - Version bookkeeping is internal; callers never see version numbers
//   except through Conversation snapshots

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps conversations in process memory. Useful for tests
// and single-process deployments without persistence requirements.
// Thread-safe.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
	}
}

// Create creates an empty conversation for the owner.
func (s *MemoryStore) Create(ctx context.Context, ownerID string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Messages:  []Message{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations[conv.ID] = conv
	s.mu.Unlock()

	return cloneConversation(conv), nil
}

// Get returns a snapshot of the conversation, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, ownerID, conversationID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return cloneConversation(conv), nil
}

// List returns the owner's conversation ids, most recently updated first.
func (s *MemoryStore) List(ctx context.Context, ownerID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]*Conversation, 0)
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID {
			owned = append(owned, conv)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].UpdatedAt.After(owned[j].UpdatedAt)
	})

	ids := make([]string, 0, len(owned)) // Empty slice, not nil
	for _, conv := range owned {
		ids = append(ids, conv.ID)
	}
	return ids, nil
}

// Delete removes a conversation.
func (s *MemoryStore) Delete(ctx context.Context, ownerID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok || conv.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(s.conversations, conversationID)
	return nil
}

// AppendMessage appends a message, assigning id and timestamp.
func (s *MemoryStore) AppendMessage(ctx context.Context, ownerID, conversationID string, msg Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var stored Message
	err := s.mutate(ownerID, conversationID, func(conv *Conversation) error {
		msg.ID = uuid.NewString()
		msg.Timestamp = time.Now().UTC()
		conv.Messages = append(conv.Messages, msg)
		stored = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// ApplyCompaction applies a compaction pass in one versioned write.
func (s *MemoryStore) ApplyCompaction(ctx context.Context, ownerID, conversationID string, update CompactionUpdate) error {
	return s.mutate(ownerID, conversationID, func(conv *Conversation) error {
		conv.Summary = update.Summary
		conv.SummaryTokens = update.SummaryTokens
		conv.Records = append(conv.Records, update.Record)
		for _, id := range update.Record.MessageIDs {
			if m := conv.MessageByID(id); m != nil {
				m.Compacted = true
			}
		}
		return nil
	})
}

// mutate runs fn against a copy of the conversation and writes it back
// only if the version is unchanged, retrying up to casRetries times.
func (s *MemoryStore) mutate(ownerID, conversationID string, fn func(*Conversation) error) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		s.mu.RLock()
		current, ok := s.conversations[conversationID]
		if !ok || current.OwnerID != ownerID {
			s.mu.RUnlock()
			return ErrNotFound
		}
		working := cloneConversation(current)
		readVersion := current.Version
		s.mu.RUnlock()

		if err := fn(working); err != nil {
			return err
		}
		working.Version = readVersion + 1
		working.UpdatedAt = time.Now().UTC()

		s.mu.Lock()
		current, ok = s.conversations[conversationID]
		if !ok || current.OwnerID != ownerID {
			s.mu.Unlock()
			return ErrNotFound
		}
		if current.Version != readVersion {
			s.mu.Unlock()
			continue // Lost the race, re-read and retry
		}
		s.conversations[conversationID] = working
		s.mu.Unlock()
		return nil
	}
	return ErrConcurrentModification
}

func cloneConversation(conv *Conversation) *Conversation {
	out := *conv
	out.Messages = make([]Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	out.Records = make([]CompactionRecord, len(conv.Records))
	copy(out.Records, conv.Records)
	return &out
}

// Verify MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
