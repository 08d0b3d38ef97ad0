// Conversation and compaction-record model plus the Store interface.

package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a conversation does not exist for the
// claimed owner. Ownership mismatches return the same error so a
// caller cannot distinguish "not yours" from "does not exist".
var ErrNotFound = errors.New("conversation not found")

// ErrConcurrentModification is returned when an optimistic write lost
// its race more times than the retry budget allows.
var ErrConcurrentModification = errors.New("conversation modified concurrently")

// casRetries bounds the optimistic-write retry loop.
const casRetries = 3

// CompactionRecord captures one successful compaction pass. Immutable
// once created.
type CompactionRecord struct {
	ID                 string    `json:"id"`
	CreatedAt          time.Time `json:"created_at"`
	Summary            string    `json:"summary"`
	MessageIDs         []string  `json:"message_ids"`
	TokenCount         int       `json:"token_count"`
	OriginalTokenCount int       `json:"original_token_count"`
}

// Conversation is the canonical append-only message log for one chat.
// Messages are stored in insertion order and never reordered. Version
// increases on every mutation and drives the compare-and-swap write
// discipline in Store implementations.
type Conversation struct {
	ID            string             `json:"id"`
	OwnerID       string             `json:"owner_id"`
	Messages      []Message          `json:"messages"`
	Summary       string             `json:"summary,omitempty"`
	SummaryTokens int                `json:"summary_token_count"`
	Records       []CompactionRecord `json:"compaction_records,omitempty"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// MessageByID returns the message with the given id, or nil.
func (c *Conversation) MessageByID(id string) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return &c.Messages[i]
		}
	}
	return nil
}

// ActiveMessages returns the messages not yet folded into a summary,
// in canonical order.
func (c *Conversation) ActiveMessages() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if !m.Compacted {
			out = append(out, m)
		}
	}
	return out
}

// CompactionUpdate describes the ledger mutation produced by one
// compaction pass: the new running summary, its token count, and the
// record of what was folded in. Message ids listed in the record are
// marked compacted.
type CompactionUpdate struct {
	Summary       string
	SummaryTokens int
	Record        CompactionRecord
}

// Store persists conversations. Every method takes the caller's owner
// identity and fails closed: operations against a conversation the
// caller does not own return ErrNotFound, never a distinguishing
// error. Mutations on one conversation are serialized via optimistic
// versioning; a write that exhausts its retries returns
// ErrConcurrentModification.
type Store interface {
	// Create creates an empty conversation for the owner.
	Create(ctx context.Context, ownerID string) (*Conversation, error)

	// Get returns the conversation, or ErrNotFound.
	Get(ctx context.Context, ownerID, conversationID string) (*Conversation, error)

	// List returns the owner's conversation ids, most recently
	// updated first. Returns an empty slice (not nil) when the owner
	// has none.
	List(ctx context.Context, ownerID string) ([]string, error)

	// Delete removes a conversation and everything attached to it.
	Delete(ctx context.Context, ownerID, conversationID string) error

	// AppendMessage appends a message, assigning its id and
	// timestamp. Returns the stored message.
	AppendMessage(ctx context.Context, ownerID, conversationID string, msg Message) (*Message, error)

	// ApplyCompaction updates the running summary, attaches the
	// compaction record, and marks the record's message ids
	// compacted, all in one versioned write.
	ApplyCompaction(ctx context.Context, ownerID, conversationID string, update CompactionUpdate) error
}
