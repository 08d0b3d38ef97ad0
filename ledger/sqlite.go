// SQLite Store implementation.
//
// Information Hiding:
// - SQLite connection management hidden behind the Store interface
// - Schema and migration details encapsulated
// - Optimistic versioning implemented with a guarded UPDATE; callers
//   only see ErrConcurrentModification on exhaustion

package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/laundryguy77/PeanutChat-sub000/llm"
)

// SqliteStore implements Store using a SQLite database file.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// A single connection keeps the in-memory database alive.
	db.SetMaxOpenConns(1)

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			summary TEXT NOT NULL DEFAULT '',
			summary_tokens INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_owner
		ON conversations(owner_id, updated_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			images TEXT,
			tool_calls TEXT,
			tool_name TEXT,
			tool_call_id TEXT,
			thinking TEXT,
			compacted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
			UNIQUE(conversation_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, seq);

		CREATE TABLE IF NOT EXISTS compactions (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			message_ids TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			original_token_count INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_compactions_conversation
		ON compactions(conversation_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Create creates an empty conversation for the owner.
func (s *SqliteStore) Create(ctx context.Context, ownerID string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Messages:  []Message{},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, owner_id, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)`,
		conv.ID, ownerID, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// Get returns the conversation, or ErrNotFound.
func (s *SqliteStore) Get(ctx context.Context, ownerID, conversationID string) (*Conversation, error) {
	conv := &Conversation{ID: conversationID, OwnerID: ownerID}
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, `
		SELECT summary, summary_tokens, version, created_at, updated_at
		FROM conversations WHERE id = ? AND owner_id = ?`,
		conversationID, ownerID).
		Scan(&conv.Summary, &conv.SummaryTokens, &conv.Version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}
	conv.CreatedAt = parseTime(createdAt)
	conv.UpdatedAt = parseTime(updatedAt)

	messages, err := s.loadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.Messages = messages

	records, err := s.loadRecords(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.Records = records

	return conv, nil
}

// List returns the owner's conversation ids, most recently updated first.
func (s *SqliteStore) List(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM conversations WHERE owner_id = ? ORDER BY updated_at DESC",
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	ids := []string{} // Empty slice, not nil
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return ids, nil
}

// Delete removes a conversation and its messages and records.
func (s *SqliteStore) Delete(ctx context.Context, ownerID, conversationID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ? AND owner_id = ?",
		conversationID, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage appends a message, assigning id and timestamp.
func (s *SqliteStore) AppendMessage(ctx context.Context, ownerID, conversationID string, msg Message) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	var stored Message
	err := s.withVersion(ctx, ownerID, conversationID, func(tx *sql.Tx, version int64) error {
		var seq int
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(seq), -1) + 1 FROM messages WHERE conversation_id = ?",
			conversationID).Scan(&seq); err != nil {
			return fmt.Errorf("failed to compute message sequence: %w", err)
		}

		msg.ID = uuid.NewString()
		msg.Timestamp = time.Now().UTC()

		images, err := marshalNullable(msg.Images)
		if err != nil {
			return err
		}
		toolCalls, err := marshalNullable(msg.ToolCalls)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO messages
			(id, conversation_id, seq, role, content, images, tool_calls, tool_name, tool_call_id, thinking, compacted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			msg.ID, conversationID, seq, string(msg.Role), msg.Content,
			images, toolCalls, nullable(msg.ToolName), nullable(msg.ToolCallID),
			nullable(msg.Thinking), formatTime(msg.Timestamp))
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		stored = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// ApplyCompaction applies a compaction pass in one versioned write.
func (s *SqliteStore) ApplyCompaction(ctx context.Context, ownerID, conversationID string, update CompactionUpdate) error {
	return s.withVersion(ctx, ownerID, conversationID, func(tx *sql.Tx, version int64) error {
		rec := update.Record
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now().UTC()
		}

		messageIDs, err := json.Marshal(rec.MessageIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal message ids: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO compactions
			(id, conversation_id, summary, message_ids, token_count, original_token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, conversationID, rec.Summary, string(messageIDs),
			rec.TokenCount, rec.OriginalTokenCount, formatTime(rec.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert compaction record: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE conversations SET summary = ?, summary_tokens = ? WHERE id = ?",
			update.Summary, update.SummaryTokens, conversationID)
		if err != nil {
			return fmt.Errorf("failed to update summary: %w", err)
		}

		for _, id := range rec.MessageIDs {
			if _, err := tx.ExecContext(ctx,
				"UPDATE messages SET compacted = 1 WHERE id = ? AND conversation_id = ?",
				id, conversationID); err != nil {
				return fmt.Errorf("failed to mark message compacted: %w", err)
			}
		}
		return nil
	})
}

// withVersion runs fn inside a transaction and commits only if the
// conversation's version is unchanged since the read, retrying a
// bounded number of times.
func (s *SqliteStore) withVersion(ctx context.Context, ownerID, conversationID string, fn func(tx *sql.Tx, version int64) error) error {
	for attempt := 0; attempt < casRetries; attempt++ {
		conflict, err := s.tryVersioned(ctx, ownerID, conversationID, fn)
		if err != nil {
			return err
		}
		if !conflict {
			return nil
		}
	}
	return ErrConcurrentModification
}

func (s *SqliteStore) tryVersioned(ctx context.Context, ownerID, conversationID string, fn func(tx *sql.Tx, version int64) error) (conflict bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback() }()

	var version int64
	err = tx.QueryRowContext(ctx,
		"SELECT version FROM conversations WHERE id = ? AND owner_id = ?",
		conversationID, ownerID).Scan(&version)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read conversation version: %w", err)
	}

	if err := fn(tx, version); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE conversations SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?",
		formatTime(time.Now().UTC()), conversationID, version)
	if err != nil {
		return false, fmt.Errorf("failed to bump version: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read version update result: %w", err)
	}
	if affected == 0 {
		return true, nil // Lost the race
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return false, nil
}

func (s *SqliteStore) loadMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, images, tool_calls, tool_name, tool_call_id, thinking, compacted, created_at
		FROM messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{} // Empty slice, not nil
	for rows.Next() {
		var msg Message
		var role, createdAt string
		var images, toolCalls, toolName, toolCallID, thinking sql.NullString
		var compacted int

		err := rows.Scan(&msg.ID, &role, &msg.Content, &images, &toolCalls,
			&toolName, &toolCallID, &thinking, &compacted, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg.Role = Role(role)
		msg.Compacted = compacted != 0
		msg.Timestamp = parseTime(createdAt)
		if toolName.Valid {
			msg.ToolName = toolName.String
		}
		if toolCallID.Valid {
			msg.ToolCallID = toolCallID.String
		}
		if thinking.Valid {
			msg.Thinking = thinking.String
		}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &msg.Images); err != nil {
				return nil, fmt.Errorf("invalid images payload for message %s: %w", msg.ID, err)
			}
		}
		if toolCalls.Valid && toolCalls.String != "" {
			var calls []llm.ToolCall
			if err := json.Unmarshal([]byte(toolCalls.String), &calls); err != nil {
				return nil, fmt.Errorf("invalid tool_calls payload for message %s: %w", msg.ID, err)
			}
			msg.ToolCalls = calls
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

func (s *SqliteStore) loadRecords(ctx context.Context, conversationID string) ([]CompactionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, summary, message_ids, token_count, original_token_count, created_at
		FROM compactions WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query compaction records: %w", err)
	}
	defer rows.Close()

	records := []CompactionRecord{} // Empty slice, not nil
	for rows.Next() {
		var rec CompactionRecord
		var messageIDs, createdAt string
		err := rows.Scan(&rec.ID, &rec.Summary, &messageIDs,
			&rec.TokenCount, &rec.OriginalTokenCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan compaction record: %w", err)
		}
		if err := json.Unmarshal([]byte(messageIDs), &rec.MessageIDs); err != nil {
			return nil, fmt.Errorf("invalid message_ids payload for record %s: %w", rec.ID, err)
		}
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating compaction records: %w", err)
	}
	return records, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func marshalNullable(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return nil, nil
		}
	case []llm.ToolCall:
		if len(val) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal field: %w", err)
	}
	return string(data), nil
}

// Verify SqliteStore implements Store
var _ Store = (*SqliteStore)(nil)
