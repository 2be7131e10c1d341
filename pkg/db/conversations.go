package db

import (
	"context"
	"fmt"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
)

// InsertMessage appends m to convID, creating the conversation row for
// userID on first use and bumping its updated_at and message_count.
func (db *DB) InsertMessage(ctx context.Context, convID, userID string, m models.Message) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := m.CreatedAt.UnixMicro()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations (conversation_id, user_id, created_at, updated_at, message_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(conversation_id) DO UPDATE SET
			user_id = excluded.user_id,
			updated_at = excluded.updated_at,
			message_count = message_count + 1
	`, convID, userID, at, at)
	if err != nil {
		return fmt.Errorf("failed to upsert conversation: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, convID, m.Role, m.Content, at)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit message: %w", err)
	}
	return nil
}

// ConversationMessages returns the messages of convID in insertion order.
func (db *DB) ConversationMessages(ctx context.Context, convID string) ([]models.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT message_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY seq
	`, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var at int64
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &at); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = time.UnixMicro(at)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// DeleteConversation removes convID and its messages. Deleting an unknown
// conversation is not an error.
func (db *DB) DeleteConversation(ctx context.Context, convID string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM conversations WHERE conversation_id = ?", convID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// UserConversations lists userID's conversations, most recently updated first.
func (db *DB) UserConversations(ctx context.Context, userID string, limit int) ([]models.ConversationSummary, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT conversation_id, user_id, updated_at, message_count
		FROM conversations
		WHERE user_id = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var out []models.ConversationSummary
	for rows.Next() {
		var s models.ConversationSummary
		var at int64
		if err := rows.Scan(&s.ID, &s.UserID, &at, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		s.UpdatedAt = time.UnixMicro(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneConversations deletes conversations last updated before cutoff and
// returns how many were removed.
func (db *DB) PruneConversations(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx, "DELETE FROM conversations WHERE updated_at < ?", cutoff.UnixMicro())
	if err != nil {
		return 0, fmt.Errorf("failed to prune conversations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned conversations: %w", err)
	}
	return n, nil
}
