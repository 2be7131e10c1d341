package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
	"github.com/dtnitsch/llm-web-chat/pkg/db"
)

// SQLite keeps conversations in the application database.
type SQLite struct {
	db     *db.DB
	userID string
	ttl    time.Duration
	clock  *clock
}

func NewSQLite(database *db.DB, userID string, ttl time.Duration) *SQLite {
	if userID == "" {
		userID = DefaultUserID
	}
	return &SQLite{db: database, userID: userID, ttl: ttl, clock: newClock()}
}

func (s *SQLite) SaveMessage(ctx context.Context, convID, role, content string) (string, error) {
	at := s.clock.next()
	m := models.Message{ID: messageID(convID, at), Role: role, Content: content, CreatedAt: at}
	if err := s.db.InsertMessage(ctx, convID, s.userID, m); err != nil {
		return "", fmt.Errorf("failed to save message: %w", err)
	}
	return m.ID, nil
}

func (s *SQLite) GetConversation(ctx context.Context, convID string) ([]models.Message, error) {
	return s.db.ConversationMessages(ctx, convID)
}

func (s *SQLite) ClearConversation(ctx context.Context, convID string) error {
	return s.db.DeleteConversation(ctx, convID)
}

func (s *SQLite) ListConversations(ctx context.Context, userID string, limit int) ([]models.ConversationSummary, error) {
	if userID == "" {
		userID = s.userID
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.db.UserConversations(ctx, userID, limit)
}

// Prune drops conversations idle for longer than the store's TTL. A zero
// TTL keeps everything.
func (s *SQLite) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	return s.db.PruneConversations(ctx, s.clock.now().Add(-s.ttl))
}
