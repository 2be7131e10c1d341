// Package memory stores conversation history in SQLite or Redis.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dtnitsch/llm-web-chat/models"
)

const (
	DefaultUserID    = "anonymous"
	DefaultListLimit = 10
	DefaultTTL       = 24 * time.Hour
)

// Store persists conversation turns.
type Store interface {
	SaveMessage(ctx context.Context, convID, role, content string) (string, error)
	GetConversation(ctx context.Context, convID string) ([]models.Message, error)
	ClearConversation(ctx context.Context, convID string) error
	ListConversations(ctx context.Context, userID string, limit int) ([]models.ConversationSummary, error)
}

// NewConversationID returns a fresh random conversation identifier.
func NewConversationID() string {
	return uuid.NewString()
}

// clock hands out strictly increasing microsecond timestamps so message
// IDs stay unique and ordered within a process.
type clock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

func newClock() *clock {
	return &clock{now: time.Now}
}

func (c *clock) next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	us := c.now().UnixMicro()
	if us <= c.last {
		us = c.last + 1
	}
	c.last = us
	return time.UnixMicro(us)
}

func messageID(convID string, at time.Time) string {
	return fmt.Sprintf("%s_%d", convID, at.UnixMicro())
}
