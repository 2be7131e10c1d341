package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/llm-web-chat/pkg/memory"
)

var ErrNoConversations = errors.New("no conversations found. Run 'lwc chat \"...\"' first")

// ConversationIDOrLatest returns the conversation ID from args, or the most
// recently updated conversation of userID if none was given.
func ConversationIDOrLatest(ctx context.Context, c *cli.Context, store memory.Store, userID string) (string, error) {
	if c.NArg() > 0 {
		return c.Args().First(), nil
	}

	convs, err := store.ListConversations(ctx, userID, 1)
	if err != nil {
		return "", fmt.Errorf("failed to get latest conversation: %w", err)
	}
	if len(convs) == 0 {
		return "", ErrNoConversations
	}
	return convs[0].ID, nil
}
