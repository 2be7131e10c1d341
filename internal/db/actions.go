package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/llm-web-chat/internal/app"
	"github.com/dtnitsch/llm-web-chat/models"
	dbpkg "github.com/dtnitsch/llm-web-chat/pkg/db"
)

const timeLayout = "2006-01-02 15:04:05"

// HistoryListAction prints the user's conversations, newest first.
func HistoryListAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	store, err := a.Memory(c.Context)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}

	convs, err := store.ListConversations(c.Context, userID(c, a), c.Int("limit"))
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}

	w := c.App.Writer
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations found")
		return nil
	}

	fmt.Fprintf(w, "%-38s %-20s %-8s %-15s\n", "ID", "Updated", "Msgs", "User")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	for _, s := range convs {
		fmt.Fprintf(w, "%-38s %-20s %-8d %-15s\n",
			s.ID,
			s.UpdatedAt.Local().Format(timeLayout),
			s.MessageCount,
			s.UserID,
		)
	}

	fmt.Fprintf(w, "\nTotal: %d conversations\n", len(convs))
	fmt.Fprintf(w, "\nTip: Use 'lwc history show <id>' to see the messages\n")
	return nil
}

// HistoryShowAction prints one conversation, the latest if no ID is given.
func HistoryShowAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	store, err := a.Memory(c.Context)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}

	convID, err := ConversationIDOrLatest(c.Context, c, store, userID(c, a))
	if err != nil {
		return err
	}
	messages, err := store.GetConversation(c.Context, convID)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if len(messages) == 0 {
		return cli.Exit(fmt.Sprintf("conversation %s not found", convID), 1)
	}

	if c.Bool("yaml") {
		out := struct {
			ConversationID string           `yaml:"conversation_id"`
			Messages       []models.Message `yaml:"messages"`
		}{convID, messages}
		yamlBytes, err := yaml.Marshal(out)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprint(c.App.Writer, string(yamlBytes))
		return nil
	}

	w := c.App.Writer
	fmt.Fprintf(w, "Conversation %s\n", convID)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	for _, m := range messages {
		fmt.Fprintf(w, "\n[%s] %s\n", m.CreatedAt.Local().Format(timeLayout), m.Role)
		fmt.Fprintln(w, m.Content)
	}
	return nil
}

func HistoryClearAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("a conversation ID is required", 1)
	}
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}
	store, err := a.Memory(c.Context)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}

	convID := c.Args().First()
	if err := store.ClearConversation(c.Context, convID); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	a.Logger.Info("Cleared conversation", "conversation_id", convID)
	fmt.Fprintf(c.App.Writer, "Cleared %s\n", convID)
	return nil
}

// AccessesAction prints the most recent fetch outcomes as YAML, or the
// history of one URL with --url.
func AccessesAction(c *cli.Context) error {
	a, err := app.FromContext(c)
	if err != nil {
		return err
	}

	if rawURL := c.String("url"); rawURL != "" {
		report, err := a.DB.GetURLReport(rawURL)
		if errors.Is(err, dbpkg.ErrURLNotFound) {
			return cli.Exit(err.Error(), 1)
		}
		if err != nil {
			return fmt.Errorf("failed to get URL report: %w", err)
		}
		yamlBytes, err := yaml.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
		fmt.Fprint(c.App.Writer, string(yamlBytes))
		return nil
	}

	records, err := a.DB.RecentAccesses(c.Int("limit"), c.Bool("failed-only"))
	if err != nil {
		return fmt.Errorf("failed to list accesses: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(c.App.Writer, "No accesses recorded")
		return nil
	}

	yamlBytes, err := yaml.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprint(c.App.Writer, string(yamlBytes))
	return nil
}

// NewAction prints a fresh conversation ID.
func NewAction(c *cli.Context) error {
	fmt.Fprintln(c.App.Writer, uuid.NewString())
	return nil
}

func userID(c *cli.Context, a *app.App) string {
	if id := c.String("user"); id != "" {
		return id
	}
	return a.Config.Memory.UserID
}
