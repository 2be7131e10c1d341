package db

import (
	"context"
	"testing"
	"time"

	"github.com/dtnitsch/llm-web-chat/models"
)

func insertTestMessage(t *testing.T, db *DB, convID, userID, id, role, content string, at time.Time) {
	t.Helper()
	m := models.Message{ID: id, Role: role, Content: content, CreatedAt: at}
	if err := db.InsertMessage(context.Background(), convID, userID, m); err != nil {
		t.Fatalf("InsertMessage(%s) error = %v", id, err)
	}
}

func TestInsertMessage_OrderAndCount(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	insertTestMessage(t, db, "c1", "anonymous", "c1_1", models.RoleUser, "hi", base)
	insertTestMessage(t, db, "c1", "anonymous", "c1_2", models.RoleAssistant, "hello", base.Add(time.Second))
	insertTestMessage(t, db, "c1", "anonymous", "c1_3", models.RoleUser, "bye", base.Add(2*time.Second))

	msgs, err := db.ConversationMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ConversationMessages() error = %v", err)
	}
	want := []string{"hi", "hello", "bye"}
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d = %q, want %q", i, m.Content, want[i])
		}
	}
	if !msgs[1].CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v", msgs[1].CreatedAt)
	}

	convs, err := db.UserConversations(ctx, "anonymous", 10)
	if err != nil {
		t.Fatalf("UserConversations() error = %v", err)
	}
	if len(convs) != 1 || convs[0].MessageCount != 3 || !convs[0].UpdatedAt.Equal(base.Add(2*time.Second)) {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestUserConversations_SortedAndLimited(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	base := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	insertTestMessage(t, db, "old", "u1", "old_1", models.RoleUser, "a", base)
	insertTestMessage(t, db, "new", "u1", "new_1", models.RoleUser, "b", base.Add(time.Minute))
	insertTestMessage(t, db, "mid", "u1", "mid_1", models.RoleUser, "c", base.Add(30*time.Second))
	insertTestMessage(t, db, "other", "u2", "other_1", models.RoleUser, "d", base.Add(time.Hour))

	convs, err := db.UserConversations(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("UserConversations() error = %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "new" || convs[1].ID != "mid" {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestDeleteConversation(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Now()

	insertTestMessage(t, db, "c1", "anonymous", "c1_1", models.RoleUser, "hi", now)
	insertTestMessage(t, db, "c2", "anonymous", "c2_1", models.RoleUser, "keep", now)

	if err := db.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation() error = %v", err)
	}
	if err := db.DeleteConversation(ctx, "missing"); err != nil {
		t.Errorf("DeleteConversation(missing) error = %v", err)
	}

	msgs, _ := db.ConversationMessages(ctx, "c1")
	if len(msgs) != 0 {
		t.Errorf("c1 still has %d messages", len(msgs))
	}
	var orphans int
	db.QueryRow("SELECT COUNT(*) FROM messages WHERE conversation_id = 'c1'").Scan(&orphans)
	if orphans != 0 {
		t.Errorf("%d message rows survived the cascade", orphans)
	}
	msgs, _ = db.ConversationMessages(ctx, "c2")
	if len(msgs) != 1 {
		t.Errorf("c2 has %d messages, want 1", len(msgs))
	}
}

func TestPruneConversations(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	insertTestMessage(t, db, "stale", "anonymous", "stale_1", models.RoleUser, "a", now.Add(-48*time.Hour))
	insertTestMessage(t, db, "fresh", "anonymous", "fresh_1", models.RoleUser, "b", now.Add(-time.Hour))

	n, err := db.PruneConversations(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneConversations() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	convs, _ := db.UserConversations(ctx, "anonymous", 10)
	if len(convs) != 1 || convs[0].ID != "fresh" {
		t.Errorf("conversations = %+v", convs)
	}
}

func TestOpen_CreatesSchema(t *testing.T) {
	path := t.TempDir() + "/chat.db"
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	var count int
	db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'messages'").Scan(&count)
	if count != 1 {
		t.Error("messages table not created")
	}
}
