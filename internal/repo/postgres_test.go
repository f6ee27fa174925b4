package repo

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
)

// Runs only against a live database: CHATDESK_TEST_DATABASE_URL=postgres://... go test ./internal/repo
func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("CHATDESK_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CHATDESK_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("open store failed: %v", err)
	}
	defer store.Close()

	id := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = store.DeleteChat(context.Background(), id) })

	chat, err := store.SaveChat(ctx, id, conversation("Hello postgres", "Hi"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if chat.Name != "Hello postgres" || chat.MessageCount != 2 {
		t.Fatalf("unexpected chat: %+v", chat)
	}
	updated, err := store.SaveChat(ctx, id, conversation("Hello postgres", "Hi", "Bye"))
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.CreatedAt != chat.CreatedAt || updated.MessageCount != 3 {
		t.Fatalf("update should keep creation time: %+v", updated)
	}

	history, err := store.GetChat(ctx, id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(history.Messages) != 3 || history.Messages[2].Text() != "Bye" {
		t.Fatalf("unexpected history: %+v", history.Messages)
	}

	if err := store.DeleteChat(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := store.GetChat(ctx, id); !errors.Is(err, ErrChatNotFound) {
		t.Fatalf("expected ErrChatNotFound, got=%v", err)
	}
}
