package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"chatdesk/gateway/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	message_count INTEGER NOT NULL DEFAULT 0,
	messages JSONB NOT NULL DEFAULT '[]'::jsonb
)`

// PostgresStore keeps chats in a single table with the history as JSONB.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create chats table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (r *PostgresStore) Close() error {
	return r.db.Close()
}

func (r *PostgresStore) ListChats(ctx context.Context) ([]domain.ChatSpec, error) {
	query := `
		SELECT id, name, created_at, updated_at, message_count
		FROM chats
		ORDER BY updated_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	chats := []domain.ChatSpec{}
	for rows.Next() {
		chat, err := scanChat(rows.Scan)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over chats: %w", err)
	}
	return chats, nil
}

func (r *PostgresStore) GetChat(ctx context.Context, chatID string) (domain.ChatHistory, error) {
	query := `
		SELECT id, name, created_at, updated_at, message_count, messages
		FROM chats
		WHERE id = $1`

	var raw []byte
	var chat domain.ChatSpec
	var createdAt, updatedAt time.Time
	err := r.db.QueryRowContext(ctx, query, chatID).Scan(&chat.ID, &chat.Name, &createdAt, &updatedAt, &chat.MessageCount, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ChatHistory{}, ErrChatNotFound
	}
	if err != nil {
		return domain.ChatHistory{}, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.CreatedAt = formatTime(createdAt)
	chat.UpdatedAt = formatTime(updatedAt)

	messages := []domain.Message{}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return domain.ChatHistory{}, fmt.Errorf("failed to decode chat messages: %w", err)
	}
	return domain.ChatHistory{Chat: chat, Messages: messages}, nil
}

func (r *PostgresStore) SaveChat(ctx context.Context, chatID string, messages []domain.Message) (domain.ChatSpec, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return domain.ChatSpec{}, ErrChatIDRequired
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	raw, err := json.Marshal(messages)
	if err != nil {
		return domain.ChatSpec{}, fmt.Errorf("failed to encode chat messages: %w", err)
	}

	query := `
		INSERT INTO chats (id, name, message_count, messages)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET message_count = EXCLUDED.message_count,
			messages = EXCLUDED.messages,
			updated_at = now()
		RETURNING id, name, created_at, updated_at, message_count`

	row := r.db.QueryRowContext(ctx, query, chatID, ChatName(messages), len(messages), string(raw))
	chat, err := scanChat(row.Scan)
	if err != nil {
		return domain.ChatSpec{}, fmt.Errorf("failed to save chat: %w", err)
	}
	return chat, nil
}

func (r *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM chats WHERE id = $1", chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

func scanChat(scan func(dest ...interface{}) error) (domain.ChatSpec, error) {
	var chat domain.ChatSpec
	var createdAt, updatedAt time.Time
	if err := scan(&chat.ID, &chat.Name, &createdAt, &updatedAt, &chat.MessageCount); err != nil {
		return domain.ChatSpec{}, err
	}
	chat.CreatedAt = formatTime(createdAt)
	chat.UpdatedAt = formatTime(updatedAt)
	return chat, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
