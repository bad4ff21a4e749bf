package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// Appends are read-modify-write; a single connection serializes them.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_email TEXT NOT NULL,
        title TEXT NOT NULL,
        created_at INTEGER NOT NULL, -- unix millis
        updated_at INTEGER NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_chats_user_email ON chats (user_email);

    CREATE TABLE IF NOT EXISTS messages (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id TEXT UNIQUE NOT NULL, -- UUID
        chat_id TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
        content TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );

    CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages (chat_id);

    CREATE TABLE IF NOT EXISTS prompts (
        user_email TEXT PRIMARY KEY,
        template TEXT NOT NULL,
        updated_at INTEGER NOT NULL
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Chat methods
func (s *SQLiteStore) CreateChat(ctx context.Context, userEmail, welcome string) (*Chat, error) {
	now := nowMillis()
	chat := &Chat{
		ID:        uuid.NewString(),
		UserEmail: userEmail,
		Title:     DefaultChatTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin chat insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "INSERT INTO chats (id, user_email, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		chat.ID, chat.UserEmail, chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}

	if welcome != "" {
		msg := Message{ID: uuid.NewString(), Role: RoleAssistant, Content: welcome, Timestamp: now}
		if err := insertMessage(ctx, tx, chat.ID, msg); err != nil {
			return nil, err
		}
		chat.Messages = append(chat.Messages, msg)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chat insert: %w", err)
	}
	return chat, nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, userEmail, chatID string) (*Chat, error) {
	chat, err := s.getChatRow(ctx, s.db, userEmail, chatID)
	if err != nil || chat == nil {
		return nil, err
	}
	chat.Messages, err = s.getMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLiteStore) GetChats(ctx context.Context, userEmail string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, user_email, title, created_at, updated_at FROM chats WHERE user_email = ?", userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}

	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.UserEmail, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}

	// Messages are loaded after the chat cursor is closed: the pool holds one connection.
	for i := range chats {
		chats[i].Messages, err = s.getMessages(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return chats, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, userEmail, chatID, role, content string) (*Chat, error) {
	if !validRole(role) {
		return nil, ErrInvalidRole
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin message insert: %w", err)
	}
	defer tx.Rollback()

	chat, err := s.getChatRow(ctx, tx, userEmail, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, nil
	}

	updated := nextUpdatedAt(chat.UpdatedAt)
	msg := Message{ID: uuid.NewString(), Role: role, Content: content, Timestamp: updated}
	if err := insertMessage(ctx, tx, chatID, msg); err != nil {
		return nil, err
	}

	chat.UpdatedAt = updated
	if role == RoleUser && chat.Title == DefaultChatTitle {
		var userMessages int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE chat_id = ? AND role = 'user'", chatID).Scan(&userMessages); err != nil {
			return nil, fmt.Errorf("failed to count user messages: %w", err)
		}
		if userMessages == 1 {
			chat.Title = TitleFromContent(content)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE chats SET title = ?, updated_at = ? WHERE id = ?", chat.Title, chat.UpdatedAt, chatID); err != nil {
		return nil, fmt.Errorf("failed to execute chat update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message insert: %w", err)
	}

	chat.Messages, err = s.getMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, userEmail, chatID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin chat delete: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ? AND user_email = ?", chatID, userEmail)
	if err != nil {
		return false, fmt.Errorf("failed to execute chat delete: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return false, fmt.Errorf("failed to delete chat messages: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit chat delete: %w", err)
	}
	return true, nil
}

// Prompt methods
func (s *SQLiteStore) GetPrompt(ctx context.Context, userEmail string) (string, bool, error) {
	var tmpl string
	err := s.db.QueryRowContext(ctx, "SELECT template FROM prompts WHERE user_email = ?", userEmail).Scan(&tmpl)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query prompt: %w", err)
	}
	return tmpl, true, nil
}

func (s *SQLiteStore) SavePrompt(ctx context.Context, userEmail, template string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO prompts (user_email, template, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(user_email) DO UPDATE SET template = excluded.template, updated_at = excluded.updated_at
    `, userEmail, template, nowMillis())
	if err != nil {
		return fmt.Errorf("failed to save prompt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResetPrompt(ctx context.Context, userEmail string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM prompts WHERE user_email = ?", userEmail); err != nil {
		return fmt.Errorf("failed to reset prompt: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) getChatRow(ctx context.Context, q queryer, userEmail, chatID string) (*Chat, error) {
	var chat Chat
	err := q.QueryRowContext(ctx, "SELECT id, user_email, title, created_at, updated_at FROM chats WHERE id = ? AND user_email = ?", chatID, userEmail).
		Scan(&chat.ID, &chat.UserEmail, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &chat, nil
}

func (s *SQLiteStore) getMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, role, content, timestamp FROM messages WHERE chat_id = ? ORDER BY seq ASC", chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		log.Printf("Warning: message iteration for chat %s ended early: %v", chatID, err)
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, chatID string, msg Message) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO messages (id, chat_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)",
		msg.ID, chatID, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}
