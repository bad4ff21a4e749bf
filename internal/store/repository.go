package store

import (
	"context"
	"errors"
)

var ErrInvalidRole = errors.New("message role must be user or assistant")

// ChatRepository persists chats per user identity. Lookups of a missing chat return
// (nil, nil) rather than an error.
type ChatRepository interface {
	CreateChat(ctx context.Context, userEmail, welcome string) (*Chat, error)
	GetChat(ctx context.Context, userEmail, chatID string) (*Chat, error)
	GetChats(ctx context.Context, userEmail string) ([]Chat, error)
	AppendMessage(ctx context.Context, userEmail, chatID, role, content string) (*Chat, error)
	DeleteChat(ctx context.Context, userEmail, chatID string) (bool, error)
}

// PromptRepository keeps a user's custom research-assistant prompt template.
type PromptRepository interface {
	GetPrompt(ctx context.Context, userEmail string) (string, bool, error)
	SavePrompt(ctx context.Context, userEmail, template string) error
	ResetPrompt(ctx context.Context, userEmail string) error
}

// Store is the full persistence surface used by the service.
type Store interface {
	ChatRepository
	PromptRepository
	Close() error
}
