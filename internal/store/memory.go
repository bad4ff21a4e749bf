package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is a process-local key-value store: one map of chats per user.
type MemoryStore struct {
	mu      sync.RWMutex
	chats   map[string]map[string]*Chat
	prompts map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:   make(map[string]map[string]*Chat),
		prompts: make(map[string]string),
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateChat(_ context.Context, userEmail, welcome string) (*Chat, error) {
	now := nowMillis()
	chat := &Chat{
		ID:        uuid.NewString(),
		UserEmail: userEmail,
		Title:     DefaultChatTitle,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []Message{},
	}
	if welcome != "" {
		chat.Messages = append(chat.Messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   welcome,
			Timestamp: now,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	userChats, ok := s.chats[userEmail]
	if !ok {
		userChats = make(map[string]*Chat)
		s.chats[userEmail] = userChats
	}
	userChats[chat.ID] = chat
	return copyChat(chat), nil
}

func (s *MemoryStore) GetChat(_ context.Context, userEmail, chatID string) (*Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[userEmail][chatID]
	if !ok {
		return nil, nil
	}
	return copyChat(chat), nil
}

func (s *MemoryStore) GetChats(_ context.Context, userEmail string) ([]Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]Chat, 0, len(s.chats[userEmail]))
	for _, chat := range s.chats[userEmail] {
		chats = append(chats, *copyChat(chat))
	}
	return chats, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, userEmail, chatID, role, content string) (*Chat, error) {
	if !validRole(role) {
		return nil, ErrInvalidRole
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[userEmail][chatID]
	if !ok {
		return nil, nil
	}

	updated := nextUpdatedAt(chat.UpdatedAt)
	chat.Messages = append(chat.Messages, Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: updated,
	})
	chat.UpdatedAt = updated
	if shouldRetitle(chat, role) {
		chat.Title = TitleFromContent(content)
	}
	return copyChat(chat), nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, userEmail, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[userEmail][chatID]; !ok {
		return false, nil
	}
	delete(s.chats[userEmail], chatID)
	return true, nil
}

func (s *MemoryStore) GetPrompt(_ context.Context, userEmail string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.prompts[userEmail]
	return tmpl, ok, nil
}

func (s *MemoryStore) SavePrompt(_ context.Context, userEmail, template string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[userEmail] = template
	return nil
}

func (s *MemoryStore) ResetPrompt(_ context.Context, userEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prompts, userEmail)
	return nil
}

// copyChat detaches callers from the stored value so later appends can't race with readers.
func copyChat(c *Chat) *Chat {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
