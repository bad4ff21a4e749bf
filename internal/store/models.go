package store

import (
	"time"
	"unicode/utf8"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultChatTitle = "New Conversation"
	titleMaxRunes    = 30
)

// Chat is one conversation thread owned by a single user identity.
// CreatedAt and UpdatedAt are unix milliseconds.
type Chat struct {
	ID        string    `json:"id"`
	UserEmail string    `json:"-"`
	Title     string    `json:"title"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// nextUpdatedAt never moves a chat's UpdatedAt backwards, even if the wall clock does.
func nextUpdatedAt(prev int64) int64 {
	now := nowMillis()
	if now < prev {
		return prev
	}
	return now
}

// TitleFromContent derives a chat title from the first user message.
func TitleFromContent(content string) string {
	if utf8.RuneCountInString(content) <= titleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleMaxRunes]) + "..."
}

// shouldRetitle reports whether appending a message with role to chat should replace the
// default title. chat.Messages must already include the new message.
func shouldRetitle(chat *Chat, role string) bool {
	if chat.Title != DefaultChatTitle || role != RoleUser {
		return false
	}
	userMessages := 0
	for _, m := range chat.Messages {
		if m.Role == RoleUser {
			userMessages++
		}
	}
	return userMessages == 1
}

func validRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}
