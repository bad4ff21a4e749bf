package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteForTest(t)) })
}

func TestCreateChat_SeedsWelcomeMessage(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chat, err := s.CreateChat(ctx, "ada@example.com", "How can I help you today?")
		require.NoError(t, err)

		assert.NotEmpty(t, chat.ID)
		assert.Equal(t, DefaultChatTitle, chat.Title)
		assert.Equal(t, chat.CreatedAt, chat.UpdatedAt)
		require.Len(t, chat.Messages, 1)
		assert.Equal(t, RoleAssistant, chat.Messages[0].Role)
		assert.Equal(t, "How can I help you today?", chat.Messages[0].Content)

		empty, err := s.CreateChat(ctx, "ada@example.com", "")
		require.NoError(t, err)
		assert.Empty(t, empty.Messages)
	})
}

func TestAppendMessage_RoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chat, err := s.CreateChat(ctx, "ada@example.com", "hi")
		require.NoError(t, err)
		prevUpdated := chat.UpdatedAt

		_, err = s.AppendMessage(ctx, "ada@example.com", chat.ID, RoleUser, "What is photosynthesis?")
		require.NoError(t, err)

		got, err := s.GetChat(ctx, "ada@example.com", chat.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		require.Len(t, got.Messages, 2)
		last := got.Messages[len(got.Messages)-1]
		assert.Equal(t, RoleUser, last.Role)
		assert.Equal(t, "What is photosynthesis?", last.Content)
		assert.GreaterOrEqual(t, got.UpdatedAt, prevUpdated)
	})
}

func TestAppendMessage_AutoTitlesOnFirstUserMessageOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chat, err := s.CreateChat(ctx, "ada@example.com", "hi")
		require.NoError(t, err)

		long := strings.Repeat("a", 31)
		updated, err := s.AppendMessage(ctx, "ada@example.com", chat.ID, RoleUser, long)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("a", 30)+"...", updated.Title)

		updated, err = s.AppendMessage(ctx, "ada@example.com", chat.ID, RoleUser, "second question")
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("a", 30)+"...", updated.Title)
	})
}

func TestAppendMessage_AssistantDoesNotRetitle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chat, err := s.CreateChat(ctx, "ada@example.com", "")
		require.NoError(t, err)

		updated, err := s.AppendMessage(ctx, "ada@example.com", chat.ID, RoleAssistant, "hello there")
		require.NoError(t, err)
		assert.Equal(t, DefaultChatTitle, updated.Title)
	})
}

func TestAppendMessage_MissingChatReturnsNil(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chat, err := s.AppendMessage(ctx, "ada@example.com", "does-not-exist", RoleUser, "x")
		require.NoError(t, err)
		assert.Nil(t, chat)

		_, err = s.AppendMessage(ctx, "ada@example.com", "does-not-exist", "system", "x")
		assert.ErrorIs(t, err, ErrInvalidRole)
	})
}

func TestChats_AreScopedByUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chat, err := s.CreateChat(ctx, "ada@example.com", "")
		require.NoError(t, err)
		_, err = s.CreateChat(ctx, "bob@example.com", "")
		require.NoError(t, err)

		other, err := s.GetChat(ctx, "bob@example.com", chat.ID)
		require.NoError(t, err)
		assert.Nil(t, other)

		chats, err := s.GetChats(ctx, "ada@example.com")
		require.NoError(t, err)
		require.Len(t, chats, 1)
		assert.Equal(t, chat.ID, chats[0].ID)
	})
}

func TestGetChats_EmptyIsAnArray(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		chats, err := s.GetChats(context.Background(), "nobody@example.com")
		require.NoError(t, err)
		require.NotNil(t, chats)
		assert.Empty(t, chats)

		body, err := json.Marshal(chats)
		require.NoError(t, err)
		assert.JSONEq(t, `[]`, string(body))
	})
}

func TestDeleteChat(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		chat, err := s.CreateChat(ctx, "ada@example.com", "hi")
		require.NoError(t, err)

		ok, err := s.DeleteChat(ctx, "bob@example.com", chat.ID)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = s.DeleteChat(ctx, "ada@example.com", chat.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetChat(ctx, "ada@example.com", chat.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		ok, err = s.DeleteChat(ctx, "ada@example.com", chat.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestPrompts_SaveGetReset(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, ok, err := s.GetPrompt(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SavePrompt(ctx, "ada@example.com", "first {{context}}"))
		require.NoError(t, s.SavePrompt(ctx, "ada@example.com", "second {{context}}"))

		tmpl, ok, err := s.GetPrompt(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "second {{context}}", tmpl)

		require.NoError(t, s.ResetPrompt(ctx, "ada@example.com"))
		_, ok, err = s.GetPrompt(ctx, "ada@example.com")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTitleFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "What is photosynthesis?", "What is photosynthesis?"},
		{"exactly thirty", strings.Repeat("b", 30), strings.Repeat("b", 30)},
		{"multibyte", strings.Repeat("é", 31), strings.Repeat("é", 30) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFromContent(tt.content))
		})
	}
}
