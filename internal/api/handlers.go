package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gwi.com/research-chat/internal/auth"
	"gwi.com/research-chat/internal/backend"
	"gwi.com/research-chat/internal/core"
)

type contextKey string

const userEmailKey contextKey = "userEmail"

type APIHandler struct {
	chatService   *core.ChatService
	aggregator    *core.Aggregator
	backend       *backend.Client
	issuer        *auth.Issuer
	secureCookies bool
}

func NewAPIHandler(cs *core.ChatService, agg *core.Aggregator, bc *backend.Client, issuer *auth.Issuer, secureCookies bool) *APIHandler {
	return &APIHandler{
		chatService:   cs,
		aggregator:    agg,
		backend:       bc,
		issuer:        issuer,
		secureCookies: secureCookies,
	}
}

// UserEmail returns the authenticated identity stored by JWTAuthMiddleware.
func UserEmail(ctx context.Context) string {
	email, _ := ctx.Value(userEmailKey).(string)
	return email
}

// JWTAuthMiddleware accepts a Bearer access token or the access_token cookie.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""
		if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := r.Cookie(auth.AccessCookie); err == nil {
			tokenString = cookie.Value
		}
		if tokenString == "" {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		email, err := h.issuer.VerifyAccess(tokenString)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userEmailKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// writeServiceError maps core errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, core.ErrChatNotFound), errors.Is(err, core.ErrNoPendingExchange):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrWrongMode), errors.Is(err, core.ErrExchangePending):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrEmptyMessage), errors.Is(err, core.ErrEmptyPrompt),
		errors.Is(err, core.ErrInvalidMode), errors.Is(err, core.ErrInvalidScore),
		errors.Is(err, core.ErrUnknownOption), errors.Is(err, core.ErrNoOptions):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Printf("Error: %s: %v", action, err)
		http.Error(w, "Failed to "+action, http.StatusInternalServerError)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// Auth

func (h *APIHandler) setAuthCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessCookie,
		Value:    pair.AccessToken,
		Path:     "/",
		MaxAge:   int(auth.AccessTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RefreshCookie,
		Value:    pair.RefreshToken,
		Path:     "/",
		MaxAge:   int(auth.RefreshTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *APIHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(auth.RefreshCookie)
	if err != nil || cookie.Value == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "No refresh token provided"})
		return
	}

	email, err := h.issuer.VerifyRefresh(cookie.Value)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid or expired refresh token"})
		return
	}

	pair, err := h.issuer.CreateTokens(email)
	if err != nil {
		log.Printf("Error issuing tokens for %s: %v", email, err)
		http.Error(w, "Failed to issue tokens", http.StatusInternalServerError)
		return
	}
	h.setAuthCookies(w, pair)
	writeJSON(w, http.StatusOK, map[string]string{"email": email})
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{auth.AccessCookie, auth.RefreshCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type ValidateEmailRequest struct {
	Email string `json:"email"`
}

func (h *APIHandler) ValidateEmailHandler(w http.ResponseWriter, r *http.Request) {
	var req ValidateEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"isValid": false, "error": "Email is required"})
		return
	}

	valid, err := h.backend.ValidateEmail(r.Context(), req.Email)
	if err != nil {
		log.Printf("Email validation failed for %s: %v", req.Email, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"isValid": false, "error": "Failed to validate email"})
		return
	}
	log.Printf("Email validation request: %s - Valid: %t", req.Email, valid)
	writeJSON(w, http.StatusOK, map[string]bool{"isValid": valid})
}

// Chats

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatService.CreateChat(r.Context(), UserEmail(r.Context()))
	if err != nil {
		writeServiceError(w, err, "create chat")
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatService.GetChats(r.Context(), UserEmail(r.Context()))
	if err != nil {
		writeServiceError(w, err, "list chats")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *APIHandler) GetChatHandler(w http.ResponseWriter, r *http.Request) {
	chat, err := h.chatService.GetChat(r.Context(), UserEmail(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		writeServiceError(w, err, "get chat")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteChat(r.Context(), UserEmail(r.Context()), chi.URLParam(r, "chatID")); err != nil {
		writeServiceError(w, err, "delete chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

// PostMessageHandler serves both /chats/{chatID}/messages and /messages; the latter
// starts a new chat.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	exchange, err := h.chatService.SendMessage(r.Context(), UserEmail(r.Context()), chi.URLParam(r, "chatID"), req.Content)
	if err != nil {
		writeServiceError(w, err, "post message")
		return
	}
	writeJSON(w, http.StatusOK, exchange)
}

// Exchange

func (h *APIHandler) GetExchangeHandler(w http.ResponseWriter, r *http.Request) {
	exchange, err := h.chatService.PendingExchange(UserEmail(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		writeServiceError(w, err, "get exchange")
		return
	}
	writeJSON(w, http.StatusOK, exchange)
}

type SetModeRequest struct {
	Mode string `json:"mode"`
}

func (h *APIHandler) SetModeHandler(w http.ResponseWriter, r *http.Request) {
	var req SetModeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	exchange, err := h.chatService.SetMode(UserEmail(r.Context()), chi.URLParam(r, "chatID"), core.Mode(req.Mode))
	if err != nil {
		writeServiceError(w, err, "set mode")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mode": req.Mode, "exchange": exchange})
}

type OptionRequest struct {
	OptionID  string `json:"optionId"`
	Score     int    `json:"score,omitempty"`
	Direction string `json:"direction,omitempty"` // "up" or "down"
}

func (h *APIHandler) SelectOptionHandler(w http.ResponseWriter, r *http.Request) {
	var req OptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.chatService.SelectOption(r.Context(), UserEmail(r.Context()), chi.URLParam(r, "chatID"), req.OptionID)
	h.writeSelection(w, result, err, "select option")
}

func (h *APIHandler) ScoreOptionHandler(w http.ResponseWriter, r *http.Request) {
	var req OptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.chatService.ScoreOption(r.Context(), UserEmail(r.Context()), chi.URLParam(r, "chatID"), req.OptionID, req.Score)
	h.writeSelection(w, result, err, "score option")
}

func (h *APIHandler) MoveOptionHandler(w http.ResponseWriter, r *http.Request) {
	var req OptionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var dir core.Direction
	switch req.Direction {
	case "up":
		dir = core.MoveUp
	case "down":
		dir = core.MoveDown
	default:
		http.Error(w, `direction must be "up" or "down"`, http.StatusBadRequest)
		return
	}
	result, err := h.chatService.MoveOption(r.Context(), UserEmail(r.Context()), chi.URLParam(r, "chatID"), req.OptionID, dir)
	h.writeSelection(w, result, err, "move option")
}

func (h *APIHandler) ConfirmRankingHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.chatService.ConfirmRanking(r.Context(), UserEmail(r.Context()), chi.URLParam(r, "chatID"))
	h.writeSelection(w, result, err, "confirm ranking")
}

func (h *APIHandler) writeSelection(w http.ResponseWriter, result *core.SelectionResult, err error, action string) {
	if err != nil {
		writeServiceError(w, err, action)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Prompts

func (h *APIHandler) GetPromptHandler(w http.ResponseWriter, r *http.Request) {
	prompt, err := h.chatService.GetPrompt(r.Context(), UserEmail(r.Context()))
	if err != nil {
		writeServiceError(w, err, "get prompt")
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

type SavePromptRequest struct {
	Template string `json:"template"`
}

func (h *APIHandler) SavePromptHandler(w http.ResponseWriter, r *http.Request) {
	var req SavePromptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.chatService.SavePrompt(r.Context(), UserEmail(r.Context()), req.Template); err != nil {
		writeServiceError(w, err, "save prompt")
		return
	}
	writeJSON(w, http.StatusOK, core.PromptTemplate{Template: req.Template, Custom: true})
}

func (h *APIHandler) ResetPromptHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.ResetPrompt(r.Context(), UserEmail(r.Context())); err != nil {
		writeServiceError(w, err, "reset prompt")
		return
	}
	writeJSON(w, http.StatusOK, core.PromptTemplate{Template: core.DefaultResearchPrompt})
}
