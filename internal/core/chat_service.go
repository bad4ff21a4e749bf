package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"gwi.com/research-chat/internal/metrics"
	"gwi.com/research-chat/internal/store"
)

// WelcomeMessage opens every new chat.
const WelcomeMessage = "How can I help you today?"

var (
	ErrUnauthenticated   = errors.New("user identity required")
	ErrChatNotFound      = errors.New("chat not found")
	ErrNoPendingExchange = errors.New("no pending exchange for chat")
	ErrExchangePending   = errors.New("an exchange is already in progress for this chat")
	ErrEmptyMessage      = errors.New("message content is required")
	ErrEmptyPrompt       = errors.New("prompt template is required")
)

// Repository is the persistence the chat service needs.
type Repository interface {
	store.ChatRepository
	store.PromptRepository
}

// Exchange is the client view of a pending exchange.
type Exchange struct {
	ChatID        string           `json:"chatId"`
	Query         string           `json:"query"`
	EnhancedQuery string           `json:"enhancedQuery"`
	Mode          Mode             `json:"mode"`
	Options       []ResponseOption `json:"options"`
	Ranking       []string         `json:"ranking,omitempty"`
	Chat          *store.Chat      `json:"chat,omitempty"`
}

// SelectionResult is returned by every selection operation. Chat is set once the
// exchange resolved; Exchange is set while it is still pending.
type SelectionResult struct {
	Resolved bool        `json:"resolved"`
	Exchange *Exchange   `json:"exchange,omitempty"`
	Chat     *store.Chat `json:"chat,omitempty"`
}

type PromptTemplate struct {
	Template string `json:"template"`
	Custom   bool   `json:"custom"`
}

// DefaultExchangeTTL is how long an untouched exchange stays selectable.
const DefaultExchangeTTL = time.Hour

// pendingExchange is the live selection state of one chat. mu serializes selection
// operations; done is set once the exchange resolved or was discarded.
type pendingExchange struct {
	mu        sync.Mutex
	userEmail string
	chatID    string
	query     string
	enhanced  string
	gen       Generation
	session   *Session
	done      bool

	touched time.Time // guarded by ChatService.mu
}

func (ex *pendingExchange) discard() {
	ex.mu.Lock()
	ex.done = true
	ex.mu.Unlock()
}

// inFlightSend marks a SendMessage that is still generating. deleted is set when the
// chat is deleted underneath it.
type inFlightSend struct {
	deleted bool
}

type ChatServiceConfig struct {
	Collections []string
	DefaultMode Mode
	ExchangeTTL time.Duration
}

type ChatService struct {
	repo      Repository
	enhancer  *QueryEnhancer
	generator *CandidateGenerator
	recorder  *EvaluationRecorder
	cfg       ChatServiceConfig
	metrics   metrics.Recorder

	mu       sync.Mutex
	pending  map[string]*pendingExchange
	inFlight map[string]*inFlightSend
	modes    map[string]Mode // per user; survives across exchanges
	now      func() time.Time
}

func NewChatService(repo Repository, enhancer *QueryEnhancer, generator *CandidateGenerator, recorder *EvaluationRecorder, cfg ChatServiceConfig, m metrics.Recorder) *ChatService {
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = ModeManual
	}
	if cfg.ExchangeTTL <= 0 {
		cfg.ExchangeTTL = DefaultExchangeTTL
	}
	return &ChatService{
		repo:      repo,
		enhancer:  enhancer,
		generator: generator,
		recorder:  recorder,
		cfg:       cfg,
		metrics:   orNop(m),
		pending:   make(map[string]*pendingExchange),
		inFlight:  make(map[string]*inFlightSend),
		modes:     make(map[string]Mode),
		now:       time.Now,
	}
}

func exchangeKey(userEmail, chatID string) string {
	return userEmail + "\x00" + chatID
}

func (s *ChatService) CreateChat(ctx context.Context, userEmail string) (*store.Chat, error) {
	if userEmail == "" {
		return nil, ErrUnauthenticated
	}
	chat, err := s.repo.CreateChat(ctx, userEmail, WelcomeMessage)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}
	return chat, nil
}

// GetChats lists the user's chats, most recently updated first.
func (s *ChatService) GetChats(ctx context.Context, userEmail string) ([]store.Chat, error) {
	if userEmail == "" {
		return nil, ErrUnauthenticated
	}
	chats, err := s.repo.GetChats(ctx, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt > chats[j].UpdatedAt
	})
	return chats, nil
}

func (s *ChatService) GetChat(ctx context.Context, userEmail, chatID string) (*store.Chat, error) {
	if userEmail == "" {
		return nil, ErrUnauthenticated
	}
	chat, err := s.repo.GetChat(ctx, userEmail, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, userEmail, chatID string) error {
	if userEmail == "" {
		return ErrUnauthenticated
	}
	deleted, err := s.repo.DeleteChat(ctx, userEmail, chatID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if !deleted {
		return ErrChatNotFound
	}
	key := exchangeKey(userEmail, chatID)
	s.mu.Lock()
	ex := s.pending[key]
	delete(s.pending, key)
	if send := s.inFlight[key]; send != nil {
		send.deleted = true
	}
	s.mu.Unlock()
	if ex != nil {
		ex.discard()
	}
	return nil
}

// SendMessage stores the user's message and generates the candidates for a new pending
// exchange. An empty chatID starts a new chat. Any earlier unresolved exchange of the
// same chat is discarded, along with every exchange that outlived the TTL.
func (s *ChatService) SendMessage(ctx context.Context, userEmail, chatID, content string) (*Exchange, error) {
	if userEmail == "" {
		return nil, ErrUnauthenticated
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}

	var chat *store.Chat
	var err error
	if chatID == "" {
		chat, err = s.CreateChat(ctx, userEmail)
	} else {
		chat, err = s.GetChat(ctx, userEmail, chatID)
	}
	if err != nil {
		return nil, err
	}

	key := exchangeKey(userEmail, chat.ID)
	s.mu.Lock()
	if s.inFlight[key] != nil {
		s.mu.Unlock()
		return nil, ErrExchangePending
	}
	send := &inFlightSend{}
	s.inFlight[key] = send
	discarded := s.sweepLocked()
	if stale := s.pending[key]; stale != nil {
		delete(s.pending, key)
		discarded = append(discarded, stale)
	}
	mode := s.modeLocked(userEmail)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.inFlight, key)
		s.mu.Unlock()
	}()

	// Waits out any selection already running on the old exchange, so its answer lands
	// before the new user message.
	for _, ex := range discarded {
		ex.discard()
	}

	chat, err = s.repo.AppendMessage(ctx, userEmail, chat.ID, store.RoleUser, content)
	if err != nil {
		return nil, fmt.Errorf("failed to store user message: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	history := conversationHistory(chat.Messages[:len(chat.Messages)-1])

	prompt, err := s.GetPrompt(ctx, userEmail)
	if err != nil {
		log.Printf("Using default prompt for user %s: %v", userEmail, err)
		prompt = &PromptTemplate{Template: DefaultResearchPrompt}
	}

	enhanced := s.enhancer.Enhance(ctx, content, history)
	if enhanced != content {
		log.Printf("Enhanced query for chat %s: %q", chat.ID, enhanced)
	}

	gen := s.generator.Generate(ctx, GenerateInput{
		Query:          content,
		EnhancedQuery:  enhanced,
		Collections:    s.cfg.Collections,
		UserEmail:      userEmail,
		History:        history,
		PromptTemplate: prompt.Template,
	})

	ex := &pendingExchange{
		userEmail: userEmail,
		chatID:    chat.ID,
		query:     content,
		enhanced:  enhanced,
		gen:       gen,
		session:   NewSession(gen.Options, mode),
	}
	// ex is not shared until it is stored below.
	view := ex.view()
	view.Chat = chat

	s.mu.Lock()
	if send.deleted {
		s.mu.Unlock()
		log.Printf("Chat %s was deleted while generating; dropping %d candidates", chat.ID, len(gen.Options))
		return nil, ErrChatNotFound
	}
	ex.touched = s.now()
	s.pending[key] = ex
	s.mu.Unlock()

	log.Printf("Generated %d candidates for chat %s (user %s)", len(gen.Options), chat.ID, userEmail)
	return view, nil
}

// conversationHistory converts stored messages into LLM turns. The assistant greeting
// that opens every chat carries no context and is dropped.
func conversationHistory(messages []store.Message) []Message {
	if len(messages) > 0 && messages[0].Role == store.RoleAssistant {
		messages = messages[1:]
	}
	history := make([]Message, 0, len(messages))
	for _, m := range messages {
		history = append(history, Message{Role: m.Role, Content: m.Content})
	}
	return history
}

func (s *ChatService) PendingExchange(userEmail, chatID string) (*Exchange, error) {
	ex, err := s.lookup(userEmail, chatID)
	if err != nil {
		return nil, err
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.done {
		return nil, ErrNoPendingExchange
	}
	return ex.view(), nil
}

// Mode returns the user's current selection mode.
func (s *ChatService) Mode(userEmail string) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modeLocked(userEmail)
}

func (s *ChatService) modeLocked(userEmail string) Mode {
	if mode, ok := s.modes[userEmail]; ok {
		return mode
	}
	return s.cfg.DefaultMode
}

// SetMode changes the user's selection mode and applies it to the chat's pending exchange,
// if there is one. Switching clears partial scores and rank changes.
func (s *ChatService) SetMode(userEmail, chatID string, mode Mode) (*Exchange, error) {
	if userEmail == "" {
		return nil, ErrUnauthenticated
	}
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.modes[userEmail] = mode
	ex := s.liveLocked(exchangeKey(userEmail, chatID))
	s.mu.Unlock()
	if chatID == "" || ex == nil {
		return nil, nil
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.done {
		return nil, nil
	}
	if err := ex.session.SetMode(mode); err != nil {
		return nil, err
	}
	return ex.view(), nil
}

func (s *ChatService) SelectOption(ctx context.Context, userEmail, chatID, optionID string) (*SelectionResult, error) {
	return s.apply(ctx, userEmail, chatID, func(sess *Session) (*Resolution, error) {
		return sess.Select(optionID)
	})
}

func (s *ChatService) ScoreOption(ctx context.Context, userEmail, chatID, optionID string, score int) (*SelectionResult, error) {
	return s.apply(ctx, userEmail, chatID, func(sess *Session) (*Resolution, error) {
		return sess.Score(optionID, score)
	})
}

func (s *ChatService) MoveOption(ctx context.Context, userEmail, chatID, optionID string, dir Direction) (*SelectionResult, error) {
	return s.apply(ctx, userEmail, chatID, func(sess *Session) (*Resolution, error) {
		return nil, sess.Move(optionID, dir)
	})
}

func (s *ChatService) ConfirmRanking(ctx context.Context, userEmail, chatID string) (*SelectionResult, error) {
	return s.apply(ctx, userEmail, chatID, func(sess *Session) (*Resolution, error) {
		return sess.ConfirmRanking()
	})
}

// apply runs op against the chat's pending exchange and finishes the exchange if op
// resolved it: the winner is appended to the chat, the evaluation is recorded, and the
// session is cleared, in that order.
func (s *ChatService) apply(ctx context.Context, userEmail, chatID string, op func(*Session) (*Resolution, error)) (*SelectionResult, error) {
	ex, err := s.lookup(userEmail, chatID)
	if err != nil {
		return nil, err
	}

	ex.mu.Lock()
	defer ex.mu.Unlock()
	if ex.done {
		return nil, ErrNoPendingExchange
	}

	res, err := op(ex.session)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return &SelectionResult{Exchange: ex.view()}, nil
	}

	chat, err := s.repo.AppendMessage(ctx, userEmail, chatID, store.RoleAssistant, res.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to store selected response: %w", err)
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}

	if s.recorder != nil {
		s.recorder.Record(BuildEvaluationRecord(userEmail, chatID, ex.query, ex.gen.Options, res, ex.gen, time.Now()))
	}

	ex.done = true
	s.mu.Lock()
	key := exchangeKey(userEmail, chatID)
	if s.pending[key] == ex {
		delete(s.pending, key)
	}
	s.mu.Unlock()

	s.metrics.IncResolution(string(res.Mode))
	log.Printf("Resolved exchange for chat %s in %s mode (option %s)", chatID, res.Mode, res.Option.ID)
	return &SelectionResult{Resolved: true, Chat: chat}, nil
}

func (s *ChatService) lookup(userEmail, chatID string) (*pendingExchange, error) {
	if userEmail == "" {
		return nil, ErrUnauthenticated
	}
	if chatID == "" {
		return nil, ErrNoPendingExchange
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ex := s.liveLocked(exchangeKey(userEmail, chatID))
	if ex == nil {
		return nil, ErrNoPendingExchange
	}
	return ex, nil
}

// liveLocked returns the exchange under key and refreshes its TTL. An expired exchange
// is dropped and nil is returned.
func (s *ChatService) liveLocked(key string) *pendingExchange {
	ex, ok := s.pending[key]
	if !ok {
		return nil
	}
	now := s.now()
	if now.Sub(ex.touched) > s.cfg.ExchangeTTL {
		delete(s.pending, key)
		return nil
	}
	ex.touched = now
	return ex
}

// sweepLocked removes every expired exchange and returns them for discarding once
// s.mu is released.
func (s *ChatService) sweepLocked() []*pendingExchange {
	var expired []*pendingExchange
	now := s.now()
	for key, ex := range s.pending {
		if now.Sub(ex.touched) > s.cfg.ExchangeTTL {
			delete(s.pending, key)
			expired = append(expired, ex)
		}
	}
	return expired
}

// view must be called with ex.mu held.
func (ex *pendingExchange) view() *Exchange {
	return &Exchange{
		ChatID:        ex.chatID,
		Query:         ex.query,
		EnhancedQuery: ex.enhanced,
		Mode:          ex.session.Mode(),
		Options:       ex.session.Options(),
		Ranking:       ex.session.Ranking(),
	}
}

// GetPrompt returns the user's custom research prompt, or the default one.
func (s *ChatService) GetPrompt(ctx context.Context, userEmail string) (*PromptTemplate, error) {
	if userEmail == "" {
		return nil, ErrUnauthenticated
	}
	template, ok, err := s.repo.GetPrompt(ctx, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt: %w", err)
	}
	if !ok {
		return &PromptTemplate{Template: DefaultResearchPrompt}, nil
	}
	return &PromptTemplate{Template: template, Custom: true}, nil
}

func (s *ChatService) SavePrompt(ctx context.Context, userEmail, template string) error {
	if userEmail == "" {
		return ErrUnauthenticated
	}
	if strings.TrimSpace(template) == "" {
		return ErrEmptyPrompt
	}
	if err := s.repo.SavePrompt(ctx, userEmail, template); err != nil {
		return fmt.Errorf("failed to save prompt: %w", err)
	}
	return nil
}

func (s *ChatService) ResetPrompt(ctx context.Context, userEmail string) error {
	if userEmail == "" {
		return ErrUnauthenticated
	}
	if err := s.repo.ResetPrompt(ctx, userEmail); err != nil {
		return fmt.Errorf("failed to reset prompt: %w", err)
	}
	return nil
}

type nopRecorder struct{}

func (nopRecorder) ObserveLLMCall(string, string, time.Duration) {}
func (nopRecorder) IncCandidate(string)                          {}
func (nopRecorder) IncResolution(string)                         {}
func (nopRecorder) IncEvaluation(string)                         {}

func orNop(m metrics.Recorder) metrics.Recorder {
	if m == nil {
		return nopRecorder{}
	}
	return m
}
