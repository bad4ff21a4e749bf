package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gwi.com/research-chat/internal/metrics"
)

type CallType string

const (
	CallProcess    CallType = "process"
	CallEnhance    CallType = "enhance"
	CallContextual CallType = "contextual"

	enhanceHistoryLimit    = 10
	contextualHistoryLimit = 15
)

var (
	ErrInvalidRequest = errors.New("invalid aggregator request")
	ErrTimeout        = errors.New("LLM request timed out")
)

// AggregatorRequest is the JSON contract of POST /api/openrouter.
type AggregatorRequest struct {
	Type           CallType  `json:"type"`
	Model          string    `json:"model"`
	UserQuery      string    `json:"userQuery"`
	Contents       []string  `json:"contents,omitempty"`
	CollectionName string    `json:"collectionName,omitempty"`
	ChatMessages   []Message `json:"chatMessages,omitempty"`
	CustomPrompt   string    `json:"customPrompt,omitempty"`
}

type AggregatorConfig struct {
	DefaultModel      string
	ProcessTimeout    time.Duration
	EnhanceTimeout    time.Duration
	ContextualTimeout time.Duration
	Verbose           bool // log prompt sizes and response previews
}

func DefaultAggregatorConfig(model string) AggregatorConfig {
	return AggregatorConfig{
		DefaultModel:      model,
		ProcessTimeout:    30 * time.Second,
		EnhanceTimeout:    20 * time.Second,
		ContextualTimeout: 30 * time.Second,
	}
}

// Aggregator builds the prompt for each call type and runs it with a bounded deadline.
type Aggregator struct {
	llm     Completer
	cfg     AggregatorConfig
	metrics metrics.Recorder
}

func NewAggregator(llm Completer, cfg AggregatorConfig, m metrics.Recorder) *Aggregator {
	defaults := DefaultAggregatorConfig(cfg.DefaultModel)
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaults.ProcessTimeout
	}
	if cfg.EnhanceTimeout <= 0 {
		cfg.EnhanceTimeout = defaults.EnhanceTimeout
	}
	if cfg.ContextualTimeout <= 0 {
		cfg.ContextualTimeout = defaults.ContextualTimeout
	}
	return &Aggregator{llm: llm, cfg: cfg, metrics: orNop(m)}
}

func (a *Aggregator) DefaultModel() string {
	return a.cfg.DefaultModel
}

func (a *Aggregator) Complete(ctx context.Context, req AggregatorRequest) (content string, err error) {
	messages, params, timeout, err := a.build(req)
	if err != nil {
		return "", err
	}

	started := time.Now()
	defer func() { observeCall(a.metrics, string(req.Type), started, err) }()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if a.cfg.Verbose {
		log.Printf("Aggregator %s request: model=%s messages=%d collection=%q", req.Type, params.Model, len(messages), req.CollectionName)
	}

	content, err = a.llm.Complete(callCtx, messages, params)
	if a.cfg.Verbose && err == nil {
		log.Printf("Aggregator %s response (%d chars): %.200s", req.Type, len(content), content)
	}
	if err != nil {
		// Only our own deadline counts as a timeout; a cancelled caller is just an error.
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w (%dms)", ErrTimeout, timeout.Milliseconds())
		}
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (a *Aggregator) build(req AggregatorRequest) ([]Message, Params, time.Duration, error) {
	params := Params{Model: req.Model}
	if params.Model == "" {
		params.Model = a.cfg.DefaultModel
	}

	switch req.Type {
	case CallProcess:
		if len(req.Contents) == 0 || req.CollectionName == "" || req.CustomPrompt == "" {
			return nil, params, 0, fmt.Errorf("%w: missing required fields for process type", ErrInvalidRequest)
		}
		system := InterpolatePrompt(req.CustomPrompt, map[string]string{
			"collectionName": req.CollectionName,
			"context":        strings.Join(req.Contents, "\n\n"),
		})
		return []Message{
			{Role: RoleSystem, Content: system},
			{Role: RoleUser, Content: req.UserQuery},
		}, params, a.cfg.ProcessTimeout, nil

	case CallEnhance:
		if req.ChatMessages == nil {
			return nil, params, 0, fmt.Errorf("%w: missing chat messages for enhance type", ErrInvalidRequest)
		}
		recent := lastN(req.ChatMessages, enhanceHistoryLimit)
		params.Temperature = 0.3
		params.MaxTokens = 200
		return []Message{
			{Role: RoleSystem, Content: fmt.Sprintf(enhanceSystemPrompt, renderConversation(recent), req.UserQuery)},
			{Role: RoleUser, Content: req.UserQuery},
		}, params, a.cfg.EnhanceTimeout, nil

	case CallContextual:
		if req.ChatMessages == nil {
			return nil, params, 0, fmt.Errorf("%w: missing chat messages for contextual type", ErrInvalidRequest)
		}
		recent := lastN(req.ChatMessages, contextualHistoryLimit)
		messages := make([]Message, 0, len(recent)+2)
		messages = append(messages, Message{Role: RoleSystem, Content: contextualSystemPrompt})
		messages = append(messages, recent...)
		messages = append(messages, Message{Role: RoleUser, Content: req.UserQuery})
		params.Temperature = 0.7
		params.MaxTokens = 1500
		return messages, params, a.cfg.ContextualTimeout, nil

	default:
		return nil, params, 0, fmt.Errorf("%w: invalid request type %q", ErrInvalidRequest, req.Type)
	}
}

func lastN(messages []Message, n int) []Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
