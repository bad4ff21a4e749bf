package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"gwi.com/research-chat/internal/metrics"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	openRouterTitle = "Research Chat"
)

var ErrEmptyResponse = errors.New("no response received from LLM")

// Message is one chat turn sent to an LLM.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params tunes a single completion. Zero values mean provider defaults.
type Params struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Completer turns a message list into a single assistant reply.
type Completer interface {
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
}

type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Referer      string
	// RequestsPerSecond caps outbound calls; zero or less disables the limit.
	RequestsPerSecond int
}

// OpenRouterCompleter calls an OpenAI-compatible chat completions API.
type OpenRouterCompleter struct {
	client       *openai.Client
	defaultModel string
	limiter      *rate.Limiter
}

// headerDoer adds the attribution headers OpenRouter expects on every request.
type headerDoer struct {
	client  *http.Client
	referer string
}

func (d *headerDoer) Do(req *http.Request) (*http.Response, error) {
	if d.referer != "" {
		req.Header.Set("HTTP-Referer", d.referer)
	}
	req.Header.Set("X-Title", openRouterTitle)
	return d.client.Do(req)
}

func NewOpenRouterCompleter(cfg OpenRouterConfig) *OpenRouterCompleter {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	// Per-call deadlines come from the aggregator context, not the transport.
	clientConfig.HTTPClient = &headerDoer{client: &http.Client{}, referer: cfg.Referer}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.RequestsPerSecond)
	}

	return &OpenRouterCompleter{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		limiter:      limiter,
	}
}

func (c *OpenRouterCompleter) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	model := params.Model
	if model == "" {
		model = c.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openrouter chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiCompleter serves the same contract through Google's Gemini API.
type GeminiCompleter struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiCompleter(ctx context.Context, apiKey, defaultModel string) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if defaultModel == "" {
		defaultModel = "gemini-1.5-flash-latest"
	}
	return &GeminiCompleter{client: client, defaultModel: defaultModel}, nil
}

func (c *GeminiCompleter) Close() {
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			log.Printf("Error closing GenAI client: %v", err)
		} else {
			log.Println("GenAI client closed.")
		}
	}
}

func (c *GeminiCompleter) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	modelName := params.Model
	// OpenRouter-style "vendor/model" names mean nothing to Gemini.
	if modelName == "" || strings.Contains(modelName, "/") {
		modelName = c.defaultModel
	}
	model := c.client.GenerativeModel(modelName)
	if params.Temperature > 0 {
		temp := params.Temperature
		model.GenerationConfig.Temperature = &temp
	}
	if params.MaxTokens > 0 {
		maxTokens := int32(params.MaxTokens)
		model.GenerationConfig.MaxOutputTokens = &maxTokens
	}

	systemParts, history := geminiContents(messages)
	if len(systemParts) > 0 {
		model.SystemInstruction = &genai.Content{Parts: systemParts}
	}

	if len(history) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	if responseText.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return responseText.String(), nil
}

// geminiContents splits out the system instruction and folds consecutive turns of the
// same role into one Content, since Gemini requires user and model turns to alternate.
func geminiContents(messages []Message) ([]genai.Part, []*genai.Content) {
	var systemParts []genai.Part
	var history []*genai.Content
	for _, m := range messages {
		role := "user"
		switch m.Role {
		case RoleSystem:
			systemParts = append(systemParts, genai.Text(m.Content))
			continue
		case RoleAssistant:
			role = "model"
		}
		if n := len(history); n > 0 && history[n-1].Role == role {
			history[n-1].Parts = append(history[n-1].Parts, genai.Text(m.Content))
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return systemParts, history
}

// observeCall reports the latency and outcome of one aggregator call.
func observeCall(m metrics.Recorder, callType string, started time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	m.ObserveLLMCall(callType, outcome, time.Since(started))
}
