package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

type openaiImpl struct {
	client       *openai.Client
	model        string
	maxTokens    int
	systemPrompt string
	logger       zerolog.Logger

	mu      sync.Mutex
	history []openai.ChatCompletionMessageParamUnion
}

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	SystemPrompt string
	Logger       zerolog.Logger
}

// NewOpenAI talks to any OpenAI-compatible chat-completions endpoint. The
// history is only ever appended to by the single in-flight pipeline task, but
// it keeps its own lock so Reset can be called from anywhere.
func NewOpenAI(cfg *OpenAIConfig) (Interface, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	if cfg.Model == "" {
		return nil, fmt.Errorf("model is empty")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &openaiImpl{
		client:       &client,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: cfg.SystemPrompt,
		logger:       cfg.Logger,
	}, nil
}

func (c *openaiImpl) Chat(ctx context.Context, userText string) (string, error) {
	c.mu.Lock()
	c.history = append(c.history, openai.UserMessage(userText))
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(c.history)+1)
	if c.systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(c.systemPrompt))
	}
	messages = append(messages, c.history...)
	c.mu.Unlock()

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)

	if reply != "" {
		c.mu.Lock()
		c.history = append(c.history, openai.AssistantMessage(reply))
		c.mu.Unlock()
	}

	c.logger.Debug().Str("reply", reply).Msg("llm reply")

	return reply, nil
}

func (c *openaiImpl) Reset() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()

	c.logger.Info().Msg("conversation history cleared")
}
