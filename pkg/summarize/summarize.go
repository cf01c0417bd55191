// Package summarize condenses text with a chat completion model. It backs the
// metered analysis feature.
package summarize

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel         = openai.GPT4oMini
	DefaultMaxInputWords = 6000

	systemPrompt = "Summarize the user's text in a few short sentences. Reply with the summary only."
)

var (
	ErrAPIKeyRequired = errors.New("API key is required")
	ErrEmptyText      = errors.New("text cannot be empty")
	ErrRateLimited    = errors.New("summarization rate limit exceeded")
	ErrNoChoices      = errors.New("model returned no choices")
	ErrRequestFailed  = errors.New("summarization request failed")
)

// Config configures the OpenAI summarizer. Summaries are disabled when no API
// key is set.
type Config struct {
	APIKey        string `env:"OPENAI_API_KEY"`
	BaseURL       string `env:"OPENAI_BASE_URL"`
	Model         string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	MaxTokens     int    `env:"OPENAI_MAX_TOKENS" envDefault:"256"`
	MaxInputWords int    `env:"SUMMARIZE_MAX_INPUT_WORDS" envDefault:"6000"`
}

// Summarizer condenses text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// OpenAI implements Summarizer with the chat completions API.
type OpenAI struct {
	client        *openai.Client
	model         string
	maxTokens     int
	maxInputWords int
}

// NewOpenAI creates an OpenAI summarizer.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}

	occ := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		occ.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	s := &OpenAI{
		client:        openai.NewClientWithConfig(occ),
		model:         cfg.Model,
		maxTokens:     cfg.MaxTokens,
		maxInputWords: cfg.MaxInputWords,
	}
	if s.model == "" {
		s.model = DefaultModel
	}
	if s.maxInputWords <= 0 {
		s.maxInputWords = DefaultMaxInputWords
	}
	return s, nil
}

func (s *OpenAI) Summarize(ctx context.Context, text string) (string, error) {
	text = truncateWords(strings.TrimSpace(text), s.maxInputWords)
	if text == "" {
		return "", ErrEmptyText
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return "", errors.Join(ErrRateLimited, err)
		}
		return "", errors.Join(ErrRequestFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// truncateWords keeps at most n whitespace separated words of text.
func truncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}
