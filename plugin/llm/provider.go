// Package llm wraps an OpenAI-compatible chat completion API behind a
// small provider type. DeepSeek and other compatible vendors are reached
// through the same client with a different base URL.
package llm

import (
	"context"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	deepseekBaseURL    = "https://api.deepseek.com/v1"
	defaultChatModel   = "gpt-4o-mini"
	deepseekChatModel  = "deepseek-chat"
	defaultMaxRetries  = 3
	defaultTemperature = 0.7
)

// Config holds the provider configuration.
type Config struct {
	Provider    string // openai, deepseek, or compatible
	BaseURL     string
	APIKey      string
	ChatModel   string
	MaxRetries  int
	Temperature float32
}

// Message is one chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// SystemPrompt builds a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage builds a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// Provider performs chat completions against an OpenAI-compatible API.
type Provider struct {
	client *openai.Client
	config Config
	logger *slog.Logger
}

// NewProvider creates a provider for the configured vendor.
func NewProvider(cfg Config, logger *slog.Logger) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: API key is required")
	}

	switch cfg.Provider {
	case "openai", "":
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultBaseURL
		}
		if cfg.ChatModel == "" {
			cfg.ChatModel = defaultChatModel
		}
	case "deepseek":
		if cfg.BaseURL == "" {
			cfg.BaseURL = deepseekBaseURL
		}
		if cfg.ChatModel == "" {
			cfg.ChatModel = deepseekChatModel
		}
	case "compatible":
		if cfg.BaseURL == "" {
			return nil, errors.New("llm: base URL is required for a compatible provider")
		}
		if cfg.ChatModel == "" {
			return nil, errors.New("llm: chat model is required for a compatible provider")
		}
	default:
		return nil, errors.Errorf("llm: unsupported provider %q", cfg.Provider)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	return &Provider{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
		logger: logger.With("component", "llm"),
	}, nil
}

// Model returns the configured chat model name.
func (p *Provider) Model() string {
	return p.config.ChatModel
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	converted := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		converted[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return converted
}

// Chat performs a synchronous chat completion with retries.
func (p *Provider) Chat(ctx context.Context, messages []Message) (string, error) {
	var result string
	err := p.doWithRetry(ctx, func() error {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       p.config.ChatModel,
			Messages:    convertMessages(messages),
			Temperature: p.config.Temperature,
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return errors.New("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", errors.Wrap(err, "chat completion failed")
	}
	return result, nil
}

// ChatStream performs a streaming chat completion. Chunks arrive on the
// content channel; at most one error arrives on the error channel. Both
// channels close when the stream ends.
func (p *Provider) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       p.config.ChatModel,
			Messages:    convertMessages(messages),
			Temperature: p.config.Temperature,
			Stream:      true,
		})
		if err != nil {
			errChan <- errors.Wrap(err, "chat stream failed")
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errChan <- errors.Wrap(err, "chat stream interrupted")
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			select {
			case contentChan <- resp.Choices[0].Delta.Content:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
	}()

	return contentChan, errChan
}

// doWithRetry executes fn with exponential backoff.
func (p *Provider) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < p.config.MaxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			p.logger.Debug("llm request failed, retrying",
				"attempt", attempt+1, "wait_time", waitTime, "error", lastErr)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
