package nl2sql

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// The Messages API rejects temperatures above 1.
const maxAnthropicTemperature = 1.0

type AnthropicConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// AnthropicCompleter implements Completer with the Anthropic Messages API.
type AnthropicCompleter struct {
	client      anthropic.Client
	model       anthropic.Model
	temperature float64
	maxTokens   int64
}

func NewAnthropicCompleter(cfg AnthropicConfig) (*AnthropicCompleter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(&http.Client{Timeout: timeout}),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	return &AnthropicCompleter{
		client:      anthropic.NewClient(opts...),
		model:       anthropic.Model(strings.TrimSpace(cfg.Model)),
		temperature: clampTemperature(cfg.Temperature, maxAnthropicTemperature),
		maxTokens:   maxTokens,
	}, nil
}

func clampTemperature(value, upper float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > upper:
		return upper
	default:
		return value
	}
}

func (c *AnthropicCompleter) Provider() string { return "anthropic" }
func (c *AnthropicCompleter) Model() string    { return string(c.model) }

func (c *AnthropicCompleter) Complete(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]anthropic.MessageParam, 0, len(prompt.Messages))
	for _, msg := range prompt.Messages {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(c.temperature),
	}
	if prompt.System != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: prompt.System},
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text content in response")
	}
	return strings.Join(parts, ""), nil
}
