package nl2sql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/querychat/querychat/internal/settings"
)

// ProviderConfig holds the process-level LLM settings; the per-operator
// key, model and temperature come from the saved configuration.
type ProviderConfig struct {
	OpenAIBaseURL    string
	AnthropicBaseURL string
	GeminiBaseURL    string
	DefaultModel     string
	MaxTokens        int
	Timeout          time.Duration
}

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// ProviderFor picks the API family for a model name.
func ProviderFor(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(model, "gemini"), strings.HasPrefix(model, "models/gemini"):
		return ProviderGemini
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	default:
		return ProviderOpenAI
	}
}

// NewCompleter builds the completer for the saved gpt settings.
func NewCompleter(ctx context.Context, cfg ProviderConfig, gpt settings.GPT) (Completer, error) {
	if strings.TrimSpace(gpt.APIKey) == "" {
		return nil, fmt.Errorf("gpt api key is not configured")
	}
	model := strings.TrimSpace(gpt.Model)
	if model == "" {
		model = cfg.DefaultModel
	}

	switch ProviderFor(model) {
	case ProviderGemini:
		return NewGeminiCompleter(ctx, GeminiConfig{
			BaseURL:     cfg.GeminiBaseURL,
			APIKey:      gpt.APIKey,
			Model:       model,
			Temperature: gpt.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderAnthropic:
		return NewAnthropicCompleter(AnthropicConfig{
			BaseURL:     cfg.AnthropicBaseURL,
			APIKey:      gpt.APIKey,
			Model:       model,
			Temperature: gpt.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	default:
		return NewOpenAICompleter(OpenAIConfig{
			BaseURL:     cfg.OpenAIBaseURL,
			APIKey:      gpt.APIKey,
			Model:       model,
			Temperature: gpt.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	}
}
