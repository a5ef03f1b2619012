package app

import (
	"fmt"
	"strings"
	"time"

	"appraise/pkg/ai"
)

// GeneratorConfig selects and configures the completion provider.
type GeneratorConfig struct {
	Provider string
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// NewCompleter builds the provider named in cfg and wraps it in an
// ai.Completer. Local providers do not need an API key.
func NewCompleter(cfg GeneratorConfig) (*ai.Completer, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = "nanogpt"
	}
	switch provider {
	case "nanogpt", "openai-compat":
		gen := ai.NewOpenAICompatGenerator(cfg.BaseURL, "", cfg.Model, ai.WithTimeout(cfg.Timeout))
		return ai.NewCompleter(gen, cfg.APIKey, true), nil
	case "gemini":
		return ai.NewCompleter(ai.NewGeminiGenerator("", cfg.Model, ai.WithGeminiTimeout(cfg.Timeout)), cfg.APIKey, true), nil
	case "ollama":
		if strings.TrimSpace(cfg.Model) == "" {
			return nil, fmt.Errorf("generation model required for ollama")
		}
		return ai.NewCompleter(ai.NewOllamaGenerator(cfg.BaseURL, cfg.Model, cfg.Timeout), "", false), nil
	default:
		return nil, fmt.Errorf("unknown generation provider: %s", provider)
	}
}
