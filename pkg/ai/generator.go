package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TextGenerator generates text from a system prompt and user prompt.
// All LLM providers (NanoGPT/OpenAI-compatible, Gemini, Ollama) implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

var (
	// ErrMissingAPIKey is returned when neither the caller nor the process supplied a key.
	ErrMissingAPIKey = errors.New("api key missing")
	// ErrEmptyResponse is returned when the provider answered without any choice text.
	ErrEmptyResponse = errors.New("empty response from provider")
)

// StatusError is a non-2xx answer from a provider.
type StatusError struct {
	Provider string
	Code     int
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error: %d %s", e.Provider, e.Code, http.StatusText(e.Code))
}

// StatusText is the HTTP reason phrase for the status code.
func (e *StatusError) StatusText() string {
	if text := http.StatusText(e.Code); text != "" {
		return text
	}
	return fmt.Sprintf("status %d", e.Code)
}

type apiKeyContextKey struct{}

// WithAPIKey attaches a per-request key that overrides the generator default.
func WithAPIKey(ctx context.Context, key string) context.Context {
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, apiKeyContextKey{}, key)
}

// APIKeyFromContext returns the per-request key, if any.
func APIKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	key, _ := ctx.Value(apiKeyContextKey{}).(string)
	return key
}

func resolveKey(ctx context.Context, fallback string) string {
	if key := APIKeyFromContext(ctx); key != "" {
		return key
	}
	return fallback
}
