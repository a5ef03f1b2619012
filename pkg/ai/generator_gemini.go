package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiGenerator wraps the Google GenAI SDK.
// Clients are created lazily per API key so callers can bring their own key.
type GeminiGenerator struct {
	apiKey      string
	model       string
	temperature float32
	timeout     time.Duration

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// GeminiOption customises the Gemini generator.
type GeminiOption func(*GeminiGenerator)

// WithGeminiTimeout bounds each GenerateContent call. Zero means no bound.
func WithGeminiTimeout(d time.Duration) GeminiOption {
	return func(g *GeminiGenerator) {
		g.timeout = d
	}
}

// NewGeminiGenerator builds a Gemini-backed TextGenerator.
func NewGeminiGenerator(apiKey, model string, opts ...GeminiOption) *GeminiGenerator {
	model = strings.TrimPrefix(strings.TrimSpace(model), "models/")
	if model == "" {
		model = DefaultGeminiModel
	}
	g := &GeminiGenerator{
		apiKey:      strings.TrimSpace(apiKey),
		model:       model,
		temperature: 0.7,
		clients:     make(map[string]*genai.Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

func (g *GeminiGenerator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.timeout)
}

// GenerateText implements TextGenerator.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	apiKey := resolveKey(ctx, g.apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	client, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}
	ctx, cancel := g.callContext(ctx)
	defer cancel()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}
	resp, err := client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt), cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &StatusError{Provider: "gemini", Code: apiErr.Code, Message: apiErr.Message}
		}
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (g *GeminiGenerator) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}
