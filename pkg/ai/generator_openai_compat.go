package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultNanoGPTBaseURL is the hosted NanoGPT OpenAI-compatible endpoint.
	DefaultNanoGPTBaseURL = "https://nano-gpt.com/api/v1"
	// DefaultNanoGPTModel is the fixed model identifier for portfolio generation.
	DefaultNanoGPTModel = "mistralai/mistral-large-3-675b-instruct-2512"
)

// OpenAICompatGenerator calls any OpenAI-compatible /chat/completions endpoint.
// NanoGPT, vLLM, LiteLLM, OpenRouter and self-hosted gateways all speak this shape.
type OpenAICompatGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// OpenAICompatOption customises the generator.
type OpenAICompatOption func(*OpenAICompatGenerator)

// WithHTTPClient swaps the HTTP client (tests, proxies).
func WithHTTPClient(c *http.Client) OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithTimeout sets the request timeout. Zero means no timeout.
func WithTimeout(d time.Duration) OpenAICompatOption {
	return func(g *OpenAICompatGenerator) {
		g.httpClient.Timeout = d
	}
}

// NewOpenAICompatGenerator builds an OpenAI-compatible TextGenerator.
// baseURL should include the /v1 prefix; empty values fall back to NanoGPT.
// apiKey is the process default and may be empty when every caller brings
// its own key through WithAPIKey.
func NewOpenAICompatGenerator(baseURL, apiKey, model string, opts ...OpenAICompatOption) *OpenAICompatGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultNanoGPTBaseURL
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultNanoGPTModel
	}
	g := &OpenAICompatGenerator{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Model returns the configured model identifier.
func (g *OpenAICompatGenerator) Model() string {
	return g.model
}

// GenerateText implements TextGenerator using the OpenAI chat completions API.
// It sends exactly one request and never retries.
func (g *OpenAICompatGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	apiKey := resolveKey(ctx, g.apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	messages := make([]oaiMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, oaiMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(oaiChatRequest{
		Model:    g.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai-compat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var errResp oaiErrorResponse
		_ = json.Unmarshal(raw, &errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", &StatusError{Provider: "openai-compat", Code: resp.StatusCode, Message: msg}
	}

	var chatResp oaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("openai-compat decode: %w", err)
	}
	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return chatResp.Choices[0].Message.Content, nil
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiChatRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiChatResponse struct {
	Choices []struct {
		Message oaiMessage `json:"message"`
	} `json:"choices"`
}

type oaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
