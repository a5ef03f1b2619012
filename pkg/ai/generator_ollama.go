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

// DefaultOllamaBaseURL is a local Ollama daemon.
const DefaultOllamaBaseURL = "http://127.0.0.1:11434"

// OllamaGenerator runs generation on a local model through /api/chat, so
// note text never leaves the machine. It needs no API key.
type OllamaGenerator struct {
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// NewOllamaGenerator builds an Ollama-backed TextGenerator. timeout 0 means
// no client timeout.
func NewOllamaGenerator(baseURL, model string, timeout time.Duration) *OllamaGenerator {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}
	return &OllamaGenerator{
		baseURL:     baseURL,
		model:       strings.TrimSpace(model),
		temperature: 0.7,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// GenerateText implements TextGenerator.
func (g *OllamaGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if g.model == "" {
		return "", fmt.Errorf("ollama generation model required")
	}
	req := ollamaChatRequest{
		Model:   g.model,
		Options: ollamaOptions{Temperature: g.temperature},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		req.Messages = append(req.Messages, oaiMessage{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, oaiMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) != nil || errResp.Error == "" {
			errResp.Error = strings.TrimSpace(string(raw))
		}
		return "", &StatusError{Provider: "ollama", Code: resp.StatusCode, Message: errResp.Error}
	}

	var out struct {
		Message oaiMessage `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama decode: %w", err)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return "", ErrEmptyResponse
	}
	return out.Message.Content, nil
}

// Stream is always false: the reply is parsed as a whole.
type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []oaiMessage  `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}
