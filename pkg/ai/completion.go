package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// User-visible texts returned in place of a completion when the call fails.
const (
	MissingKeyText   = "Error: NanoGPT API Key is missing. Please check .env.local or Settings."
	TransportErrText = "Error generating content. Please check your connection or try again."
	EmptyReplyText   = "Failed to generate reflection. Please try again."
	statusErrPrefix  = "Error calling AI Provider: "
)

// Completion is the outcome of one round trip. Failed is set when Text is an
// error message rather than model output; Err then holds the cause.
type Completion struct {
	Text   string
	Failed bool
	Err    error
}

// Completer turns generator errors into user-visible text so callers always
// get a completion attempt back.
type Completer struct {
	gen        TextGenerator
	defaultKey string
	requireKey bool
}

// NewCompleter wraps gen. defaultKey is used when the caller has no key of
// its own. When requireKey is false (local providers such as Ollama) the
// missing-key check is skipped.
func NewCompleter(gen TextGenerator, defaultKey string, requireKey bool) *Completer {
	return &Completer{gen: gen, defaultKey: strings.TrimSpace(defaultKey), requireKey: requireKey}
}

// Complete sends one request. userKey, if set, overrides the default key.
func (c *Completer) Complete(ctx context.Context, userKey, systemPrompt, userPrompt string) Completion {
	key := strings.TrimSpace(userKey)
	if key == "" {
		key = c.defaultKey
	}
	if c.requireKey && key == "" {
		return Completion{Text: MissingKeyText, Failed: true, Err: ErrMissingAPIKey}
	}
	if c.gen == nil {
		return Completion{Text: TransportErrText, Failed: true, Err: errors.New("no generator configured")}
	}

	text, err := c.gen.GenerateText(WithAPIKey(ctx, key), systemPrompt, userPrompt)
	if err == nil {
		return Completion{Text: text}
	}

	var statusErr *StatusError
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return Completion{Text: MissingKeyText, Failed: true, Err: err}
	case errors.As(err, &statusErr):
		slog.Warn("completion rejected by provider", "provider", statusErr.Provider, "status", statusErr.Code, "err", statusErr.Message)
		return Completion{Text: statusErrPrefix + statusErr.StatusText(), Failed: true, Err: err}
	case errors.Is(err, ErrEmptyResponse):
		return Completion{Text: EmptyReplyText, Failed: true, Err: err}
	default:
		slog.Warn("completion failed", "err", err)
		return Completion{Text: TransportErrText, Failed: true, Err: err}
	}
}
