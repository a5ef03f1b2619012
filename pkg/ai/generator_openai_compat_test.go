package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAICompatGeneratorSendsChatRequest(t *testing.T) {
	var got oaiChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer user-key" {
			t.Errorf("expected per-request key, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Form type: [Reflection]\nBody"}}]}`))
	}))
	defer srv.Close()

	gen := NewOpenAICompatGenerator(srv.URL+"/v1/", "process-key", "", WithHTTPClient(srv.Client()))
	ctx := WithAPIKey(context.Background(), "user-key")
	text, err := gen.GenerateText(ctx, "system", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if text != "Form type: [Reflection]\nBody" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != DefaultNanoGPTModel {
		t.Fatalf("expected default model, got %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
}

func TestOpenAICompatGeneratorErrors(t *testing.T) {
	status := http.StatusTooManyRequests
	body := `{"error":{"message":"slow down"}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()
	gen := NewOpenAICompatGenerator(srv.URL, "k", "m", WithHTTPClient(srv.Client()))

	_, err := gen.GenerateText(context.Background(), "", "x")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusTooManyRequests || statusErr.Message != "slow down" {
		t.Fatalf("unexpected status error %+v", statusErr)
	}

	status = http.StatusOK
	body = `{"choices":[]}`
	if _, err := gen.GenerateText(context.Background(), "", "x"); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}

	noKey := NewOpenAICompatGenerator(srv.URL, "", "m", WithHTTPClient(srv.Client()))
	if _, err := noKey.GenerateText(context.Background(), "", "x"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}
