package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("appraise %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestGenerateThenListWithLocalModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{
			"role":    "assistant",
			"content": "Form type: [CBD]\n\nDiscussed a case of sepsis.\n```json\n[\"Sepsis\", \"Escalation\"]\n```",
		}})
	}))
	defer srv.Close()

	common := []string{"--data-dir", t.TempDir(), "--provider", "ollama", "--base-url", srv.URL, "--model", "llama3.1"}

	out := runCLI(t, append(common, "generate", "--mode", "hospital", "Septic patient escalated to ITU")...)
	if !strings.Contains(out, "[CBD (Case Based Discussion)] Septic patient escalated to ITU") {
		t.Fatalf("generate output:\n%s", out)
	}
	if !strings.Contains(out, "Tags: Sepsis, Escalation, HOSPITAL, CBD (Case Based Discussion)") {
		t.Fatalf("generate tags:\n%s", out)
	}

	out = runCLI(t, append(common, "notes", "--folders")...)
	if !strings.Contains(out, "CBD (Case Based Discussion) (1)") {
		t.Fatalf("folders output:\n%s", out)
	}

	out = runCLI(t, append(common, "usage")...)
	if !strings.Contains(out, "free: 1/2 used, 1 left") {
		t.Fatalf("usage output:\n%s", out)
	}
}
