package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"appraise/pkg/domain"
	"appraise/pkg/store"
	"appraise/services/portfolio/internal/app"
)

// localUserID owns every note written through the CLI.
const localUserID = "local"

var (
	verbose  bool
	jsonOut  bool
	dataDir  string
	plan     string
	provider string
	baseURL  string
	model    string
	timeout  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "appraise",
	Short: "Turn clinical notes into structured portfolio entries",
	Long: `appraise drafts anonymised portfolio entries (CBD, DOPS, reflections and more)
from free-text notes using an LLM, and keeps them in a local notebook.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	home, _ := os.UserHomeDir()
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVar(&jsonOut, "json", false, "Output in JSON format")
	flags.StringVar(&dataDir, "data-dir", filepath.Join(home, ".appraise"), "Directory holding the local notebook")
	flags.StringVar(&plan, "plan", string(domain.PlanFree), "Usage plan: free or appraise_plus")
	flags.StringVar(&provider, "provider", envOr("APPRAISE_GENERATION_PROVIDER", "nanogpt"), "Generation provider: nanogpt, openai-compat, gemini or ollama")
	flags.StringVar(&baseURL, "base-url", os.Getenv("APPRAISE_GENERATION_BASE_URL"), "Provider base URL")
	flags.StringVar(&model, "model", os.Getenv("APPRAISE_GENERATION_MODEL"), "Provider model")
	flags.DurationVar(&timeout, "timeout", 120*time.Second, "Provider request timeout")
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultAPIKey() string {
	if strings.EqualFold(provider, "gemini") {
		return os.Getenv("GEMINI_API_KEY")
	}
	return envOr("APPRAISE_GENERATION_API_KEY", os.Getenv("NANOGPT_API_KEY"))
}

// openApp loads the local notebook and starts the local user's session.
func openApp(ctx context.Context) (*app.App, error) {
	p := domain.Plan(strings.TrimSpace(plan))
	if p != domain.PlanFree && p != domain.PlanPlus {
		return nil, fmt.Errorf("unknown plan %q", plan)
	}
	kv, err := store.NewFileKV(dataDir)
	if err != nil {
		return nil, err
	}
	completer, err := app.NewCompleter(app.GeneratorConfig{
		Provider: provider,
		BaseURL:  baseURL,
		APIKey:   defaultAPIKey(),
		Model:    model,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	a, err := app.New(app.Config{
		Notes:     store.NewKVNoteRepository(kv),
		Usage:     store.NewKVUsageRepository(kv),
		Users:     store.NewKVUserStore(kv),
		Completer: completer,
	})
	if err != nil {
		return nil, err
	}
	if _, err := a.StartSession(ctx, domain.User{ID: localUserID, Name: "Local user", Plan: p}); err != nil {
		return nil, err
	}
	return a, nil
}
