package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"appraise/internal/idtoken"
	"appraise/internal/ratelimit"
	"appraise/internal/util"
	"appraise/pkg/storage"
	"appraise/pkg/store"
	"appraise/services/portfolio/internal/app"
	"appraise/services/portfolio/internal/config"
	"appraise/services/portfolio/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	generationTimeout, _ := config.ParseDuration("generationTimeout", cfg.GenerationTimeout)
	jwtLeeway, _ := config.ParseDuration("jwtLeeway", cfg.JWTLeeway)
	sessionTTL, _ := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	exportExpiry, _ := config.ParseDuration("exportLinkExpiry", cfg.ExportLinkExpiry)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	stores, err := openStores(ctx, cfg, redisClient)
	if err != nil {
		util.Fatal("failed to init storage", "backend", cfg.StorageBackend, "err", err)
	}

	completer, err := app.NewCompleter(app.GeneratorConfig{
		Provider: cfg.GenerationProvider,
		BaseURL:  cfg.GenerationBaseURL,
		APIKey:   cfg.GenerationAPIKey,
		Model:    cfg.GenerationModel,
		Timeout:  generationTimeout,
	})
	if err != nil {
		util.Fatal("failed to init generator", "err", err)
	}
	if cfg.GenerationAPIKey == "" && cfg.GenerationProvider != config.ProviderOllama {
		slog.Warn("no default generation api key configured; users must set their own")
	}

	var exporter *storage.Exporter
	if cfg.MinioEndpoint != "" {
		objects, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			util.Fatal("failed to init object storage", "err", err)
		}
		exporter = storage.NewExporter(objects, exportExpiry)
	}

	appCore, err := app.New(app.Config{
		Notes:     stores.notes,
		Usage:     stores.usage,
		Users:     stores.users,
		Completer: completer,
		Exporter:  exporter,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if redisClient != nil {
		revoker = store.NewRedisTokenRevoker(redisClient, sessionTTL)
	}
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		util.Fatal("failed to init session store", "err", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy list", "err", err)
	}
	var limiter *ratelimit.FixedWindowLimiter
	if cfg.GenerateRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "appraise:ratelimit:generate", cfg.GenerateRateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
	}

	var idTokens *idtoken.Verifier
	if cfg.IDTokenLoginEnabled() {
		idTokens, err = idtoken.NewVerifier(idtoken.Config{
			FirebaseProjectID: cfg.FirebaseProjectID,
			JWKSURL:           cfg.IDTokenJWKSURL,
			Issuer:            cfg.IDTokenIssuer,
			Audience:          cfg.IDTokenAudience,
			Leeway:            jwtLeeway,
		})
		if err != nil {
			util.Fatal("failed to init id token verifier", "err", err)
		}
	}

	httpServer := server.New(server.Config{
		App:             appCore,
		Sessions:        sessions,
		SessionTTL:      sessionTTL,
		AllowedOrigins:  cfg.AllowedOrigins,
		GenerateLimiter: limiter,
		TrustedProxies:  trusted,
		IDTokens:        idTokens,
		DevLogin:        cfg.DevLogin,
		ProvisionToken:  cfg.ProvisionToken,
	})

	// generation calls can take as long as the provider timeout
	var writeTimeout time.Duration
	if generationTimeout > 0 {
		writeTimeout = generationTimeout + 15*time.Second
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("portfolio server listening", "addr", addr, "storage", cfg.StorageBackend, "provider", cfg.GenerationProvider, "dev_login", cfg.DevLogin)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("portfolio server stopped")
}

type storeSet struct {
	notes store.NoteRepository
	usage store.UsageRepository
	users store.UserStore
}

func openStores(ctx context.Context, cfg config.FileConfig, redisClient *redis.Client) (storeSet, error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		db, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return storeSet{}, err
		}
		return storeSet{notes: db, usage: db, users: db}, nil
	case config.StorageRedis:
		kv := store.NewRedisKVWithClient(redisClient, "")
		if err := kv.Ping(ctx); err != nil {
			return storeSet{}, fmt.Errorf("redis ping: %w", err)
		}
		return kvStores(kv), nil
	default:
		slog.Warn("using in-memory storage; notes are lost on restart")
		return kvStores(store.NewMemoryKV()), nil
	}
}

func kvStores(kv store.KV) storeSet {
	return storeSet{
		notes: store.NewKVNoteRepository(kv),
		usage: store.NewKVUsageRepository(kv),
		users: store.NewKVUserStore(kv),
	}
}
