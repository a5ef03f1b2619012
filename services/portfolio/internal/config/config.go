package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with APPRAISE_CONFIG.
const ConfigPath = "config.yaml"

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Generation providers.
const (
	ProviderNanoGPT = "nanogpt"
	ProviderOpenAI  = "openai-compat"
	ProviderGemini  = "gemini"
	ProviderOllama  = "ollama"
)

const minJWTSecretLen = 32

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	AllowedOrigins []string `yaml:"allowedOrigins"`

	StorageBackend string `yaml:"storageBackend"`
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	DatabaseURL    string `yaml:"databaseURL"`

	GenerationProvider string `yaml:"generationProvider"`
	GenerationBaseURL  string `yaml:"generationBaseURL"`
	GenerationAPIKey   string `yaml:"generationAPIKey"`
	GenerationModel    string `yaml:"generationModel"`
	GenerationTimeout  string `yaml:"generationTimeout"`

	JWTSecret      string `yaml:"jwtSecret"`
	JWTIssuer      string `yaml:"jwtIssuer"`
	JWTAudience    string `yaml:"jwtAudience"`
	JWTLeeway      string `yaml:"jwtLeeway"`
	SessionTTL     string `yaml:"sessionTTL"`
	DevLogin       bool   `yaml:"devLogin"`
	ProvisionToken string `yaml:"provisionToken"`

	FirebaseProjectID string `yaml:"firebaseProjectID"`
	IDTokenJWKSURL    string `yaml:"idTokenJwksURL"`
	IDTokenIssuer     string `yaml:"idTokenIssuer"`
	IDTokenAudience   string `yaml:"idTokenAudience"`

	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
	GenerateRateLimitPerMinute int      `yaml:"generateRateLimitPerMinute"`

	MinioEndpoint    string `yaml:"minioEndpoint"`
	MinioAccessKey   string `yaml:"minioAccessKey"`
	MinioSecretKey   string `yaml:"minioSecretKey"`
	MinioBucket      string `yaml:"minioBucket"`
	MinioRegion      string `yaml:"minioRegion"`
	MinioUseSSL      bool   `yaml:"minioUseSSL"`
	ExportLinkExpiry string `yaml:"exportLinkExpiry"`
}

// Load reads config from path (defaults to config.yaml), applies
// environment overrides and validates the result.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	if v := os.Getenv("APPRAISE_CONFIG"); v != "" {
		path = v
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(env string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
	setBool := func(env string, dst *bool) {
		if v := os.Getenv(env); v != "" {
			if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = b
			}
		}
	}

	setString("APPRAISE_PORT", &cfg.Port)
	setString("APPRAISE_LOG_LEVEL", &cfg.LogLevel)
	if v := os.Getenv("APPRAISE_ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	setString("APPRAISE_STORAGE_BACKEND", &cfg.StorageBackend)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)
	setString("DATABASE_URL", &cfg.DatabaseURL)

	setString("APPRAISE_GENERATION_PROVIDER", &cfg.GenerationProvider)
	setString("APPRAISE_GENERATION_BASE_URL", &cfg.GenerationBaseURL)
	setString("APPRAISE_GENERATION_MODEL", &cfg.GenerationModel)
	setString("APPRAISE_GENERATION_TIMEOUT", &cfg.GenerationTimeout)
	setString("APPRAISE_GENERATION_API_KEY", &cfg.GenerationAPIKey)
	switch strings.ToLower(cfg.GenerationProvider) {
	case ProviderGemini:
		setString("GEMINI_API_KEY", &cfg.GenerationAPIKey)
	case "", ProviderNanoGPT, ProviderOpenAI:
		setString("NANOGPT_API_KEY", &cfg.GenerationAPIKey)
	}

	setString("APPRAISE_JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("APPRAISE_SESSION_TTL", &cfg.SessionTTL)
	setBool("APPRAISE_DEV_LOGIN", &cfg.DevLogin)
	setString("APPRAISE_PROVISION_TOKEN", &cfg.ProvisionToken)
	setString("FIREBASE_PROJECT_ID", &cfg.FirebaseProjectID)
	setString("APPRAISE_ID_TOKEN_JWKS_URL", &cfg.IDTokenJWKSURL)
	setString("APPRAISE_ID_TOKEN_ISSUER", &cfg.IDTokenIssuer)
	setString("APPRAISE_ID_TOKEN_AUDIENCE", &cfg.IDTokenAudience)

	if v := os.Getenv("APPRAISE_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("APPRAISE_GENERATE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.GenerateRateLimitPerMinute = n
		}
	}

	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setString("MINIO_REGION", &cfg.MinioRegion)
	setBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	setString("APPRAISE_EXPORT_LINK_EXPIRY", &cfg.ExportLinkExpiry)
}

func applyDefaults(cfg *FileConfig) {
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageRedis
	}
	cfg.GenerationProvider = strings.ToLower(strings.TrimSpace(cfg.GenerationProvider))
	if cfg.GenerationProvider == "" {
		cfg.GenerationProvider = ProviderNanoGPT
	}
	if cfg.GenerationTimeout == "" {
		cfg.GenerationTimeout = "120s"
	}
	if cfg.SessionTTL == "" {
		cfg.SessionTTL = "24h"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.StorageBackend {
	case StorageMemory:
	case StorageRedis:
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for storageBackend redis")
		}
	case StoragePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for storageBackend postgres")
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q", cfg.StorageBackend)
	}
	switch cfg.GenerationProvider {
	case ProviderNanoGPT, ProviderOpenAI, ProviderGemini:
	case ProviderOllama:
		if strings.TrimSpace(cfg.GenerationModel) == "" {
			return errors.New("config: generationModel is required for the ollama provider")
		}
	default:
		return fmt.Errorf("config: unknown generationProvider %q", cfg.GenerationProvider)
	}
	if len(cfg.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("config: jwtSecret must be at least %d bytes (set in config.yaml or APPRAISE_JWT_SECRET)", minJWTSecretLen)
	}
	if cfg.FirebaseProjectID == "" && cfg.IDTokenJWKSURL != "" &&
		(strings.TrimSpace(cfg.IDTokenIssuer) == "" || strings.TrimSpace(cfg.IDTokenAudience) == "") {
		return errors.New("config: idTokenIssuer and idTokenAudience are required with idTokenJwksURL")
	}
	if cfg.GenerateRateLimitPerMinute < 0 {
		return errors.New("config: generateRateLimitPerMinute must be >= 0")
	}
	if cfg.GenerateRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	if cfg.MinioEndpoint != "" && strings.TrimSpace(cfg.MinioBucket) == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	for name, value := range map[string]string{
		"generationTimeout": cfg.GenerationTimeout,
		"jwtLeeway":         cfg.JWTLeeway,
		"sessionTTL":        cfg.SessionTTL,
		"exportLinkExpiry":  cfg.ExportLinkExpiry,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return err
		}
	}
	if ttl, _ := ParseDuration("sessionTTL", cfg.SessionTTL); ttl <= 0 {
		return errors.New("config: sessionTTL must be positive")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration setting; empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", name)
	}
	return dur, nil
}

// IDTokenLoginEnabled reports whether sign-in provider tokens are accepted.
func (c FileConfig) IDTokenLoginEnabled() bool {
	return c.FirebaseProjectID != "" || c.IDTokenJWKSURL != ""
}
