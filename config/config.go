package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config is the resolved process configuration. It is read once from the
// environment (and .env) and cached.
type Config struct {
	DatabaseURL string `validate:"required"`

	TenantPoolMax         int           `validate:"min=1"`
	TenantConnectionLimit int           `validate:"min=1"`
	TenantPoolTimeout     time.Duration `validate:"gt=0"`
	PublicConnectionLimit int           `validate:"min=1"`
	PublicPoolTimeout     time.Duration `validate:"gt=0"`
	TxMaxWait             time.Duration `validate:"gt=0"`
	TxTimeout             time.Duration `validate:"gt=0"`

	SyncBaseInterval    time.Duration `validate:"gt=0"`
	SyncMaxBackoff      time.Duration `validate:"gtefield=SyncBaseInterval"`
	SyncAPIBaseURL      string        `validate:"omitempty,url"`
	SyncAPIKey          string
	SyncAPIKeyHeader    string `validate:"required"`
	SyncRateLimitPerMin int    `validate:"min=1"`

	OutboxTransport       string `validate:"oneof=http pubsub"`
	PubSubProjectID       string `validate:"required_if=OutboxTransport pubsub"`
	PubSubCredentialsJSON string
	OutboxTopic           string `validate:"required_if=OutboxTransport pubsub"`

	SessionTTL               time.Duration `validate:"gt=0"`
	OfflineCredentialTTL     time.Duration `validate:"gt=0"`
	OfflineMaxFailedAttempts int           `validate:"min=0"`
	APISecret                string        `validate:"required"`

	RedisAddress string
	Port         string
	LogLevel     string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFile      string
}

var (
	loadOnce  sync.Once
	loaded    *Config
	loadErr   error
	validate  = validator.New()
	envLoaded sync.Once
)

// Load resolves the configuration once per process.
func Load() (*Config, error) {
	loadOnce.Do(func() {
		loaded, loadErr = FromEnv()
	})
	return loaded, loadErr
}

// FromEnv reads and validates a fresh Config. Prefer Load outside of tests.
func FromEnv() (*Config, error) {
	envLoaded.Do(func() {
		// Missing .env is fine; real env vars win.
		_ = godotenv.Load()
	})

	cfg := &Config{
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		TenantPoolMax:         intFromEnv("TENANT_POOL_MAX", 10),
		TenantConnectionLimit: intFromEnv("TENANT_CONNECTION_LIMIT", 5),
		TenantPoolTimeout:     secondsFromEnv("TENANT_POOL_TIMEOUT_SECONDS", 10),
		PublicConnectionLimit: intFromEnv("PUBLIC_CONNECTION_LIMIT", 10),
		PublicPoolTimeout:     secondsFromEnv("PUBLIC_POOL_TIMEOUT_SECONDS", 10),
		TxMaxWait:             millisFromEnv("TX_MAX_WAIT_MS", 2000),
		TxTimeout:             millisFromEnv("TX_TIMEOUT_MS", 5000),

		SyncBaseInterval:    millisFromEnv("SYNC_BASE_INTERVAL_MS", 10000),
		SyncMaxBackoff:      millisFromEnv("SYNC_MAX_BACKOFF_MS", 300000),
		SyncAPIBaseURL:      strings.TrimRight(strings.TrimSpace(os.Getenv("SYNC_API_BASE_URL")), "/"),
		SyncAPIKey:          strings.TrimSpace(os.Getenv("SYNC_API_KEY")),
		SyncAPIKeyHeader:    stringFromEnv("SYNC_API_KEY_HEADER", "X-API-Key"),
		SyncRateLimitPerMin: intFromEnv("SYNC_RATE_LIMIT_PER_MIN", 120),

		OutboxTransport:       strings.ToLower(stringFromEnv("OUTBOX_TRANSPORT", "http")),
		PubSubProjectID:       pubSubProjectID(),
		PubSubCredentialsJSON: os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		OutboxTopic:           stringFromEnv("OUTBOX_TOPIC", "pos-outbox"),

		SessionTTL:               time.Duration(intFromEnv("SESSION_TTL_HOURS", 24)) * time.Hour,
		OfflineCredentialTTL:     time.Duration(intFromEnv("OFFLINE_CREDENTIAL_TTL_HOURS", 168)) * time.Hour,
		OfflineMaxFailedAttempts: intFromEnv("OFFLINE_MAX_FAILED_ATTEMPTS", 0),
		APISecret:                stringFromEnv("API_SECRET", "pos-sync-secret"),

		RedisAddress: strings.TrimSpace(os.Getenv("REDIS_ADDRESS")),
		Port:         stringFromEnv("PORT", "8080"),
		LogLevel:     strings.ToLower(stringFromEnv("LOG_LEVEL", "info")),
		LogFile:      strings.TrimSpace(os.Getenv("LOG_FILE")),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// TenantConnection returns the pool parameters for schema-scoped clients.
func (c *Config) TenantConnection() ConnectionOptions {
	return ConnectionOptions{
		ConnectionLimit: c.TenantConnectionLimit,
		PoolTimeout:     c.TenantPoolTimeout,
		TxMaxWait:       c.TxMaxWait,
		TxTimeout:       c.TxTimeout,
	}
}

// PublicConnection returns the pool parameters for the shared public client.
func (c *Config) PublicConnection() ConnectionOptions {
	return ConnectionOptions{
		ConnectionLimit: c.PublicConnectionLimit,
		PoolTimeout:     c.PublicPoolTimeout,
		TxMaxWait:       c.TxMaxWait,
		TxTimeout:       c.TxTimeout,
	}
}

func pubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func millisFromEnv(key string, def int) time.Duration {
	return time.Duration(intFromEnv(key, def)) * time.Millisecond
}

func secondsFromEnv(key string, def int) time.Duration {
	return time.Duration(intFromEnv(key, def)) * time.Second
}

// EnvBoolDefault parses common truthy/falsy spellings.
func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}
