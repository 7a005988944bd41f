package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

// Config is built once in main and handed to constructors. Nothing reads the
// environment after Load returns.
type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTSecret    string
	OTLPEndpoint string

	PaddleEnvironment   string
	PaddleClientToken   string
	PaddleWebhookSecret string
	// WebhookTolerance rejects signatures older than this. Zero disables the check.
	WebhookTolerance time.Duration
	WebhookTimeout   time.Duration
	MaxWebhookBytes  int64

	IdempotencyTTL   time.Duration
	RateLimitPerUser int
	RateLimitPerIP   int
	OutboxInterval   time.Duration
	OutboxBatch      int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		CRDBDSN:             os.Getenv("CRDB_DSN"),
		MongoURI:            os.Getenv("MONGO_URI"),
		MongoDB:             getEnv("MONGO_DB", "tickets"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RabbitURL:           os.Getenv("RABBIT_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		PaddleEnvironment:   getEnv("PADDLE_ENVIRONMENT", "sandbox"),
		PaddleClientToken:   os.Getenv("PADDLE_CLIENT_TOKEN"),
		PaddleWebhookSecret: os.Getenv("PADDLE_WEBHOOK_SECRET"),
	}

	var err error
	if cfg.WebhookTolerance, err = durationEnv("WEBHOOK_TOLERANCE", 0); err != nil {
		return nil, err
	}
	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = durationEnv("OUTBOX_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxWebhookBytes, err = int64Env("MAX_WEBHOOK_BYTES", 1<<20); err != nil {
		return nil, err
	}
	perUser, err := int64Env("RATE_LIMIT_PER_USER", 10)
	if err != nil {
		return nil, err
	}
	perIP, err := int64Env("RATE_LIMIT_PER_IP", 100)
	if err != nil {
		return nil, err
	}
	batch, err := int64Env("OUTBOX_BATCH", 10)
	if err != nil {
		return nil, err
	}
	cfg.RateLimitPerUser, cfg.RateLimitPerIP, cfg.OutboxBatch = int(perUser), int(perIP), int(batch)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks what every binary needs. The API server also calls ValidateAPI.
func (c *Config) Validate() error {
	if c.CRDBDSN == "" {
		return errors.New("CRDB_DSN is required")
	}
	if c.WebhookTimeout <= 0 {
		return errors.New("WEBHOOK_TIMEOUT must be positive")
	}
	if c.OutboxInterval <= 0 {
		return errors.New("OUTBOX_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) ValidateAPI() error {
	if c.PaddleWebhookSecret == "" {
		return errors.New("PADDLE_WEBHOOK_SECRET is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return n, nil
}
