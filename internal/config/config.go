package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// Supabase
	SupabaseURL            string `env:"SUPABASE_URL"`
	SupabaseServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseJWTSecret      string `env:"SUPABASE_JWT_SECRET"`
	SupabaseStorageBucket  string `env:"SUPABASE_STORAGE_BUCKET" envDefault:"assets"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis (optional, enables shared rate limits)
	RedisURL string `env:"REDIS_URL"`

	// Generation gateway
	GenerationAPIBaseURL        string        `env:"GENERATION_API_BASE_URL"`
	GenerationAPIKey            string        `env:"GENERATION_API_KEY"`
	GenerationRequestsPerSecond float64       `env:"GENERATION_REQUESTS_PER_SECOND" envDefault:"2"`
	GenerationPollInterval      time.Duration `env:"GENERATION_POLL_INTERVAL" envDefault:"10s"`
	GenerationJobTimeout        time.Duration `env:"GENERATION_JOB_TIMEOUT" envDefault:"20m"`

	// Stripe
	StripeSecretKey      string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret  string `env:"STRIPE_WEBHOOK_SECRET"`
	StripePremiumPriceID string `env:"STRIPE_PREMIUM_PRICE_ID"`
	BillingSuccessURL    string `env:"BILLING_SUCCESS_URL"`
	BillingCancelURL     string `env:"BILLING_CANCEL_URL"`

	// Cache
	CacheMaxEntries      int           `env:"CACHE_MAX_ENTRIES" envDefault:"1000"`
	CacheDefaultTTL      time.Duration `env:"CACHE_DEFAULT_TTL" envDefault:"5m"`
	CacheCleanupInterval time.Duration `env:"CACHE_CLEANUP_INTERVAL" envDefault:"1m"`

	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	AuditMaxAttempts int  `env:"AUDIT_MAX_ATTEMPTS" envDefault:"3"`

	// Server
	Port               string        `env:"PORT" envDefault:"8080"`
	Environment        string        `env:"ENVIRONMENT" envDefault:"development"`
	BaseURL            string        `env:"BASE_URL" envDefault:"http://localhost:8080"`
	LogLevel           string        `env:"LOG_LEVEL" envDefault:"info"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
	MaxMultipartMemory int64         `env:"MAX_MULTIPART_MEMORY" envDefault:"33554432"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}
	return parse(env.Options{})
}

// LoadFrom builds a Config from vars only, ignoring the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	switch c.Environment {
	case "development", "staging", "production":
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Environment)
	}
	if port, err := strconv.Atoi(c.Port); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("PORT must be a port number, got %q", c.Port)
	}
	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be positive")
	}
	if c.AuditMaxAttempts < 1 {
		return fmt.Errorf("AUDIT_MAX_ATTEMPTS must be at least 1")
	}
	if c.GenerationRequestsPerSecond <= 0 {
		return fmt.Errorf("GENERATION_REQUESTS_PER_SECOND must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// BillingEnabled reports whether Stripe checkout and webhooks are configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != "" && c.StripePremiumPriceID != ""
}

// GenerationEnabled reports whether a generation gateway is configured.
func (c *Config) GenerationEnabled() bool {
	return c.GenerationAPIBaseURL != ""
}
