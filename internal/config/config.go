package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends for the durable session record.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

type Config struct {
	Environment string

	API     APIConfig
	Store   StoreConfig
	Logging LoggingConfig

	// ReferralLinkBase is the public base URL referral links are built on.
	ReferralLinkBase string
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type StoreConfig struct {
	Backend string

	// File backend
	Path       string
	Passphrase string // non-empty enables encryption at rest

	// SQLite backend
	DBPath  string
	Profile string

	// Redis backend
	RedisURL  string
	Namespace string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, with a .env overlay when
// present. Missing optional values fall back to defaults; a missing API base
// URL is an error.
func Load() (*Config, error) {
	// .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:      getEnv("REFERRAL_ENV", "development"),
		ReferralLinkBase: getEnv("REFERRAL_LINK_BASE", "https://optisage.com/ref"),
		API: APIConfig{
			BaseURL: getEnv("REFERRAL_API_BASE_URL", "https://api-staging.optisage.ai/api/referral-system"),
			Timeout: getDuration("REFERRAL_API_TIMEOUT", 30*time.Second),
		},
		Store: StoreConfig{
			Backend:    getEnv("REFERRAL_STORE_BACKEND", StoreFile),
			Path:       getEnv("REFERRAL_STORE_PATH", defaultStorePath()),
			Passphrase: os.Getenv("REFERRAL_STORE_PASSPHRASE"),
			DBPath:     getEnv("REFERRAL_STORE_DB_PATH", defaultDBPath()),
			Profile:    getEnv("REFERRAL_PROFILE", "default"),
			RedisURL:   getEnv("REFERRAL_REDIS_URL", "redis://localhost:6379/0"),
			Namespace:  getEnv("REFERRAL_STORE_NAMESPACE", "referral"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("REFERRAL_LOG_LEVEL", "info"),
			Format: getEnv("REFERRAL_LOG_FORMAT", "console"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("REFERRAL_API_BASE_URL must not be empty")
	}
	switch c.Store.Backend {
	case StoreFile, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive, got %s", c.API.Timeout)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are taken as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func defaultStorePath() string {
	return filepath.Join(configDir(), "session.json")
}

func defaultDBPath() string {
	return filepath.Join(configDir(), "referral.db")
}

func configDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "referral-client")
	}
	return "."
}
