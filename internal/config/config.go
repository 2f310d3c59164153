// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Store
	RedisURL string // Redis connection URL (optional, uses in-memory if not set)

	// Reply texts
	SecretText   string // The shared secret sent to whitelisted senders
	HelpText     string
	FallbackText string

	// Gating
	GateKeyword     string // Required keyword in unknown-sender messages (optional)
	RejoinByKeyword bool   // Gate keyword clears an existing opt-out

	// Throttling
	CooldownSeconds             int
	SenderDailyCap              int64
	GlobalDailyCap              int64
	GlobalCapIncludesWhitelist  bool
	Timezone                    string // Reference zone for the local-day boundary

	// Abuse guard
	BurstWindowSeconds     int
	BurstLimit             int64
	FloodWindowSeconds     int
	FloodThreshold         int64
	DefenseDurationSeconds int
	MaxBodyLength          int
	URLPattern             string
	SuspectThreshold       int64
	PhonePattern           string // Country/format validation pattern ("" = NANP default)

	// Security
	WebhookAuthToken string // Twilio auth token for signature verification (optional)
	PublicURL        string // Externally visible base URL, needed for signature checks
	AdminSecret      string // Admin API secret
}

// Defaults
const (
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultHelpText        = "This number replies with the gate code to approved guests. Text STOP to opt out."
	DefaultFallbackText    = "Sorry, this number isn't on the guest list."
	DefaultCooldown        = 180
	DefaultSenderDailyCap  = 3
	DefaultGlobalDailyCap  = 2000
	DefaultBurstWindow     = 60
	DefaultBurstLimit      = 5
	DefaultFloodWindow     = 300
	DefaultFloodThreshold  = 20
	DefaultDefenseDuration = 3600
	DefaultMaxBodyLength   = 160
	DefaultURLPattern      = `(?i)https?://|www\.`
	DefaultSuspectLimit    = 5
	DefaultTimezone        = "America/New_York"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", DefaultPort),
		Env:      getEnv("ENV", DefaultEnv),
		LogLevel: getEnv("LOG_LEVEL", DefaultLogLevel),

		RedisURL: os.Getenv("REDIS_URL"), // Optional, uses in-memory if not set

		SecretText:   os.Getenv("SECRET_TEXT"), // Required, no default
		HelpText:     getEnv("HELP_TEXT", DefaultHelpText),
		FallbackText: getEnv("FALLBACK_TEXT", DefaultFallbackText),

		GateKeyword:     os.Getenv("GATE_KEYWORD"),
		RejoinByKeyword: getEnvBool("REJOIN_BY_KEYWORD", true),

		CooldownSeconds:            int(getEnvInt64("COOLDOWN_SECONDS", DefaultCooldown)),
		SenderDailyCap:             getEnvInt64("SENDER_DAILY_CAP", DefaultSenderDailyCap),
		GlobalDailyCap:             getEnvInt64("GLOBAL_DAILY_CAP", DefaultGlobalDailyCap),
		GlobalCapIncludesWhitelist: getEnvBool("GLOBAL_CAP_INCLUDES_WHITELIST", false),
		Timezone:                   getEnv("TIMEZONE", DefaultTimezone),

		BurstWindowSeconds:     int(getEnvInt64("BURST_WINDOW_SECONDS", DefaultBurstWindow)),
		BurstLimit:             getEnvInt64("BURST_LIMIT", DefaultBurstLimit),
		FloodWindowSeconds:     int(getEnvInt64("FLOOD_WINDOW_SECONDS", DefaultFloodWindow)),
		FloodThreshold:         getEnvInt64("FLOOD_THRESHOLD", DefaultFloodThreshold),
		DefenseDurationSeconds: int(getEnvInt64("DEFENSE_DURATION_SECONDS", DefaultDefenseDuration)),
		MaxBodyLength:          int(getEnvInt64("MAX_BODY_LENGTH", DefaultMaxBodyLength)),
		URLPattern:             getEnv("URL_PATTERN", DefaultURLPattern),
		SuspectThreshold:       getEnvInt64("SUSPECT_THRESHOLD", DefaultSuspectLimit),
		PhonePattern:           os.Getenv("PHONE_PATTERN"),

		WebhookAuthToken: os.Getenv("WEBHOOK_AUTH_TOKEN"),
		PublicURL:        os.Getenv("PUBLIC_URL"),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.SecretText == "" {
		return fmt.Errorf("SECRET_TEXT is required")
	}
	if c.WebhookAuthToken != "" && c.PublicURL == "" {
		return fmt.Errorf("PUBLIC_URL is required when WEBHOOK_AUTH_TOKEN is set")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is invalid: %w", c.Timezone, err)
	}
	if c.SenderDailyCap <= 0 || c.GlobalDailyCap <= 0 {
		return fmt.Errorf("daily caps must be positive")
	}
	if c.BurstLimit <= 0 || c.BurstWindowSeconds <= 0 {
		return fmt.Errorf("burst window and limit must be positive")
	}
	return nil
}

// Cooldown returns the per-sender cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// BurstWindow returns the burst bucket width as a duration.
func (c *Config) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowSeconds) * time.Second
}

// FloodWindow returns the flood window as a duration.
func (c *Config) FloodWindow() time.Duration {
	return time.Duration(c.FloodWindowSeconds) * time.Second
}

// DefenseDuration returns the defensive-mode TTL as a duration.
func (c *Config) DefenseDuration() time.Duration {
	return time.Duration(c.DefenseDurationSeconds) * time.Second
}

// Location returns the reference timezone for day boundaries.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
