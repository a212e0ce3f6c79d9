// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Auth
	JWTSecret        string
	TokenTTLHours    int
	GoogleClientID   string // OAuth client IDs are passed through to the exchange collaborator
	LinkedInClientID string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string
	ClientURL           string // Frontend base URL for checkout redirect targets

	// Enrichment providers
	ApolloAPIURL string
	ApolloAPIKey string
	HunterAPIURL string
	HunterAPIKey string

	// Observability
	OTLPEndpoint string

	// Rate limiting
	RateLimitRPM int
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultTokenTTL     = 24
	DefaultClientURL    = "http://localhost:3000"
	DefaultApolloAPIURL = "https://api.apollo.io/v1/people/match"
	DefaultHunterAPIURL = "https://api.hunter.io/v2/email-finder"
	DefaultRateLimit    = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:         os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		JWTSecret:           os.Getenv("JWT_SECRET"),   // Required
		TokenTTLHours:       getEnvInt("TOKEN_TTL_HOURS", DefaultTokenTTL),
		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		LinkedInClientID:    os.Getenv("LINKEDIN_CLIENT_ID"),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ClientURL:           getEnv("CLIENT_URL", DefaultClientURL),
		ApolloAPIURL:        getEnv("APOLLO_API_URL", DefaultApolloAPIURL),
		ApolloAPIKey:        os.Getenv("APOLLO_API_KEY"),
		HunterAPIURL:        getEnv("HUNTER_API_URL", DefaultHunterAPIURL),
		HunterAPIKey:        os.Getenv("HUNTER_API_KEY"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM:        getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}

	// Stripe is optional in development (billing endpoints disabled without it),
	// required in production.
	if c.IsProduction() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StripeEnabled reports whether billing endpoints should be wired.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
