package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, DefaultTokenTTL, cfg.TokenTTLHours)
	assert.Equal(t, DefaultRateLimit, cfg.RateLimitRPM)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.StripeEnabled())
}

func TestValidate_RequiresJWTSecret(t *testing.T) {
	cfg := &Config{TokenTTLHours: 24}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.JWTSecret = "too-short"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32")
}

func TestValidate_ProductionRequiresStripe(t *testing.T) {
	cfg := &Config{
		Env:           "production",
		JWTSecret:     testSecret,
		TokenTTLHours: 24,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")

	cfg.StripeSecretKey = "sk_test_123"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")

	cfg.StripeWebhookSecret = "whsec_123"
	require.NoError(t, cfg.Validate())
}
