package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadForTest(t *testing.T) (*Config, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	return Load()
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")

	cfg, err := loadForTest(t)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 72, cfg.Tokens.DefaultExpirationHours)
	assert.Equal(t, 10, cfg.Tokens.DefaultMaxUses)
	assert.Equal(t, 24, cfg.Tokens.RefreshExtensionHours)
	assert.Equal(t, []string{"full"}, cfg.Tokens.NonRefreshableLevels)
	assert.Equal(t, 24, cfg.Escrow.DefaultTimeDelayHours)
	assert.Equal(t, 30, cfg.Escrow.RequestTTLDays)
	assert.Equal(t, 15, cfg.JWT.AssertionTTLMinutes)
	assert.Equal(t, "disclosure-engine", cfg.JWT.Issuer)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Monitoring.Enabled)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "")

	_, err := loadForTest(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret key")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "test-secret")
	t.Setenv("PORT", "9191")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := loadForTest(t)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}
