package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("PORT", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("SUPABASE_POLL_INTERVAL", "")

	cfg := LoadConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.SupabasePollInterval)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigTrimsWhitespace(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "  postgres://localhost/test \n")
	t.Setenv("GOOGLE_CLIENT_ID", " client-id ")

	cfg := LoadConfig()

	assert.Equal(t, "postgres://localhost/test", cfg.PostgresDSN)
	assert.Equal(t, "client-id", cfg.GoogleClientID)
}

func TestLoadConfigAllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")

	cfg := LoadConfig()

	require.Len(t, cfg.AllowedOrigins, 2)
	assert.Equal(t, "https://app.example.com", cfg.AllowedOrigins[0])
}

func TestLoadConfigPollInterval(t *testing.T) {
	t.Setenv("SUPABASE_POLL_INTERVAL", "3s")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")

	cfg := LoadConfig()
	assert.Equal(t, 3*time.Second, cfg.SupabasePollInterval)
}

func TestLoadConfigProductionDisablesDebug(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DEBUG", "true")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")

	cfg := LoadConfig()

	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.Debug)
}

func TestValidateRequiresDatabase(t *testing.T) {
	cfg := &Config{
		Environment: "development",
		Port:        "3000",
		JWTSecret:   "secret",
	}

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateAcceptsPostgres(t *testing.T) {
	cfg := &Config{
		Environment: "development",
		Port:        "3000",
		JWTSecret:   "secret",
		PostgresDSN: "postgres://localhost/test",
	}

	require.NoError(t, cfg.Validate())
}

func TestValidateAcceptsSupabase(t *testing.T) {
	cfg := &Config{
		Environment: "development",
		Port:        "3000",
		JWTSecret:   "secret",
		SupabaseURL: "https://proj.supabase.co",
		SupabaseKey: "service-key",
	}

	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsDefaultJWTSecretInProduction(t *testing.T) {
	cfg := &Config{
		Environment: "production",
		Port:        "3000",
		JWTSecret:   "your-secret-key-change-in-production",
		PostgresDSN: "postgres://localhost/test",
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}
