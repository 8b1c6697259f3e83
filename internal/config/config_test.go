package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.Production())
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Empty(t, cfg.MQTTBroker)
	assert.Equal(t, 20, cfg.RouteCacheSize)
	assert.Equal(t, 3, cfg.AdmissionRetries)
	assert.Equal(t, 15*time.Minute, cfg.JWTAccessExpiry)
	assert.Equal(t, 168*time.Hour, cfg.JWTRefreshExpiry)
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestProductionRejectsShortSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dispatch?sslmode=require")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 characters")
}

func TestProductionRejectsWeakSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	// Long enough but on the blocklist.
	t.Setenv("JWT_SECRET", "change-me-in-production")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dispatch?sslmode=require")

	_, err := Load()
	require.Error(t, err)
}

func TestProductionRejectsDisabledSSL(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "a-long-and-random-production-secret-value")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dispatch?sslmode=disable")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sslmode")
}

func TestProductionRejectsWildcardCORS(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "a-long-and-random-production-secret-value")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dispatch?sslmode=require")
	t.Setenv("CORS_ORIGINS", "*")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS")
}

func TestProductionAcceptsHardenedConfig(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "a-long-and-random-production-secret-value")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dispatch?sslmode=require")
	t.Setenv("CORS_ORIGINS", "https://fleet.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Production())
	assert.Equal(t, []string{"https://fleet.example.com"}, cfg.CORSOrigins)
}

func TestSplitListTrimsAndDropsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a , b ,, "))
	assert.Nil(t, splitList(""))
}
