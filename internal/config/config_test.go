package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("JWT_SECRET", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 10, cfg.LowStockThreshold)
	assert.False(t, cfg.AllowNegativeStock)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Empty(t, cfg.KafkaBrokers)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("LOW_STOCK_THRESHOLD", "3")
	t.Setenv("ALLOW_NEGATIVE_STOCK", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3, cfg.LowStockThreshold)
	assert.True(t, cfg.AllowNegativeStock)
}

func TestFromEnvRequiresSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("TOKEN_TTL", "soon")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9191\nAPP_ENV=development\n"), 0o600))
	t.Setenv("APP_ENV", "development")
	t.Setenv("HTTP_PORT", "")
	os.Unsetenv("HTTP_PORT")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9191", cfg.HTTPPort)
}

func TestLoadMissingFileIsFine(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestFromEnvBootstrapAdminNeedsPassword(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("BOOTSTRAP_ADMIN_EMAIL", "root@rxledger.io")
	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("BOOTSTRAP_ADMIN_PASSWORD", "change-me-now")
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "root@rxledger.io", cfg.AdminEmail)
}
