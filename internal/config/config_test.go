package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgresql://root@localhost:26257/gigster?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.PurchaseTimeout)
	assert.Equal(t, 5, cfg.PurchaseMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.AvailabilityTTL)
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL)
	assert.False(t, cfg.Migrate)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgresql://root@db:26257/gigster")
	t.Setenv("PURCHASE_TIMEOUT", "750ms")
	t.Setenv("PURCHASE_MAX_ATTEMPTS", "8")
	t.Setenv("MIGRATE", "true")
	t.Setenv("RATE_LIMIT_USER", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.PurchaseTimeout)
	assert.Equal(t, 8, cfg.PurchaseMaxAttempts)
	assert.True(t, cfg.Migrate)
	assert.Equal(t, 3, cfg.UserRateLimit)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgresql://root@db:26257/gigster")
	t.Setenv("PURCHASE_TIMEOUT", "soon")
	t.Setenv("PURCHASE_MAX_ATTEMPTS", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PurchaseTimeout)
	assert.Equal(t, 5, cfg.PurchaseMaxAttempts)
}

func TestLoad_RequiresDSN(t *testing.T) {
	t.Setenv("DATABASE_DSN", "")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_DSN")
}

func TestValidate_RejectsNonPositive(t *testing.T) {
	cfg := &Config{DatabaseDSN: "x", PurchaseTimeout: time.Second, PurchaseMaxAttempts: 0, OutboxBatchSize: 1}
	assert.Error(t, cfg.Validate())

	cfg.PurchaseMaxAttempts = 1
	cfg.PurchaseTimeout = 0
	assert.Error(t, cfg.Validate())
}
