package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-wallet/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"HTTP_ADDR", "DB_DRIVER", "DATABASE_URL", "OPENING_BALANCE", "CHARGE_TIMEOUT",
		"RECONCILE_INTERVAL", "IDEMPOTENCY_TTL", "CURRENCY", "GATEWAY_URL", "REDIS_DB", "MOCK_GATEWAY_SUCCESS_RATE"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, domain.MustParseAmount("15.00"), cfg.OpeningBalance)
	assert.Equal(t, 10*time.Second, cfg.ChargeTimeout)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Empty(t, cfg.GatewayURL)
	assert.InDelta(t, 0.9, cfg.MockGatewaySuccess, 1e-9)
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "wallet.db")
	t.Setenv("OPENING_BALANCE", "0")
	t.Setenv("CHARGE_TIMEOUT", "2s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CURRENCY", "eur")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "wallet.db", cfg.DatabaseURL)
	assert.Equal(t, domain.Amount(0), cfg.OpeningBalance)
	assert.Equal(t, 2*time.Second, cfg.ChargeTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "EUR", cfg.Currency)
}

func TestLoadRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENING_BALANCE", "1.001")
	_, err := Load()
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	t.Setenv("OPENING_BALANCE", "15.00")
	t.Setenv("DB_DRIVER", "mysql")
	_, err = Load()
	require.Error(t, err)
}
