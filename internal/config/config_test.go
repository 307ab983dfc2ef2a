package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, DefaultMonitorBatchSize, cfg.MonitorBatchSize)
	assert.Equal(t, DefaultLockWaitTimeout, cfg.LockWaitTimeout)
	assert.Equal(t, DefaultSLAResponseWindow, cfg.SLAResponseWindow)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_ProductionRequiresStripeKey(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("STRIPE_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
}

func TestLoad_StripeKeyRequiresPlatformAccount(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")
	t.Setenv("STRIPE_PLATFORM_ACCOUNT", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_PLATFORM_ACCOUNT")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("STRIPE_SECRET_KEY", "sk_live_abc")
	t.Setenv("STRIPE_PLATFORM_ACCOUNT", "acct_platform")
	t.Setenv("PORT", "9090")
	t.Setenv("LOCK_WAIT_TIMEOUT", "2s")
	t.Setenv("SLA_MONITOR_BATCH", "50")
	t.Setenv("SLA_RESPONSE_WINDOW", "24h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.LockWaitTimeout)
	assert.Equal(t, 50, cfg.MonitorBatchSize)
	assert.Equal(t, 24*time.Hour, cfg.SLAResponseWindow)
	assert.True(t, cfg.IsProduction())
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("LOCK_WAIT_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultLockWaitTimeout, cfg.LockWaitTimeout)
}
