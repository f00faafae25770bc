package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://u:p@db:3306/app")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.TenantPoolMax)
	assert.Equal(t, 5, cfg.TenantConnectionLimit)
	assert.Equal(t, 10*time.Second, cfg.SyncBaseInterval)
	assert.Equal(t, 300*time.Second, cfg.SyncMaxBackoff)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 168*time.Hour, cfg.OfflineCredentialTTL)
	assert.Equal(t, 0, cfg.OfflineMaxFailedAttempts)
	assert.Equal(t, "http", cfg.OutboxTransport)
	assert.Equal(t, "X-API-Key", cfg.SyncAPIKeyHeader)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://u:p@db:3306/app")
	t.Setenv("TENANT_POOL_MAX", "2")
	t.Setenv("SYNC_BASE_INTERVAL_MS", "500")
	t.Setenv("SYNC_MAX_BACKOFF_MS", "4000")
	t.Setenv("OFFLINE_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("TX_MAX_WAIT_MS", "750")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.TenantPoolMax)
	assert.Equal(t, 500*time.Millisecond, cfg.SyncBaseInterval)
	assert.Equal(t, 4*time.Second, cfg.SyncMaxBackoff)
	assert.Equal(t, 3, cfg.OfflineMaxFailedAttempts)
	assert.Equal(t, 750*time.Millisecond, cfg.TenantConnection().TxMaxWait)
}

func TestFromEnvValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing database url", map[string]string{"DATABASE_URL": ""}},
		{"backoff below base", map[string]string{"SYNC_BASE_INTERVAL_MS": "5000", "SYNC_MAX_BACKOFF_MS": "1000"}},
		{"unknown transport", map[string]string{"OUTBOX_TRANSPORT": "kafka"}},
		{"pubsub without topic", map[string]string{"OUTBOX_TRANSPORT": "pubsub", "PUBSUB_PROJECT_ID": "", "GOOGLE_CLOUD_PROJECT": "", "GCP_PROJECT": ""}},
		{"zero pool", map[string]string{"TENANT_POOL_MAX": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "mysql://u:p@db:3306/app")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestEnvBoolDefault(t *testing.T) {
	t.Setenv("SOME_FLAG", "off")
	assert.False(t, EnvBoolDefault("SOME_FLAG", true))
	t.Setenv("SOME_FLAG", "Yes")
	assert.True(t, EnvBoolDefault("SOME_FLAG", false))
	t.Setenv("SOME_FLAG", "maybe")
	assert.True(t, EnvBoolDefault("SOME_FLAG", true))
}
