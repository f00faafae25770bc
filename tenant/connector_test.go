package tenant

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/config"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnector() *MySQLConnector {
	return &MySQLConnector{
		BaseURL: "mysql://app:pw@db:3306/pos_public",
		Tenant:  config.ConnectionOptions{ConnectionLimit: 5, PoolTimeout: 10 * time.Second, TxMaxWait: 2 * time.Second, TxTimeout: 5 * time.Second},
		Public:  config.ConnectionOptions{ConnectionLimit: 10, PoolTimeout: 20 * time.Second, TxMaxWait: time.Second, TxTimeout: 3 * time.Second},
	}
}

func TestMySQLConnectorResolvesTenantAndPublicIndependently(t *testing.T) {
	c := testConnector()

	tenant, err := c.resolve("shop_1")
	require.NoError(t, err)
	assert.Equal(t, 5, tenant.opts.ConnectionLimit)
	assert.Equal(t, 10*time.Second, tenant.opts.PoolTimeout)
	assert.Equal(t, 2*time.Second, tenant.opts.TxMaxWait)
	cfg, err := gomysql.ParseDSN(tenant.dsn)
	require.NoError(t, err)
	assert.Equal(t, "shop_1", cfg.DBName)

	public, err := c.resolve("")
	require.NoError(t, err)
	assert.Equal(t, 10, public.opts.ConnectionLimit)
	assert.Equal(t, 20*time.Second, public.opts.PoolTimeout)
	assert.Equal(t, 3*time.Second, public.opts.TxTimeout)
	cfg, err = gomysql.ParseDSN(public.dsn)
	require.NoError(t, err)
	assert.Equal(t, "pos_public", cfg.DBName)
}

func TestMySQLConnectorCachesResolvedDSN(t *testing.T) {
	c := testConnector()
	first, err := c.resolve("shop_1")
	require.NoError(t, err)

	c.BaseURL = "mysql://other:pw@elsewhere:3306/x"
	second, err := c.resolve("shop_1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMySQLConnectorRejectsUnsafeSchema(t *testing.T) {
	c := testConnector()
	_, err := c.Connect(context.Background(), "bad-name")
	require.Error(t, err)
	assert.Equal(t, apperr.KindApplication, apperr.KindOf(err))
}

func TestMySQLConnectorRetriesOnlyThePublicClient(t *testing.T) {
	cases := []struct {
		name     string
		attempts int
		schema   string
		want     int
	}{
		{"public client", 5, "", 5},
		{"tenant client", 5, "shop_1", 1},
		{"unset", 0, "", 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testConnector()
			c.ConnectAttempts = tc.attempts
			assert.Equal(t, tc.want, c.attempts(tc.schema))
		})
	}
}

func TestNewMySQLConnectorRetriesPublicClientByDefault(t *testing.T) {
	c := NewMySQLConnector(&config.Config{DatabaseURL: "mysql://app:pw@db:3306/pos_public"}, nil)
	assert.Equal(t, defaultPublicConnectAttempts, c.attempts(""))
	assert.Equal(t, 1, c.attempts("shop_1"))
}
