package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("JANITOR_RETENTION", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 720*time.Hour, cfg.Janitor.Retention)
	assert.Equal(t, "cartage", cfg.Redis.KeyPrefix)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.True(t, cfg.Server.CartOwnership)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("JANITOR_RETENTION", "48h")
	t.Setenv("JANITOR_PURGE_FINALIZED", "true")
	t.Setenv("JWT_ACCESS_TOKEN_EXPIRY", "not-a-duration")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_CART_OWNERSHIP", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.Store.Driver)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 48*time.Hour, cfg.Janitor.Retention)
	assert.True(t, cfg.Janitor.PurgeFinalized)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenExpiry)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.False(t, cfg.Server.CartOwnership)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := Load()
	assert.ErrorContains(t, err, "STORE_DRIVER")
}

func TestDatabaseConfig_DSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5433", User: "u", Password: "p", DBName: "carts", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=carts sslmode=require", c.DSN())
}
