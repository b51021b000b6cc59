package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenv(t *testing.T) {
	t.Setenv("TEST_KEY", "val")
	assert.Equal(t, "val", getenv("TEST_KEY", "default"))

	t.Setenv("TEST_KEY", "  ")
	assert.Equal(t, "default", getenv("TEST_KEY", "default"))
}

func TestGetenvInt(t *testing.T) {
	t.Setenv("TEST_INT", "12")
	assert.Equal(t, 12, getenvInt("TEST_INT", 3))

	for _, raw := range []string{"", "abc", "0", "-4"} {
		t.Setenv("TEST_INT", raw)
		assert.Equal(t, 3, getenvInt("TEST_INT", 3), raw)
	}
}

func TestGetenvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "750ms")
	assert.Equal(t, 750*time.Millisecond, getenvDuration("TEST_DUR", time.Second))

	for _, raw := range []string{"", "soon", "-1s", "0s"} {
		t.Setenv("TEST_DUR", raw)
		assert.Equal(t, time.Second, getenvDuration("TEST_DUR", time.Second), raw)
	}
}

func clearService(t *testing.T) {
	for _, k := range []string{"PORT", "REDIS_URL", "DATABASE_URL", "STORE_BACKEND", "JWT_SECRET", "ALLOWED_ORIGIN", "SEND_BUFFER"} {
		t.Setenv(k, "")
	}
}

func TestLoadServiceConfig_Defaults(t *testing.T) {
	clearService(t)

	cfg, err := LoadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, "3004", cfg.Port)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.JWTSecret)
	assert.Equal(t, 256, cfg.SendBuffer)
}

func TestLoadServiceConfig_Backends(t *testing.T) {
	clearService(t)
	t.Setenv("STORE_BACKEND", "Redis")
	_, err := LoadServiceConfig()
	assert.EqualError(t, err, "config: STORE_BACKEND=redis needs REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379")
	cfg, err := LoadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.StoreBackend)

	t.Setenv("STORE_BACKEND", "postgres")
	_, err = LoadServiceConfig()
	assert.EqualError(t, err, "config: STORE_BACKEND=postgres needs DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/aural")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SEND_BUFFER", "32")
	cfg, err = LoadServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), cfg.JWTSecret)
	assert.Equal(t, 32, cfg.SendBuffer)

	t.Setenv("STORE_BACKEND", "sqlite")
	_, err = LoadServiceConfig()
	assert.EqualError(t, err, "config: unknown STORE_BACKEND sqlite")
}

func TestLoadListenerConfig(t *testing.T) {
	for _, k := range []string{"SERVER_URL", "ACCESS_TOKEN", "USER_ID", "RADIO_ID", "CATALOG_API_URL", "CATALOG_TOKEN", "REDIS_URL", "SYNC_INTERVAL", "METADATA_TTL"} {
		t.Setenv(k, "")
	}

	_, err := LoadListenerConfig()
	assert.EqualError(t, err, "config: RADIO_ID is empty")

	t.Setenv("RADIO_ID", "r1")
	_, err = LoadListenerConfig()
	assert.EqualError(t, err, "config: one of ACCESS_TOKEN or USER_ID is required")

	t.Setenv("USER_ID", "u1")
	_, err = LoadListenerConfig()
	assert.EqualError(t, err, "config: CATALOG_TOKEN is empty")

	t.Setenv("CATALOG_TOKEN", "tok")
	t.Setenv("SYNC_INTERVAL", "2s")
	cfg, err := LoadListenerConfig()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:3004/ws", cfg.ServerURL)
	assert.Equal(t, "https://api.spotify.com/v1", cfg.CatalogURL)
	assert.Equal(t, 2*time.Second, cfg.SyncInterval)
	assert.Equal(t, time.Hour, cfg.MetadataTTL)
}
