// internal/config/config_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, BackendMemory, cfg.ChannelBackend)
	assert.Equal(t, "Player", cfg.DisplayName)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestPostgresRequiresURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/neontype")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
}

func TestWSRequiresRelayURL(t *testing.T) {
	t.Setenv("CHANNEL_BACKEND", "ws")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("RELAY_URL", "wss://relay.example.com/realtime")
	_, err = Load()
	require.NoError(t, err)
}

func TestUnknownBackendRejected(t *testing.T) {
	t.Setenv("STORE_BACKEND", "dynamo")
	_, err := Load()
	assert.Error(t, err)
}
