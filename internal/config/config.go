// internal/config/config.go
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted for the store and channel selections.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendWS       = "ws"
)

// Config is the process environment. godotenv loads .env in the binaries before
// this is parsed.
type Config struct {
	// StoreBackend selects the room record store: memory or postgres.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"memory"`
	// ChannelBackend selects the realtime transport: memory, redis or ws.
	ChannelBackend string `env:"CHANNEL_BACKEND" envDefault:"memory"`

	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// RelayURL is the websocket relay endpoint for the ws channel backend.
	RelayURL string `env:"RELAY_URL"`
	// TokenSecret signs the channel auth token. Empty disables token minting.
	TokenSecret string `env:"TOKEN_SECRET"`

	IdentityFile string `env:"IDENTITY_FILE" envDefault:".neontype/identity"`
	DisplayName  string `env:"DISPLAY_NAME" envDefault:"Player"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment and validates backend-specific requirements.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.ChannelBackend {
	case BackendMemory, BackendRedis:
	case BackendWS:
		if c.RelayURL == "" {
			return fmt.Errorf("CHANNEL_BACKEND=ws requires RELAY_URL")
		}
	default:
		return fmt.Errorf("unknown CHANNEL_BACKEND %q", c.ChannelBackend)
	}
	return nil
}
