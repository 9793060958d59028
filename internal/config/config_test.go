package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("ReconnectBaseDelay converts seconds to duration", func(t *testing.T) {
		cfg := &Config{ReconnectBaseSeconds: 5}
		assert.Equal(t, 5*time.Second, cfg.ReconnectBaseDelay())
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GatewayURL:           "wss://gateway.internal/ws",
			RedisURL:             "rediss://localhost:6379",
			MaxReconnectAttempts: 3,
			ReconnectBaseSeconds: 5,
			SendRateLimitPerMin:  60,
		}
	}

	t.Run("accepts valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate(false))
	})

	t.Run("rejects non-websocket gateway url", func(t *testing.T) {
		cfg := valid()
		cfg.GatewayURL = "https://gateway.internal"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects zero reconnect budget", func(t *testing.T) {
		cfg := valid()
		cfg.MaxReconnectAttempts = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects non-bcrypt token hash", func(t *testing.T) {
		cfg := valid()
		cfg.APITokenHash = "plaintext-token"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("accepts bcrypt token hash", func(t *testing.T) {
		cfg := valid()
		cfg.APITokenHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
		assert.NoError(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                   os.Getenv("PORT"),
		"DATABASE_URL":           os.Getenv("DATABASE_URL"),
		"REDIS_URL":              os.Getenv("REDIS_URL"),
		"GATEWAY_URL":            os.Getenv("GATEWAY_URL"),
		"SESSION_ID":             os.Getenv("SESSION_ID"),
		"CREDENTIAL_DIR":         os.Getenv("CREDENTIAL_DIR"),
		"MAX_RECONNECT_ATTEMPTS": os.Getenv("MAX_RECONNECT_ATTEMPTS"),
		"RECONNECT_BASE_SECONDS": os.Getenv("RECONNECT_BASE_SECONDS"),
		"LOG_LEVEL":              os.Getenv("LOG_LEVEL"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("GATEWAY_URL", "ws://localhost:3001/ws")
		os.Unsetenv("PORT")
		os.Unsetenv("SESSION_ID")
		os.Unsetenv("CREDENTIAL_DIR")
		os.Unsetenv("MAX_RECONNECT_ATTEMPTS")
		os.Unsetenv("RECONNECT_BASE_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
		assert.Equal(t, "ws://localhost:3001/ws", cfg.GatewayURL)
		assert.Equal(t, "main_session", cfg.SessionID)
		assert.Equal(t, "/tmp/whatsapp_auth", cfg.CredentialDir)
		assert.Equal(t, 3, cfg.MaxReconnectAttempts)
		assert.Equal(t, 5, cfg.ReconnectBaseSeconds)
		assert.Equal(t, "info", cfg.LogLevel)
	})

	t.Run("loads custom values", func(t *testing.T) {
		os.Setenv("DATABASE_URL", "postgres://localhost/test")
		os.Setenv("REDIS_URL", "redis://localhost:6379")
		os.Setenv("GATEWAY_URL", "wss://gw.example.com/ws")
		os.Setenv("PORT", "9090")
		os.Setenv("SESSION_ID", "front_desk")
		os.Setenv("MAX_RECONNECT_ATTEMPTS", "5")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, "front_desk", cfg.SessionID)
		assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	})

	t.Run("fails without required values", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("REDIS_URL")
		os.Unsetenv("GATEWAY_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}
