package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Port                 int    `env:"PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required"`
	RedisURL             string `env:"REDIS_URL,required"`
	GatewayURL           string `env:"GATEWAY_URL,required"`
	APITokenHash         string `env:"API_TOKEN_HASH"`
	SessionID            string `env:"SESSION_ID" envDefault:"main_session"`
	CredentialDir        string `env:"CREDENTIAL_DIR" envDefault:"/tmp/whatsapp_auth"`
	MaxReconnectAttempts int    `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"3"`
	ReconnectBaseSeconds int    `env:"RECONNECT_BASE_SECONDS" envDefault:"5"`
	SendRateLimitPerMin  int    `env:"SEND_RATE_LIMIT_PER_MIN" envDefault:"60"`
	LogLevel             string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if !strings.HasPrefix(c.GatewayURL, "ws://") && !strings.HasPrefix(c.GatewayURL, "wss://") {
		return fmt.Errorf("GATEWAY_URL must be a ws:// or wss:// URL")
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be at least 1")
	}
	if c.ReconnectBaseSeconds < 1 {
		return fmt.Errorf("RECONNECT_BASE_SECONDS must be at least 1")
	}
	if c.SendRateLimitPerMin < 1 {
		return fmt.Errorf("SEND_RATE_LIMIT_PER_MIN must be at least 1")
	}

	if c.APITokenHash != "" {
		if !strings.HasPrefix(c.APITokenHash, "$2a$") &&
			!strings.HasPrefix(c.APITokenHash, "$2b$") &&
			!strings.HasPrefix(c.APITokenHash, "$2y$") {
			return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash (generate with: go run scripts/hash-token.go <token>)")
		}
	}

	if isProduction {
		if c.APITokenHash == "" {
			log.Warn().Msg("API_TOKEN_HASH is empty in production: mutating endpoints are unauthenticated")
		}
		if strings.HasPrefix(c.GatewayURL, "ws://") {
			log.Warn().Msg("GATEWAY_URL uses ws:// (not TLS) in production: consider using wss://")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
