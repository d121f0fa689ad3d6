package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port                   int      `env:"PORT" envDefault:"8080"`
	DatabaseURL            string   `env:"DATABASE_URL,required"`
	RedisURL               string   `env:"REDIS_URL,required"`
	GoogleClientID         string   `env:"GOOGLE_CLIENT_ID,required"`
	GoogleClientSecret     string   `env:"GOOGLE_CLIENT_SECRET,required"`
	OAuthScopes            []string `env:"OAUTH_SCOPES" envSeparator:" " envDefault:"https://www.googleapis.com/auth/calendar"`
	PublicBaseURL          string   `env:"PUBLIC_BASE_URL" envDefault:""`
	ChatSignatureSecret    string   `env:"CHAT_SIGNATURE_SECRET"`
	LinkAPIToken           string   `env:"LINK_API_TOKEN"`
	EncryptionKey          string   `env:"ENCRYPTION_KEY"`
	PairingCodeTTLSeconds  int      `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"600"`
	OAuthStateTTLSeconds   int      `env:"OAUTH_STATE_TTL_SECONDS" envDefault:"300"`
	ExchangeTimeoutSeconds int      `env:"EXCHANGE_TIMEOUT_SECONDS" envDefault:"10"`
	LogLevel               string   `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) PairingCodeTTL() time.Duration {
	return time.Duration(c.PairingCodeTTLSeconds) * time.Second
}

func (c *Config) OAuthStateTTL() time.Duration {
	return time.Duration(c.OAuthStateTTLSeconds) * time.Second
}

func (c *Config) ExchangeTimeout() time.Duration {
	return time.Duration(c.ExchangeTimeoutSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	if isProduction {
		if err := validateSecret("LINK_API_TOKEN", c.LinkAPIToken); err != nil {
			return err
		}

		if c.ChatSignatureSecret == "" {
			log.Warn().Msg("CHAT_SIGNATURE_SECRET is empty in production: webhook signature verification disabled")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: stored tokens will not be encrypted at rest")
		}
		if c.PublicBaseURL == "" {
			log.Warn().Msg("PUBLIC_BASE_URL is empty in production: callback URLs will be derived from request headers")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
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
