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

	t.Run("PairingCodeTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{PairingCodeTTLSeconds: 600}
		assert.Equal(t, 600*time.Second, cfg.PairingCodeTTL())
	})

	t.Run("OAuthStateTTL converts seconds to duration", func(t *testing.T) {
		cfg := &Config{OAuthStateTTLSeconds: 300}
		assert.Equal(t, 300*time.Second, cfg.OAuthStateTTL())
	})

	t.Run("ExchangeTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{ExchangeTimeoutSeconds: 10}
		assert.Equal(t, 10*time.Second, cfg.ExchangeTimeout())
	})
}

func TestLoad(t *testing.T) {
	vars := []string{
		"PORT", "DATABASE_URL", "REDIS_URL", "GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET",
		"OAUTH_SCOPES", "PAIRING_CODE_TTL_SECONDS", "OAUTH_STATE_TTL_SECONDS", "LOG_LEVEL",
	}
	originalEnv := map[string]string{}
	for _, v := range vars {
		originalEnv[v] = os.Getenv(v)
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
		os.Setenv("GOOGLE_CLIENT_ID", "client-id")
		os.Setenv("GOOGLE_CLIENT_SECRET", "client-secret")
		os.Unsetenv("PORT")
		os.Unsetenv("OAUTH_SCOPES")
		os.Unsetenv("PAIRING_CODE_TTL_SECONDS")
		os.Unsetenv("OAUTH_STATE_TTL_SECONDS")
		os.Unsetenv("LOG_LEVEL")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, 600, cfg.PairingCodeTTLSeconds)
		assert.Equal(t, 300, cfg.OAuthStateTTLSeconds)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, []string{"https://www.googleapis.com/auth/calendar"}, cfg.OAuthScopes)
	})

	t.Run("fails without required values", func(t *testing.T) {
		os.Unsetenv("DATABASE_URL")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DatabaseURL:  "postgres://localhost/test",
			RedisURL:     "rediss://localhost:6379",
			LinkAPIToken: "0123456789abcdef0123456789abcdef",
		}
	}

	t.Run("accepts valid production config", func(t *testing.T) {
		assert.NoError(t, base().Validate(true))
	})

	t.Run("rejects short API token in production", func(t *testing.T) {
		cfg := base()
		cfg.LinkAPIToken = "short"
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects weak API token in production", func(t *testing.T) {
		cfg := base()
		cfg.LinkAPIToken = "secret"
		assert.Error(t, cfg.Validate(true))
	})

	t.Run("rejects malformed encryption key", func(t *testing.T) {
		cfg := base()
		cfg.EncryptionKey = "not-hex"
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("accepts 32-byte hex encryption key", func(t *testing.T) {
		cfg := base()
		cfg.EncryptionKey = "0000000000000000000000000000000000000000000000000000000000000000"
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("skips secret checks outside production", func(t *testing.T) {
		cfg := base()
		cfg.LinkAPIToken = ""
		assert.NoError(t, cfg.Validate(false))
	})
}
