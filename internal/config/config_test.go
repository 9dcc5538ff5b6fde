package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")

	_, err := Load()
	require.ErrorIs(t, err, ErrMissingJWTSecret)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, 15*time.Minute, cfg.Auth.AccessTokenTTL())
	require.Equal(t, 7*24*time.Hour, cfg.Auth.RefreshTokenTTL())
	require.Equal(t, 10, cfg.Auth.BcryptCost)
	require.False(t, cfg.Auth.RotateRefreshToken)
	require.False(t, cfg.Auth.CookieSecure)
	require.Equal(t, 5, cfg.RateLimit.Max)
	require.Equal(t, time.Minute, cfg.RateLimit.Window())
	require.Equal(t, "memory", cfg.RateLimit.Store)
	require.False(t, cfg.RateLimit.TrustProxy)
	require.Equal(t, int32(20), cfg.Postgres.MaxConns)
	require.Equal(t, 100, cfg.Postgres.QueueLimit)
	require.Equal(t, 5*time.Second, cfg.Postgres.QueryTimeout())
}

func TestLoadProductionSecuresCookie(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/auth")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.App.IsProduction())
	require.True(t, cfg.Auth.CookieSecure)
}

func TestLoadProductionRequiresDSN(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnknownRateLimitStore(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("RATE_LIMIT_STORE", "memcached")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadInvalidRedisDB(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("REDIS_DB", "zero")

	_, err := Load()
	require.Error(t, err)
}
