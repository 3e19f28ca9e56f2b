package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harshu777/balsampada-lms/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, []string{"https://app.balsampada.in", "https://staging.balsampada.in"}, cfg.Server.AllowedOrigins)
	require.True(t, cfg.Server.RateLimit.Enabled)
	require.Equal(t, 10, cfg.Server.RateLimit.Max)
	require.Equal(t, 30*time.Second, cfg.Server.RateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, "balsampada", cfg.Database.Postgres.Database)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "cache.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.Equal(t, 3*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "balsampada-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 240*time.Hour, cfg.Auth.Session.RefreshTTL)
	require.Equal(t, 64, cfg.Auth.Session.RefreshLength)
	require.Equal(t, 7, cfg.Auth.Local.LockoutThreshold)
	require.Equal(t, 20*time.Minute, cfg.Auth.Local.LockoutDuration)

	require.True(t, cfg.Auth.Google.Enabled)
	require.Equal(t, "google-client", cfg.Auth.Google.ClientID)
	require.Equal(t, "https://app.balsampada.in/api/auth/google/callback", cfg.Auth.Google.RedirectURL)

	require.Equal(t, "admin@balsampada.in", cfg.Admin.Email)
	require.Equal(t, "Site Admin", cfg.Admin.Name)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "balsampada-lms", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 168*time.Hour, cfg.Auth.Session.RefreshTTL)
	require.False(t, cfg.Auth.Google.Enabled)
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := AuthConfig{
		JWT: JWTSettings{
			Secret: "secret",
			Issuer: "issuer",
			TTL:    45 * time.Minute,
		},
		Session: SessionSettings{
			RefreshTTL:    10 * 24 * time.Hour,
			RefreshLength: 32,
		},
		Local: LocalAuthSettings{
			LockoutThreshold: 3,
			LockoutDuration:  5 * time.Minute,
		},
	}

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, "secret", jwtCfg.Secret)
	require.Equal(t, "issuer", jwtCfg.Issuer)
	require.Equal(t, 45*time.Minute, jwtCfg.AccessTokenTTL)

	sessCfg := cfg.SessionServiceConfig()
	require.Equal(t, 10*24*time.Hour, sessCfg.RefreshTokenTTL)
	require.Equal(t, 32, sessCfg.RefreshLength)

	credCfg := cfg.CredentialServiceConfig()
	require.Equal(t, 3, credCfg.LockoutThreshold)
	require.Equal(t, 5*time.Minute, credCfg.LockoutDuration)
}

func TestAuthConfigAdapterFallbacks(t *testing.T) {
	cfg := AuthConfig{}

	require.Equal(t, auth.DefaultAccessTokenTTL, cfg.JWTServiceConfig().AccessTokenTTL)
	require.Equal(t, auth.DefaultRefreshTokenTTL, cfg.SessionServiceConfig().RefreshTokenTTL)
	require.Equal(t, 48, cfg.SessionServiceConfig().RefreshLength)
	require.Equal(t, defaultLockoutThreshold, cfg.CredentialServiceConfig().LockoutThreshold)
	require.Equal(t, defaultLockoutDuration, cfg.CredentialServiceConfig().LockoutDuration)
}
