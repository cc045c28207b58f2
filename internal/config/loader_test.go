package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portagehq/portage/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "portage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_EmptyFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, config.DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, config.DefaultBaseURL, cfg.Server.BaseURL)
	assert.Equal(t, config.DefaultRequestTimeout, cfg.Server.RequestTimeout)

	assert.Equal(t, "static", cfg.Auth.Mode)
	assert.Equal(t, config.DefaultAuthTimeout, cfg.Auth.Timeout)
	assert.Empty(t, cfg.Auth.Static.Token)

	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, int64(config.DefaultRateLimitLimit), cfg.RateLimit.Limit)
	assert.Equal(t, config.DefaultRateLimitWindow, cfg.RateLimit.Window)
	assert.Equal(t, "memory", cfg.RateLimit.Store)
	assert.Equal(t, config.DefaultRedisAddr, cfg.RateLimit.Redis.Addr)

	assert.Equal(t, int64(config.DefaultChunkSize), cfg.Transfer.ChunkSize)
	assert.Equal(t, config.DefaultInactivityTimeout, cfg.Transfer.InactivityTimeout)

	assert.Empty(t, cfg.Notify.URL)
	assert.Equal(t, config.DefaultNotifyTimeout, cfg.Notify.Timeout)

	assert.True(t, cfg.Metrics.Enabled)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.JSON)

	assert.Equal(t, "no-proxy", cfg.Proxy.Mode)
}

func TestLoad_ValidFile_Unmarshals(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `server:
  addr: ":8080"
  base_url: "https://files.example.org"
  request_timeout: 90s
auth:
  mode: static
  static:
    token: "sekrit"
    identity:
      id: "u-1"
      name: "Ada"
      email: "ada@example.org"
    providers:
      s3:
        credentials:
          access_key: "AK"
          secret_key: "SK"
        settings:
          bucket: "data"
      filesystem:
        settings:
          folder: "/srv/files"
ratelimit:
  enabled: true
  limit: 100
  window: 60s
  store: redis
  redis:
    addr: "redis.internal:6379"
    password: "hunter2"
    db: 3
transfer:
  chunk_size: 131072
  inactivity_timeout: 5m
notify:
  url: "https://osf.example/hooks"
  timeout: 2s
metrics:
  enabled: false
logging:
  level: debug
  json: true
proxy:
  mode: basic
  host: "proxy.corp"
  port: 3128
  user: "svc"
  no_proxy: "10.0.0.0/8,localhost"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "https://files.example.org", cfg.Server.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Server.RequestTimeout)

	assert.Equal(t, "sekrit", cfg.Auth.Static.Token)
	assert.Equal(t, "u-1", cfg.Auth.Static.Identity.ID)
	assert.Equal(t, "Ada", cfg.Auth.Static.Identity.Name)
	require.Contains(t, cfg.Auth.Static.Providers, "s3")
	assert.Equal(t, "AK", cfg.Auth.Static.Providers["s3"].Credentials["access_key"])
	assert.Equal(t, "data", cfg.Auth.Static.Providers["s3"].Settings["bucket"])
	require.Contains(t, cfg.Auth.Static.Providers, "filesystem")
	assert.Equal(t, "/srv/files", cfg.Auth.Static.Providers["filesystem"].Settings["folder"])

	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, int64(100), cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, "redis", cfg.RateLimit.Store)
	assert.Equal(t, "redis.internal:6379", cfg.RateLimit.Redis.Addr)
	assert.Equal(t, 3, cfg.RateLimit.Redis.DB)

	assert.Equal(t, int64(131072), cfg.Transfer.ChunkSize)
	assert.Equal(t, 5*time.Minute, cfg.Transfer.InactivityTimeout)

	assert.Equal(t, "https://osf.example/hooks", cfg.Notify.URL)
	assert.Equal(t, 2*time.Second, cfg.Notify.Timeout)

	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)

	assert.Equal(t, "basic", cfg.Proxy.Mode)
	assert.Equal(t, "proxy.corp", cfg.Proxy.Host)
	assert.Equal(t, 3128, cfg.Proxy.Port)
}

func TestLoad_PartialFile_MergesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `server:
  addr: ":9000"
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, config.DefaultBaseURL, cfg.Server.BaseURL)
	assert.Equal(t, "static", cfg.Auth.Mode)
	assert.Equal(t, int64(config.DefaultChunkSize), cfg.Transfer.ChunkSize)
}

func TestLoad_MalformedYAML_ReturnsError(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "server: [broken\n")

	cfg, err := config.Load(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoad_InvalidValues_ReturnsValidationError(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `auth:
  mode: remote
`)

	cfg, err := config.Load(path)
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.ErrorIs(t, err, config.ErrMissingAuthURL)
}

func TestLoad_ExplicitPathNotFound_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("/nonexistent/portage.yaml")
	require.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_EnvOverride_ServerAddr(t *testing.T) {
	t.Setenv("PORTAGE_SERVER_ADDR", ":7778")

	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, ":7778", cfg.Server.Addr)
}

func TestLoad_EnvOverride_NestedKey(t *testing.T) {
	t.Setenv("PORTAGE_RATELIMIT_REDIS_ADDR", "cache.internal:6380")

	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", cfg.RateLimit.Redis.Addr)
}

func TestLoad_EnvOverride_Duration(t *testing.T) {
	t.Setenv("PORTAGE_AUTH_TIMEOUT", "3s")

	cfg, err := config.Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Auth.Timeout)
}
