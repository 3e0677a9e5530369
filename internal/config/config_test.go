package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: debug\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 24*time.Hour, cfg.Cache.SuccessTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ErrorTTL)
	assert.False(t, cfg.Cache.Redis.Enabled)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.Len(t, cfg.EnabledSources(), 8)
	assert.Equal(t, 15*time.Second, cfg.Sources["oecd"].Timeout)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
cache:
  error_ttl: 1m
search:
  max_concurrency: 2
  deadline: 5s
scheduler:
  interval: 30m
  warm:
    - source: census
      dataflow: cbp
      key: 5415.US
sources:
  imf:
    enabled: false
  eurostat:
    daily_quota: 500
`)
	t.Setenv("INDUSTRY_SERVER_PORT", "7070")
	t.Setenv("INDUSTRY_SOURCES_OECD_BASE_URL", "http://oecd.local")
	t.Setenv("FRED_API_KEY", "fred-key")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Cache.ErrorTTL)
	assert.Equal(t, 2, cfg.ServiceConfig().MaxConcurrency)
	assert.Equal(t, 5*time.Second, cfg.ServiceConfig().Deadline)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.Interval)
	require.Len(t, cfg.Scheduler.Warm, 1)
	assert.Equal(t, "5415.US", cfg.Scheduler.Warm[0].Key)

	assert.NotContains(t, cfg.EnabledSources(), "imf")
	assert.Equal(t, 500, cfg.Sources["eurostat"].ProviderConfig().DailyQuota)
	assert.Equal(t, "http://oecd.local", cfg.Sources["oecd"].BaseURL)
	assert.Equal(t, "fred-key", cfg.Sources["fred"].APIKey)
}

func TestLoadRejectsInvalidTTLOrdering(t *testing.T) {
	path := writeConfig(t, "cache:\n  error_ttl: 48h\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TTL")
}

func TestLoadRejectsUnknownSource(t *testing.T) {
	path := writeConfig(t, "sources:\n  acme:\n    enabled: true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acme")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
