package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"marketfeed/internal/cache"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, "IBM", cfg.Providers.DemoSymbol)
	require.Equal(t, 4, cfg.Batch.Workers)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: "9090"
cache:
  ttl:
    history: 30m
batch:
  workers: 8
rate_limits:
  yahoo:
    min_spacing: 3s
    max_retries: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "9090", cfg.Server.Port)
	require.Equal(t, 120, cfg.Server.RequestTimeoutSec)
	require.Equal(t, 30*time.Minute, cfg.Cache.TTL[cache.History])
	require.Equal(t, 12*time.Hour, cfg.Cache.TTL[cache.Fundamentals])
	require.Equal(t, 8, cfg.Batch.Workers)
	require.Equal(t, 100, cfg.Batch.ChunkSize)
	require.Equal(t, 3*time.Second, cfg.Policy("yahoo").MinSpacing)
	require.Equal(t, 5, cfg.Policy("yahoo").MaxRetries)
	require.Equal(t, 5, cfg.Policy("alphavantage").PerMinute)
}

func TestLoadRejectsBadTTL(t *testing.T) {
	for name, body := range map[string]string{
		"zero":    "cache:\n  ttl:\n    history: 0s\n",
		"unknown": "cache:\n  ttl:\n    quotes: 1h\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	_, err := Load(writeFile(t, "batch:\n  workers: 0\n"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "log_level: loud\n"))
	require.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeFile(t, "server: [unterminated"))
	require.ErrorContains(t, err, "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-alt")
	t.Setenv("POLYGON_IO_API_KEY", "pg-alt")
	t.Setenv("WATCHLIST", "AAPL, MSFT,,BRK.B")
	t.Setenv("CROSS_CHECK", "no")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "7000", cfg.Server.Port)
	require.Equal(t, "av-alt", cfg.Providers.AlphaVantageKey)
	require.Equal(t, "pg-alt", cfg.Providers.PolygonKey)
	require.Equal(t, []string{"AAPL", "MSFT", "BRK.B"}, cfg.Scheduler.Watchlist)
	require.False(t, cfg.Providers.CrossCheck)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvPrimarySpellingWins(t *testing.T) {
	t.Setenv("ALPHA_VANTAGE_API_KEY", "av-main")
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-alt")
	t.Setenv("POLYGON_API_KEY", "pg-main")
	t.Setenv("POLYGON_IO_API_KEY", "pg-alt")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "av-main", cfg.Providers.AlphaVantageKey)
	require.Equal(t, "pg-main", cfg.Providers.PolygonKey)
}

func TestConfigFileEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", writeFile(t, "providers:\n  demo_symbol: MSFT\n"))
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "MSFT", cfg.Providers.DemoSymbol)
}

func TestPolicyFallsBackToDefault(t *testing.T) {
	p := Default().Policy("unknown-vendor")
	require.Equal(t, 3, p.MaxRetries)
	require.Equal(t, 500*time.Millisecond, p.MinSpacing)
}
