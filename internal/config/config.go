package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"marketfeed/internal/batch"
	"marketfeed/internal/cache"
	"marketfeed/internal/provider/ratelimit"
	"marketfeed/internal/validate"
)

type Server struct {
	Port               string `yaml:"port" validate:"required,numeric"`
	RequestTimeoutSec  int    `yaml:"request_timeout_sec" validate:"gt=0"`
	ShutdownTimeoutSec int    `yaml:"shutdown_timeout_sec" validate:"gt=0"`
}

type Cache struct {
	Path string                           `yaml:"path" validate:"required"`
	TTL  map[cache.DataType]time.Duration `yaml:"ttl"`
	// Horizon is how old a row must be before the cleanup job deletes it.
	Horizon time.Duration `yaml:"horizon" validate:"gt=0"`
}

type Providers struct {
	AlphaVantageKey string `yaml:"alpha_vantage_api_key"`
	PolygonKey      string `yaml:"polygon_api_key"`
	// DemoSymbol is the only symbol the public demo key is tried for.
	DemoSymbol  string        `yaml:"demo_symbol"`
	CallTimeout time.Duration `yaml:"call_timeout" validate:"gte=1s,lte=1m"`
	HTTPTimeout time.Duration `yaml:"http_timeout" validate:"gt=0"`
	// UserAgent pins one agent string; empty rotates common browser agents.
	UserAgent    string  `yaml:"user_agent"`
	HTTPProxy    string  `yaml:"http_proxy" validate:"omitempty,url"`
	CrossCheck   bool    `yaml:"cross_check"`
	TolerancePct float64 `yaml:"tolerance_pct" validate:"gt=0,lte=100"`
}

type Scheduler struct {
	Enabled bool `yaml:"enabled"`
	// CleanupSpec and WarmSpec are cron expressions (robfig/cron, minute precision).
	CleanupSpec string   `yaml:"cleanup_spec" validate:"required_if=Enabled true"`
	WarmSpec    string   `yaml:"warm_spec"`
	Watchlist   []string `yaml:"watchlist" validate:"dive,required"`
}

type Config struct {
	LogLevel   string                      `yaml:"log_level" validate:"oneof=debug info warn error"`
	Server     Server                      `yaml:"server"`
	Cache      Cache                       `yaml:"cache"`
	Providers  Providers                   `yaml:"providers"`
	RateLimits map[string]ratelimit.Policy `yaml:"rate_limits" validate:"dive"`
	Validation validate.Thresholds         `yaml:"validation"`
	Batch      batch.Config                `yaml:"batch"`
	Scheduler  Scheduler                   `yaml:"scheduler"`
}

// Default returns the built-in configuration. Pacing values follow what the
// free tiers tolerate: Yahoo wants 2-4s between calls, Alpha Vantage allows
// 5 calls a minute and Polygon 5 a minute on the free plan.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server:   Server{Port: "8080", RequestTimeoutSec: 120, ShutdownTimeoutSec: 10},
		Cache: Cache{
			Path:    "data/cache.db",
			TTL:     cache.DefaultTTL(),
			Horizon: 24 * time.Hour,
		},
		Providers: Providers{
			DemoSymbol:   "IBM",
			CallTimeout:  ratelimit.DefaultCallTimeout,
			HTTPTimeout:  15 * time.Second,
			CrossCheck:   true,
			TolerancePct: 2,
		},
		RateLimits: map[string]ratelimit.Policy{
			"yahoo": {
				MinSpacing:  2 * time.Second,
				Jitter:      2 * time.Second,
				BaseBackoff: 2 * time.Second,
				MaxBackoff:  60 * time.Second,
				MaxRetries:  3,
			},
			"alphavantage": {
				MinSpacing:  time.Second,
				BaseBackoff: 15 * time.Second,
				MaxBackoff:  60 * time.Second,
				MaxRetries:  3,
				PerMinute:   5,
				Burst:       1,
			},
			"polygon": {
				MinSpacing:  time.Second,
				BaseBackoff: 15 * time.Second,
				MaxBackoff:  60 * time.Second,
				MaxRetries:  3,
				PerMinute:   5,
				Burst:       1,
			},
			"stooq": ratelimit.DefaultPolicy(),
			"stooq-crosscheck": {
				MinSpacing:  2 * time.Second,
				BaseBackoff: 5 * time.Second,
				MaxBackoff:  60 * time.Second,
				MaxRetries:  1,
			},
		},
		Validation: validate.DefaultThresholds(),
		Batch:      batch.DefaultConfig(),
		Scheduler: Scheduler{
			Enabled:     true,
			CleanupSpec: "0 * * * *",
			WarmSpec:    "30 21 * * 1-5",
		},
	}
}

// Load reads YAML config from path. If path is empty the CONFIG_FILE env var
// is used, then config.yaml in the working directory; a missing file means
// defaults. Environment variables override select fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the cache TTL table.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cache.ValidateTTL(c.Cache.TTL); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Policy returns the pacing policy for a provider family, falling back to
// the limiter default.
func (c Config) Policy(name string) ratelimit.Policy {
	if p, ok := c.RateLimits[name]; ok {
		return p
	}
	return ratelimit.DefaultPolicy()
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	// both spellings are in circulation
	if v := firstEnv("ALPHA_VANTAGE_API_KEY", "ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.Providers.AlphaVantageKey = v
	}
	if v := firstEnv("POLYGON_API_KEY", "POLYGON_IO_API_KEY"); v != "" {
		cfg.Providers.PolygonKey = v
	}
	if v := os.Getenv("HTTP_PROXY_URL"); v != "" {
		cfg.Providers.HTTPProxy = v
	}
	if v := os.Getenv("DEMO_SYMBOL"); v != "" {
		cfg.Providers.DemoSymbol = strings.ToUpper(v)
	}
	if v := os.Getenv("CROSS_CHECK"); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y":
			cfg.Providers.CrossCheck = true
		case "0", "false", "no", "n":
			cfg.Providers.CrossCheck = false
		}
	}
	if v := os.Getenv("BATCH_WORKERS"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Batch.Workers = x
		}
	}
	if v := os.Getenv("WATCHLIST"); v != "" {
		cfg.Scheduler.Watchlist = splitCSV(v)
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
