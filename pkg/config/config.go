// Package config loads the client configuration from a yaml file, optional .env files
// and MURMUR_* environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"Murmur/pkg/core"
	"Murmur/pkg/db"
	"Murmur/pkg/timeline"
	"Murmur/pkg/virtualizer"
)

// Config is the full client configuration.
type Config struct {
	User        UserConfig         `yaml:"user"`
	Provider    ProviderConfig     `yaml:"provider"`
	Timeline    timeline.Config    `yaml:"timeline"`
	Virtualizer virtualizer.Config `yaml:"virtualizer"`
	Cache       CacheConfig        `yaml:"cache"`
	Log         LogConfig          `yaml:"log"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

type UserConfig struct {
	// ID overrides the user id reported by the provider.
	ID string `yaml:"id"`
}

type ProviderConfig struct {
	ID       string                 `yaml:"id" validate:"required,oneof=mock rest slack"`
	Settings map[string]interface{} `yaml:"settings"`
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Driver  string `yaml:"driver" validate:"omitempty,oneof=sqlite sqlite3"`
	// WriteDelay debounces cache writes after bursts of events.
	WriteDelay time.Duration `yaml:"write_delay" validate:"gte=0"`
	// HydrateLimit is how many cached messages are shown before the first fetch returns.
	HydrateLimit int `yaml:"hydrate_limit" validate:"gte=0"`
}

type LogConfig struct {
	Dir           string `yaml:"dir"`
	Level         string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=0"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. "127.0.0.1:9090".
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns a configuration using the mock provider and an on-disk cache.
func Default() *Config {
	return &Config{
		Provider:    ProviderConfig{ID: "mock", Settings: map[string]interface{}{}},
		Timeline:    timeline.DefaultConfig(),
		Virtualizer: virtualizer.DefaultConfig(),
		Cache: CacheConfig{
			Enabled:      true,
			Driver:       db.DriverPure,
			WriteDelay:   500 * time.Millisecond,
			HydrateLimit: 50,
		},
		Log: LogConfig{Level: "info", RetentionDays: 7},
	}
}

// DefaultPath returns the config file location under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "murmur.yaml"
	}
	return filepath.Join(dir, "Murmur", "config.yaml")
}

// Load builds the configuration. A missing file at path keeps the defaults; envFiles
// that exist are loaded into the process environment without overriding variables
// already set.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Provider.Settings == nil {
		cfg.Provider.Settings = map[string]interface{}{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MURMUR_* variables resolved through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("MURMUR_USER_ID", &c.User.ID)
	str("MURMUR_PROVIDER", &c.Provider.ID)
	str("MURMUR_CACHE_PATH", &c.Cache.Path)
	str("MURMUR_CACHE_DRIVER", &c.Cache.Driver)
	str("MURMUR_LOG_DIR", &c.Log.Dir)
	str("MURMUR_LOG_LEVEL", &c.Log.Level)
	str("MURMUR_METRICS_ADDR", &c.Metrics.Addr)

	if v, ok := lookup("MURMUR_CACHE_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MURMUR_CACHE_ENABLED: %w", err)
		}
		c.Cache.Enabled = b
	}
	if v, ok := lookup("MURMUR_PAGE_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MURMUR_PAGE_SIZE: %w", err)
		}
		c.Timeline.PageSize = n
	}

	// Provider settings: MURMUR_TOKEN -> token, MURMUR_BASE_URL -> base_url, ...
	for _, key := range []string{"token", "base_url", "ws_url", "api_url", "d_cookie", "poll_interval", "reconnect_delay", "timeout"} {
		if v, ok := lookup("MURMUR_" + strings.ToUpper(key)); ok && v != "" {
			if c.Provider.Settings == nil {
				c.Provider.Settings = map[string]interface{}{}
			}
			c.Provider.Settings[key] = v
		}
	}
	return nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Timeline.PageSize < 0 || c.Timeline.ContextBefore < 0 || c.Timeline.ContextAfter < 0 {
		return fmt.Errorf("invalid config: timeline sizes must not be negative")
	}
	return nil
}

// ProviderSettings returns the provider settings as a core.ProviderConfig, with the user
// id override applied.
func (c *Config) ProviderSettings() core.ProviderConfig {
	out := make(core.ProviderConfig, len(c.Provider.Settings)+1)
	for k, v := range c.Provider.Settings {
		out[k] = v
	}
	if c.User.ID != "" {
		out["user_id"] = c.User.ID
	}
	return out
}

// CachePath resolves the sqlite location, falling back to the default data directory.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	return db.DefaultPath()
}
