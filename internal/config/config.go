// Package config holds the datanerd service configuration: defaults,
// optional YAML file merge, then environment overrides. Environment
// values are screened before use; a poisoned value invalidates the
// configuration rather than silently degrading it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"datanerd/internal/errs"
)

// maxEnvLen caps any environment override. Longer values are treated as
// hostile, not truncated.
const maxEnvLen = 4096

// Config holds all datanerd configuration.
type Config struct {
	Catalog   CatalogConfig   `yaml:"catalog"`
	Cache     CacheConfig     `yaml:"cache"`
	Session   SessionConfig   `yaml:"session"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CatalogConfig locates the semantic model file.
type CatalogConfig struct {
	Path string `yaml:"path"`

	// Watch reloads the catalog when the file changes.
	Watch bool `yaml:"watch"`
}

// CacheConfig configures the query result cache.
type CacheConfig struct {
	TTLSeconds int `yaml:"ttl_seconds"`
	MaxEntries int `yaml:"max_entries"`

	// RedisAddr enables the shared tier when non-empty.
	RedisAddr string `yaml:"redis_addr"`
	RedisDB   int    `yaml:"redis_db"`
}

// SessionConfig configures conversation state retention.
type SessionConfig struct {
	TTLSeconds  int `yaml:"ttl_seconds"`
	MaxSessions int `yaml:"max_sessions"`
}

// DashboardConfig configures the artifact directory and sweep policy.
type DashboardConfig struct {
	Path      string `yaml:"path"`
	SweepDays int    `yaml:"sweep_days"`
}

// HTTPConfig configures the optional REST surface.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ReadTimeout    string   `yaml:"read_timeout"`
	WriteTimeout   string   `yaml:"write_timeout"`
}

// LoggingConfig configures the zap core.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{
			Path:  "semantic_model.yaml",
			Watch: false,
		},
		Cache: CacheConfig{
			TTLSeconds: 1800,
			MaxEntries: 500,
		},
		Session: SessionConfig{
			TTLSeconds:  3600,
			MaxSessions: 256,
		},
		Dashboard: DashboardConfig{
			Path:      "dashboards",
			SweepDays: 7,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a YAML file, falling back to defaults
// when the file does not exist, then applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errs.Wrap(err, errs.KindInvalidInput, "Config file unreadable").WithValue(path)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errs.Wrap(err, errs.KindInvalidInput, "Config file malformed").WithValue(path)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers the recognized environment variables over the
// file values. Each value passes screening first.
func (c *Config) applyEnvOverrides() error {
	if v, err := envString("CATALOG_PATH"); err != nil {
		return err
	} else if v != "" {
		c.Catalog.Path = v
	}
	if v, err := envString("DASHBOARD_PATH"); err != nil {
		return err
	} else if v != "" {
		c.Dashboard.Path = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"CACHE_TTL_SECONDS", &c.Cache.TTLSeconds},
		{"CACHE_MAX_ENTRIES", &c.Cache.MaxEntries},
		{"SESSION_TTL_SECONDS", &c.Session.TTLSeconds},
		{"DASHBOARD_SWEEP_DAYS", &c.Dashboard.SweepDays},
	}
	for _, o := range ints {
		v, err := envString(o.name)
		if err != nil {
			return err
		}
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.New(errs.KindInvalidInput, "Bad numeric override").
				WithValue(o.name + "=" + v).
				WithHint("the value must be a decimal integer")
		}
		*o.dst = n
	}
	return nil
}

// envString reads and screens one environment override.
func envString(name string) (string, error) {
	return screenEnvValue(name, os.Getenv(name))
}

// screenEnvValue rejects a null byte or an oversized value outright. The
// name only labels the error.
func screenEnvValue(name, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	if strings.ContainsRune(v, 0) {
		return "", errs.New(errs.KindInvalidInput, "Environment override rejected").
			WithValue(name).
			WithHint("the value contains a null byte")
	}
	if len(v) > maxEnvLen {
		return "", errs.New(errs.KindInvalidInput, "Environment override rejected").
			WithValue(name).
			WithHint(fmt.Sprintf("the value exceeds %d bytes", maxEnvLen))
	}
	return v, nil
}

// Validate enforces the numeric ranges and required fields.
func (c *Config) Validate() error {
	if c.Catalog.Path == "" {
		return errs.New(errs.KindInvalidInput, "Catalog path missing").
			WithHint("set catalog.path or CATALOG_PATH")
	}
	if c.Cache.TTLSeconds < 0 {
		return errs.New(errs.KindInvalidInput, "Cache TTL out of range").
			WithValue(strconv.Itoa(c.Cache.TTLSeconds)).
			WithHint("ttl_seconds must be zero or positive")
	}
	if c.Cache.MaxEntries < 0 {
		return errs.New(errs.KindInvalidInput, "Cache size out of range").
			WithValue(strconv.Itoa(c.Cache.MaxEntries))
	}
	if c.Session.TTLSeconds < 0 {
		return errs.New(errs.KindInvalidInput, "Session TTL out of range").
			WithValue(strconv.Itoa(c.Session.TTLSeconds))
	}
	if c.Dashboard.SweepDays < 1 {
		return errs.New(errs.KindInvalidInput, "Dashboard sweep age out of range").
			WithValue(strconv.Itoa(c.Dashboard.SweepDays)).
			WithHint("sweep_days must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errs.New(errs.KindInvalidInput, "Unknown log level").
			WithValue(c.Logging.Level).
			WithAlternatives("debug", "info", "warn", "error")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return errs.New(errs.KindInvalidInput, "Unknown log format").
			WithValue(c.Logging.Format).
			WithAlternatives("console", "json")
	}
	if _, err := time.ParseDuration(c.HTTP.ReadTimeout); c.HTTP.ReadTimeout != "" && err != nil {
		return errs.New(errs.KindInvalidInput, "Bad HTTP read timeout").WithValue(c.HTTP.ReadTimeout)
	}
	if _, err := time.ParseDuration(c.HTTP.WriteTimeout); c.HTTP.WriteTimeout != "" && err != nil {
		return errs.New(errs.KindInvalidInput, "Bad HTTP write timeout").WithValue(c.HTTP.WriteTimeout)
	}
	return nil
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// SessionTTL returns the session TTL as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

// GetReadTimeout parses the HTTP read timeout, zero when unset.
func (h HTTPConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(h.ReadTimeout)
	return d
}

// GetWriteTimeout parses the HTTP write timeout, zero when unset.
func (h HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(h.WriteTimeout)
	return d
}
