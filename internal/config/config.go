package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ontracksystems/ontrack-etl/internal/partition"
	"github.com/ontracksystems/ontrack-etl/internal/store"
)

// Config defines configuration for the ontrack-etl CLI.
type Config struct {
	RawBucket     string        `yaml:"raw_bucket"`
	TrustedBucket string        `yaml:"trusted_bucket"`
	TimeZone      string        `yaml:"time_zone"`
	Lag           time.Duration `yaml:"lag"`
	StagingDir    string        `yaml:"staging_dir"`
	Workers       int           `yaml:"workers"`
	RunTimeout    time.Duration `yaml:"run_timeout"`
	Sources       []string      `yaml:"sources"`
	LogLevel      string        `yaml:"log_level"`
	ListenAddr    string        `yaml:"listen_addr"`
	Schedule      time.Duration `yaml:"schedule"`
	Progress      bool          `yaml:"progress"`
	Store         StoreConfig   `yaml:"store"`
}

// StoreConfig defines object store rate limiting and retry behavior.
type StoreConfig struct {
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryMaxBackoff time.Duration `yaml:"retry_max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	so := store.DefaultOptions()
	return Config{
		TimeZone:   partition.DefaultTimeZone,
		Lag:        partition.DefaultLag,
		StagingDir: filepath.Join(os.TempDir(), "ontrack-etl"),
		Workers:    4,
		RunTimeout: 15 * time.Minute,
		LogLevel:   "info",
		ListenAddr: ":8080",
		Store: StoreConfig{
			RateLimit:       so.RateLimit,
			Burst:           so.Burst,
			RetryAttempts:   so.RetryAttempts,
			RetryBackoff:    so.RetryBackoff,
			RetryMaxBackoff: so.RetryMaxBackoff,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations.
type yamlConfig struct {
	RawBucket     string          `yaml:"raw_bucket"`
	TrustedBucket string          `yaml:"trusted_bucket"`
	TimeZone      string          `yaml:"time_zone"`
	Lag           string          `yaml:"lag"`
	StagingDir    string          `yaml:"staging_dir"`
	Workers       int             `yaml:"workers"`
	RunTimeout    string          `yaml:"run_timeout"`
	Sources       []string        `yaml:"sources"`
	LogLevel      string          `yaml:"log_level"`
	ListenAddr    string          `yaml:"listen_addr"`
	Schedule      string          `yaml:"schedule"`
	Progress      bool            `yaml:"progress"`
	Store         yamlStoreConfig `yaml:"store"`
}

type yamlStoreConfig struct {
	RateLimit       float64 `yaml:"rate_limit"`
	Burst           int     `yaml:"burst"`
	RetryAttempts   int     `yaml:"retry_attempts"`
	RetryBackoff    string  `yaml:"retry_backoff"`
	RetryMaxBackoff string  `yaml:"retry_max_backoff"`
}

// LoadFromFile loads configuration from a YAML file on top of Default.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if yc.RawBucket != "" {
		cfg.RawBucket = yc.RawBucket
	}
	if yc.TrustedBucket != "" {
		cfg.TrustedBucket = yc.TrustedBucket
	}
	if yc.TimeZone != "" {
		cfg.TimeZone = yc.TimeZone
	}
	if yc.StagingDir != "" {
		cfg.StagingDir = yc.StagingDir
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if len(yc.Sources) > 0 {
		cfg.Sources = yc.Sources
	}
	if yc.LogLevel != "" {
		cfg.LogLevel = yc.LogLevel
	}
	if yc.ListenAddr != "" {
		cfg.ListenAddr = yc.ListenAddr
	}
	cfg.Progress = yc.Progress
	if yc.Store.RateLimit != 0 {
		cfg.Store.RateLimit = yc.Store.RateLimit
	}
	if yc.Store.Burst != 0 {
		cfg.Store.Burst = yc.Store.Burst
	}
	if yc.Store.RetryAttempts != 0 {
		cfg.Store.RetryAttempts = yc.Store.RetryAttempts
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"lag", yc.Lag, &cfg.Lag},
		{"run_timeout", yc.RunTimeout, &cfg.RunTimeout},
		{"schedule", yc.Schedule, &cfg.Schedule},
		{"store.retry_backoff", yc.Store.RetryBackoff, &cfg.Store.RetryBackoff},
		{"store.retry_max_backoff", yc.Store.RetryMaxBackoff, &cfg.Store.RetryMaxBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the ONTRACK_ prefix. BUCKET_RAW and
// BUCKET_TRUSTED are honoured when the prefixed names are unset.
func (c *Config) LoadFromEnv() error {
	if v := firstEnv("ONTRACK_RAW_BUCKET", "BUCKET_RAW"); v != "" {
		c.RawBucket = v
	}
	if v := firstEnv("ONTRACK_TRUSTED_BUCKET", "BUCKET_TRUSTED"); v != "" {
		c.TrustedBucket = v
	}
	if v := os.Getenv("ONTRACK_TIME_ZONE"); v != "" {
		c.TimeZone = v
	}
	if v := os.Getenv("ONTRACK_STAGING_DIR"); v != "" {
		c.StagingDir = v
	}
	if v := os.Getenv("ONTRACK_SOURCES"); v != "" {
		c.Sources = splitList(v)
	}
	if v := os.Getenv("ONTRACK_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ONTRACK_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("ONTRACK_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"ONTRACK_WORKERS", &c.Workers},
		{"ONTRACK_RATE_BURST", &c.Store.Burst},
		{"ONTRACK_RETRY_ATTEMPTS", &c.Store.RetryAttempts},
	}
	for _, e := range ints {
		if v := os.Getenv(e.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", e.name, err)
			}
			*e.dst = n
		}
	}

	if v := os.Getenv("ONTRACK_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse ONTRACK_RATE_LIMIT: %w", err)
		}
		c.Store.RateLimit = f
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"ONTRACK_LAG", &c.Lag},
		{"ONTRACK_RUN_TIMEOUT", &c.RunTimeout},
		{"ONTRACK_SCHEDULE", &c.Schedule},
		{"ONTRACK_RETRY_BACKOFF", &c.Store.RetryBackoff},
		{"ONTRACK_RETRY_MAX_BACKOFF", &c.Store.RetryMaxBackoff},
	}
	for _, e := range durations {
		if v := os.Getenv(e.name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", e.name, err)
			}
			*e.dst = d
		}
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.RawBucket == "" {
		return errors.New("config: raw bucket is required")
	}
	if c.TrustedBucket == "" {
		return errors.New("config: trusted bucket is required")
	}
	if BucketURL(c.RawBucket) == BucketURL(c.TrustedBucket) {
		return errors.New("config: raw and trusted buckets must differ")
	}
	if _, err := partition.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Lag < 0 {
		return errors.New("config: lag must not be negative")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.RunTimeout < 0 {
		return errors.New("config: run_timeout must not be negative")
	}
	if c.Schedule < 0 {
		return errors.New("config: schedule must not be negative")
	}
	if c.StagingDir == "" {
		return errors.New("config: staging_dir is required")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Store.RetryAttempts < 0 {
		return errors.New("config: store.retry_attempts must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if override.RawBucket != "" {
		c.RawBucket = override.RawBucket
	}
	if override.TrustedBucket != "" {
		c.TrustedBucket = override.TrustedBucket
	}
	if override.TimeZone != "" {
		c.TimeZone = override.TimeZone
	}
	if override.Lag != 0 {
		c.Lag = override.Lag
	}
	if override.StagingDir != "" {
		c.StagingDir = override.StagingDir
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.RunTimeout != 0 {
		c.RunTimeout = override.RunTimeout
	}
	if len(override.Sources) > 0 {
		c.Sources = override.Sources
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.ListenAddr != "" {
		c.ListenAddr = override.ListenAddr
	}
	if override.Schedule != 0 {
		c.Schedule = override.Schedule
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Store.RateLimit != 0 {
		c.Store.RateLimit = override.Store.RateLimit
	}
	if override.Store.Burst != 0 {
		c.Store.Burst = override.Store.Burst
	}
	if override.Store.RetryAttempts != 0 {
		c.Store.RetryAttempts = override.Store.RetryAttempts
	}
	if override.Store.RetryBackoff != 0 {
		c.Store.RetryBackoff = override.Store.RetryBackoff
	}
	if override.Store.RetryMaxBackoff != 0 {
		c.Store.RetryMaxBackoff = override.Store.RetryMaxBackoff
	}
	return c
}

// StoreOptions converts the store section into store.Options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		RateLimit:       c.Store.RateLimit,
		Burst:           c.Store.Burst,
		RetryAttempts:   c.Store.RetryAttempts,
		RetryBackoff:    c.Store.RetryBackoff,
		RetryMaxBackoff: c.Store.RetryMaxBackoff,
	}
}

// BucketURL turns a bare bucket name into an s3:// URL. Values that already
// carry a scheme are returned unchanged.
func BucketURL(v string) string {
	if v == "" || strings.Contains(v, "://") {
		return v
	}
	return "s3://" + v
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
