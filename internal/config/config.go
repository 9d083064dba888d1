// Package config loads the service configuration of cmd/jascrapers from a
// TOML file, a .env file and JASCRAPERS_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	jascrapers "github.com/Joy-Aviation/Joy-Aviation-Supplies"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/cron"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier"
	"github.com/Joy-Aviation/Joy-Aviation-Supplies/supplier/httpjson"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "JASCRAPERS_"

// Config is the service configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `toml:"addr"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// StoreDSN selects the job store: memory://, postgres://...,
	// sqlite://<path> or redis://...
	StoreDSN string `toml:"store_dsn"`

	// Sink selects where canonical records are written.
	Sink Sink `toml:"sink"`

	Orchestrator Orchestrator `toml:"orchestrator"`
	Suppliers    []Supplier   `toml:"supplier"`
	Cron         []cron.Entry `toml:"cron"`
}

// Sink configures the result sink.
type Sink struct {
	// DSN is memory://, file://<dir>, postgres://..., mongodb://... or
	// redis://...
	DSN string `toml:"dsn"`
	// Database names the MongoDB database. Defaults to "jascrapers".
	Database string `toml:"database"`
	// TTL expires Redis results. Zero keeps them.
	TTL time.Duration `toml:"ttl"`
}

// Orchestrator overrides jascrapers.DefaultConfig. Zero values keep the
// default.
type Orchestrator struct {
	Concurrency           int           `toml:"concurrency"`
	ScanInterval          time.Duration `toml:"scan_interval"`
	LeaseTTL              time.Duration `toml:"lease_ttl"`
	HeartbeatInterval     time.Duration `toml:"heartbeat_interval"`
	JobTimeout            time.Duration `toml:"job_timeout"`
	StoreTimeout          time.Duration `toml:"store_timeout"`
	SinkTimeout           time.Duration `toml:"sink_timeout"`
	MaxRetries            *int          `toml:"max_retries"`
	MaxDataQualityRetries *int          `toml:"max_data_quality_retries"`
	BackoffBase           time.Duration `toml:"backoff_base"`
	BackoffMax            time.Duration `toml:"backoff_max"`
	BackoffJitter         *bool         `toml:"backoff_jitter"`
	DedupBucket           time.Duration `toml:"dedup_bucket"`
	ShutdownTimeout       time.Duration `toml:"shutdown_timeout"`
}

// Supplier declares one supplier served by the generic JSON adapter.
type Supplier struct {
	Name           string                `toml:"name"`
	MaxConcurrency int                   `toml:"max_concurrency"`
	RateLimit      supplier.RateLimit    `toml:"rate_limit"`
	Timeout        time.Duration         `toml:"timeout"`
	Currency       string                `toml:"currency"`
	Timezone       string                `toml:"timezone"`
	Mapping        supplier.FieldMapping `toml:"mapping"`

	BaseURL    string   `toml:"base_url"`
	Path       string   `toml:"path"`
	RecordsKey string   `toml:"records_key"`
	Required   []string `toml:"required"`
	UserAgent  string   `toml:"user_agent"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		StoreDSN: "memory://",
		Sink:     Sink{DSN: "memory://", Database: "jascrapers"},
	}
}

// Load reads the .env file (if present), then the TOML file at path (if
// non-empty), then environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("ADDR", &c.Addr)
	str("LOG_LEVEL", &c.LogLevel)
	str("STORE_DSN", &c.StoreDSN)
	str("SINK_DSN", &c.Sink.DSN)
	str("SINK_DATABASE", &c.Sink.Database)

	if v, ok := lookup(EnvPrefix + "CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sCONCURRENCY: %w", EnvPrefix, err)
		}
		c.Orchestrator.Concurrency = n
	}
	if v, ok := lookup(EnvPrefix + "MAX_RETRIES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sMAX_RETRIES: %w", EnvPrefix, err)
		}
		c.Orchestrator.MaxRetries = &n
	}
	if v, ok := lookup(EnvPrefix + "JOB_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %sJOB_TIMEOUT: %w", EnvPrefix, err)
		}
		c.Orchestrator.JobTimeout = d
	}
	return nil
}

// Validate checks the configuration for errors that would otherwise only
// surface at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.StoreDSN == "" {
		errs = append(errs, errors.New("store_dsn is required"))
	}
	if c.Sink.DSN == "" {
		errs = append(errs, errors.New("sink.dsn is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Suppliers))
	for i, s := range c.Suppliers {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("supplier[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("supplier %q declared twice", s.Name))
		case s.BaseURL == "":
			errs = append(errs, fmt.Errorf("supplier %q: base_url is required", s.Name))
		}
		seen[s.Name] = true
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				errs = append(errs, fmt.Errorf("supplier %q: %w", s.Name, err))
			}
		}
	}
	for _, e := range c.Cron {
		if e.Supplier != "" && !seen[e.Supplier] {
			errs = append(errs, fmt.Errorf("cron %q: unknown supplier %q", e.Name, e.Supplier))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// Options returns the orchestrator options for the configured overrides.
func (c *Config) Options() []jascrapers.Option {
	cfg := jascrapers.DefaultConfig()
	o := c.Orchestrator
	setInt(&cfg.Concurrency, o.Concurrency)
	setDur(&cfg.ScanInterval, o.ScanInterval)
	setDur(&cfg.LeaseTTL, o.LeaseTTL)
	setDur(&cfg.HeartbeatInterval, o.HeartbeatInterval)
	setDur(&cfg.JobTimeout, o.JobTimeout)
	setDur(&cfg.StoreTimeout, o.StoreTimeout)
	setDur(&cfg.SinkTimeout, o.SinkTimeout)
	setDur(&cfg.BackoffBase, o.BackoffBase)
	setDur(&cfg.BackoffMax, o.BackoffMax)
	setDur(&cfg.DedupBucket, o.DedupBucket)
	setDur(&cfg.ShutdownTimeout, o.ShutdownTimeout)
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.MaxDataQualityRetries != nil {
		cfg.MaxDataQualityRetries = *o.MaxDataQualityRetries
	}
	if o.BackoffJitter != nil {
		cfg.BackoffJitter = *o.BackoffJitter
	}
	return []jascrapers.Option{jascrapers.WithConfig(cfg)}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDur(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

// Descriptor returns the supplier descriptor for s.
func (s Supplier) Descriptor() (supplier.Descriptor, error) {
	d := supplier.Descriptor{
		Name:           s.Name,
		MaxConcurrency: s.MaxConcurrency,
		RateLimit:      s.RateLimit,
		Timeout:        s.Timeout,
		Mapping:        s.Mapping,
		Currency:       s.Currency,
	}
	if s.Timezone != "" {
		loc, err := time.LoadLocation(s.Timezone)
		if err != nil {
			return d, fmt.Errorf("config: supplier %q: %w", s.Name, err)
		}
		d.Location = loc
	}
	return d, nil
}

// Adapter builds the JSON adapter for s.
func (s Supplier) Adapter() (*httpjson.Adapter, error) {
	return httpjson.New(httpjson.Options{
		BaseURL:    s.BaseURL,
		Path:       s.Path,
		RecordsKey: s.RecordsKey,
		Required:   s.Required,
		UserAgent:  s.UserAgent,
		Timeout:    s.Timeout,
	})
}

// Registry registers every configured supplier.
func (c *Config) Registry() (*supplier.Registry, error) {
	reg := supplier.NewRegistry()
	for _, s := range c.Suppliers {
		d, err := s.Descriptor()
		if err != nil {
			return nil, err
		}
		a, err := s.Adapter()
		if err != nil {
			return nil, fmt.Errorf("config: supplier %q: %w", s.Name, err)
		}
		if err := reg.Register(d, a); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	return reg, nil
}
