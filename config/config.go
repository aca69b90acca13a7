// Package config loads the daemon's YAML configuration.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/chatdrop/browser"
	"github.com/hazyhaar/chatdrop/endpoint"
	"github.com/hazyhaar/chatdrop/observability"
	"github.com/hazyhaar/chatdrop/settings"
)

// Config is the top-level configuration.
type Config struct {
	Name     string `yaml:"name"`
	Listen   string `yaml:"listen"`
	Token    string `yaml:"token"`
	Database string `yaml:"database"`
	// SQLTrace logs database statements through the trace driver.
	SQLTrace SQLTraceConfig `yaml:"sql_trace"`

	Browser   browser.Config                `yaml:"browser"`
	Router    RouterConfig                  `yaml:"router"`
	Detection DetectionConfig               `yaml:"detection"`
	Probe     ProbeConfig                   `yaml:"probe"`
	Knowledge KnowledgeConfig               `yaml:"knowledge"`
	Acquire   AcquireConfig                 `yaml:"acquire"`
	Heartbeat HeartbeatConfig               `yaml:"heartbeat"`
	Retention observability.RetentionConfig `yaml:"retention"`

	// Seed is written to the settings store on first start only, when no
	// chat URL is configured yet.
	Seed *endpoint.Options `yaml:"seed"`
}

// RouterConfig tunes message delivery.
type RouterConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout"`
	Parallelism int           `yaml:"parallelism"`
}

// DetectionConfig tunes upload-completion detection.
type DetectionConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	QuietPeriod  time.Duration `yaml:"quiet_period"`
}

// SQLTraceConfig tunes statement logging. Disabled by default.
type SQLTraceConfig struct {
	Enabled bool          `yaml:"enabled"`
	Slow    time.Duration `yaml:"slow"`
	Quiet   time.Duration `yaml:"quiet"`
}

// ProbeConfig tunes reachability probes.
type ProbeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// KnowledgeConfig tunes knowledge uploads.
type KnowledgeConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	Markdown bool          `yaml:"markdown"`
	Settle   time.Duration `yaml:"settle"`
}

// AcquireConfig tunes document fetching. BearerToken is sent only to
// BearerHosts; browser cookies are sent to any host unless disabled.
type AcquireConfig struct {
	BearerToken      string   `yaml:"bearer_token"`
	BearerHosts      []string `yaml:"bearer_hosts"`
	NoBrowserCookies bool     `yaml:"no_browser_cookies"`
}

// HeartbeatConfig tunes liveness reporting.
type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval"`
	Stale    time.Duration `yaml:"stale"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Browser: browser.Config{Headless: true, Stealth: true}}
	c.applyDefaults()
	return c
}

// LoadFile reads a YAML file. Missing fields take their defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Browser: browser.Config{Headless: true, Stealth: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "chatdrop"
	}
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8787"
	}
	if c.Database == "" {
		c.Database = "data/chatdrop.db"
	}
	if c.Router.CallTimeout <= 0 {
		c.Router.CallTimeout = 35 * time.Second
	}
	if c.Router.Parallelism <= 0 {
		c.Router.Parallelism = 16
	}
	if c.Detection.Timeout <= 0 {
		c.Detection.Timeout = 30 * time.Second
	}
	if c.Detection.PollInterval <= 0 {
		c.Detection.PollInterval = 500 * time.Millisecond
	}
	if c.Detection.QuietPeriod <= 0 {
		c.Detection.QuietPeriod = 5 * time.Second
	}
	if c.Probe.Timeout <= 0 {
		c.Probe.Timeout = 5 * time.Second
	}
	if c.Knowledge.Timeout <= 0 {
		c.Knowledge.Timeout = 120 * time.Second
	}
	if c.Knowledge.Settle <= 0 {
		c.Knowledge.Settle = time.Second
	}
	if c.Heartbeat.Interval <= 0 {
		c.Heartbeat.Interval = 30 * time.Second
	}
	if c.Heartbeat.Stale <= 0 {
		c.Heartbeat.Stale = 4 * c.Heartbeat.Interval
	}
	if c.Retention.EventDays == 0 {
		c.Retention.EventDays = 30
	}
	if c.Retention.HeartbeatDays == 0 {
		c.Retention.HeartbeatDays = 7
	}
}

func (c *Config) validate() error {
	// Detection must finish before the router gives up on the frame.
	if c.Detection.Timeout >= c.Router.CallTimeout {
		return fmt.Errorf("config: detection.timeout (%s) must be shorter than router.call_timeout (%s)",
			c.Detection.Timeout, c.Router.CallTimeout)
	}
	if c.Detection.QuietPeriod >= c.Detection.Timeout {
		return fmt.Errorf("config: detection.quiet_period (%s) must be shorter than detection.timeout (%s)",
			c.Detection.QuietPeriod, c.Detection.Timeout)
	}
	return nil
}

// SeedSettings writes Seed into store when neither chat URL is set. It
// reports whether anything was written.
func (c *Config) SeedSettings(ctx context.Context, store settings.Store, p endpoint.Prober) (bool, error) {
	if c.Seed == nil {
		return false, nil
	}
	cur, err := endpoint.LoadConfig(ctx, store)
	if err != nil {
		return false, err
	}
	if cur.Configured() {
		return false, nil
	}
	if _, err := endpoint.SaveOptions(ctx, store, p, *c.Seed); err != nil {
		return false, fmt.Errorf("config: seed settings: %w", err)
	}
	return true, nil
}
