// Package config loads and validates the knockbot YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"knockbot/resolver"
	"knockbot/rules"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	DNS      DNSConfig      `yaml:"dns"`
	Rules    []string       `yaml:"rules"`
	Watch    WatchConfig    `yaml:"watch"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type TelegramConfig struct {
	Token        string  `yaml:"token"`
	AllowedUsers []int64 `yaml:"allowed_users"`
	Debug        bool    `yaml:"debug"`
	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int `yaml:"poll_timeout"`
}

type DNSConfig struct {
	// ShareURL is opened by the operator to publish their current IP to
	// the dynamic-DNS provider.
	ShareURL         string        `yaml:"share_url"`
	DDNSHost         string        `yaml:"ddns_host"`
	AuthoritativeDNS string        `yaml:"authoritative_dns"`
	Lookup           resolver.Mode `yaml:"lookup"`
	KnockDelay       time.Duration `yaml:"knock_delay"`
}

// WatchConfig enables the NFQUEUE knock watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	QueueID  uint16        `yaml:"queue_id"`
	MaxQueue uint32        `yaml:"max_queue"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Override adjusts a decoded config before defaults and validation, e.g.
// to apply command-line flags.
type Override func(*Config)

// Load reads path, expands ${VAR} references, applies overrides and
// defaults and validates the result.
func Load(path string, overrides ...Override) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := Parse(data, overrides...)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse is Load without the file read.
func Parse(data []byte, overrides ...Override) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse: %w", err)
	}

	for _, o := range overrides {
		o(&cfg)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Telegram.PollTimeout == 0 {
		c.Telegram.PollTimeout = 60
	}
	if c.DNS.Lookup == "" {
		c.DNS.Lookup = resolver.ModeDig
	}
	if c.DNS.KnockDelay == 0 {
		c.DNS.KnockDelay = time.Second
	}
	if c.Watch.MaxQueue == 0 {
		c.Watch.MaxQueue = 100
	}
	if c.Watch.Cooldown == 0 {
		c.Watch.Cooldown = 10 * time.Minute
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("%w: telegram.token is required", ErrInvalidConfig)
	}
	if len(c.Telegram.AllowedUsers) == 0 {
		return fmt.Errorf("%w: telegram.allowed_users must list at least one user", ErrInvalidConfig)
	}
	if c.Telegram.PollTimeout < 0 {
		return fmt.Errorf("%w: telegram.poll_timeout must not be negative", ErrInvalidConfig)
	}
	if c.DNS.ShareURL == "" {
		return fmt.Errorf("%w: dns.share_url is required", ErrInvalidConfig)
	}
	if c.DNS.DDNSHost == "" {
		return fmt.Errorf("%w: dns.ddns_host is required", ErrInvalidConfig)
	}
	if c.DNS.AuthoritativeDNS == "" {
		return fmt.Errorf("%w: dns.authoritative_dns is required", ErrInvalidConfig)
	}
	switch c.DNS.Lookup {
	case resolver.ModeDig, resolver.ModeNative:
	default:
		return fmt.Errorf("%w: dns.lookup must be %q or %q, got %q",
			ErrInvalidConfig, resolver.ModeDig, resolver.ModeNative, c.DNS.Lookup)
	}
	if c.DNS.KnockDelay < 0 {
		return fmt.Errorf("%w: dns.knock_delay must not be negative", ErrInvalidConfig)
	}
	if err := rules.Validate(c.Rules); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalidConfig, c.Log.Format)
	}
	return nil
}

// Allowed returns the authorized-user set.
func (c *Config) Allowed() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.Telegram.AllowedUsers))
	for _, id := range c.Telegram.AllowedUsers {
		set[id] = struct{}{}
	}
	return set
}
