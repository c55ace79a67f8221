// Package config loads the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/inboxd/calengine/lock"
)

// CalendarConfig holds reconciliation behavior switches.
type CalendarConfig struct {
	// ExchangeCompat discards exceptions on series time changes instead of
	// shifting them, matching Exchange's behavior.
	ExchangeCompat bool `yaml:"exchange_compat"`

	// SynthesizeDeclineExceptions creates a local cancellation exception
	// when every addressee of a reply declined one instance.
	SynthesizeDeclineExceptions bool `yaml:"synthesize_decline_exceptions"`
}

// ClusterConfig holds the lease lock service settings. An empty URL
// disables cluster locking.
type ClusterConfig struct {
	URL string `yaml:"url"`
	// Owner is this process's writer identity. Defaults to the hostname.
	Owner string `yaml:"owner"`
}

// StorageConfig holds the metadata database settings.
type StorageConfig struct {
	// DSN is the SQLite data source name.
	DSN string `yaml:"dsn"`
}

// Config is the top-level application configuration.
type Config struct {
	Calendar CalendarConfig `yaml:"calendar"`
	Lock     lock.Config    `yaml:"lock"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Storage  StorageConfig  `yaml:"storage"`
}

// Default returns the in-memory default configuration.
func Default() *Config {
	return &Config{
		Lock: lock.DefaultConfig(),
		Storage: StorageConfig{
			DSN: "file:calengine.db?_journal_mode=WAL",
		},
	}
}

// Load reads a YAML config file, filling omitted values with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize fills in missing or zero values so partially filled configs
// still behave.
func (c *Config) normalize() {
	def := lock.DefaultConfig()
	if c.Lock.Timeout <= 0 {
		c.Lock.Timeout = def.Timeout
	}
	if c.Lock.MaxWaiters <= 0 {
		c.Lock.MaxWaiters = def.MaxWaiters
	}
	if c.Lock.LeaseTTL <= 0 {
		c.Lock.LeaseTTL = def.LeaseTTL
	}
	if c.Cluster.URL != "" && c.Cluster.Owner == "" {
		host, err := os.Hostname()
		if err != nil {
			host = fmt.Sprintf("calengine-%d", time.Now().UnixNano())
		}
		c.Cluster.Owner = host
	}
	if c.Storage.DSN == "" {
		c.Storage.DSN = Default().Storage.DSN
	}
}
