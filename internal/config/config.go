// Package config loads kadnode's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kunal-geeks/kadnode/internal/logging"
	"github.com/kunal-geeks/kadnode/internal/p2p"
)

// Config is the full node configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	Lookup    LookupConfig    `yaml:"lookup"`
	Log       logging.Config  `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// NodeConfig is where the node listens and whom it contacts first.
type NodeConfig struct {
	Host      string `yaml:"host"`
	Port      uint16 `yaml:"port"`
	Bootstrap string `yaml:"bootstrap"` // host:port, optional
}

// TransportConfig tunes the UDP transport.
type TransportConfig struct {
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxDatagramSize int           `yaml:"max_datagram_size"`
}

// LookupConfig tunes iterative lookups.
type LookupConfig struct {
	// StaleRounds stops a lookup after this many rounds without a closer
	// peer. Zero disables the rule.
	StaleRounds int `yaml:"stale_rounds"`
}

// MetricsConfig controls the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Transport: TransportConfig{
			RequestTimeout:  p2p.DefaultRequestTimeout,
			MaxDatagramSize: p2p.DefaultMaxDatagramSize,
		},
		Log: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults and validates the result. An empty
// path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Node.Host == "" {
		return errors.New("node config: host is required")
	}
	if c.Node.Bootstrap != "" {
		if _, _, err := net.SplitHostPort(c.Node.Bootstrap); err != nil {
			return fmt.Errorf("node config: bootstrap %q: %w", c.Node.Bootstrap, err)
		}
	}

	if c.Transport.RequestTimeout <= 0 {
		return errors.New("transport config: request_timeout must be positive")
	}
	if c.Transport.MaxDatagramSize < 512 || c.Transport.MaxDatagramSize > 65507 {
		return fmt.Errorf("transport config: max_datagram_size %d out of range [512, 65507]",
			c.Transport.MaxDatagramSize)
	}

	if c.Lookup.StaleRounds < 0 {
		return errors.New("lookup config: stale_rounds must not be negative")
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			return fmt.Errorf("metrics config: addr %q: %w", c.Metrics.Addr, err)
		}
	}
	return nil
}

// ListenAddr is the host:port the node binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Node.Host, strconv.Itoa(int(c.Node.Port)))
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
