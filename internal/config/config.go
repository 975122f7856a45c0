// Package config loads the client configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the comanda client.
type Config struct {
	Broker   Broker   `yaml:"broker"`
	Backend  Backend  `yaml:"backend"`
	Identity Identity `yaml:"identity"`
	Board    Board    `yaml:"board"`
	Cart     Cart     `yaml:"cart"`
	Catalog  Catalog  `yaml:"catalog"`
	Logging  Logging  `yaml:"logging"`
	Metrics  Metrics  `yaml:"metrics"`
}

// Broker configures the push transport. Intervals are plain numbers in the
// file (seconds / milliseconds) to keep the YAML simple.
type Broker struct {
	URL                string `yaml:"url"`
	Exchange           string `yaml:"exchange"`
	HeartbeatSeconds   int    `yaml:"heartbeat_seconds"`
	ReconnectBaseMS    int    `yaml:"reconnect_base_ms"`
	ReconnectMaxMS     int    `yaml:"reconnect_max_ms"`
	MaxReconnects      int    `yaml:"max_reconnects"`
	SettleDelaySeconds int    `yaml:"settle_delay_seconds"`
}

// Heartbeat returns the keep-alive interval.
func (b Broker) Heartbeat() time.Duration { return time.Duration(b.HeartbeatSeconds) * time.Second }

// ReconnectBase returns the first-retry backoff base.
func (b Broker) ReconnectBase() time.Duration {
	return time.Duration(b.ReconnectBaseMS) * time.Millisecond
}

// ReconnectMax returns the backoff cap.
func (b Broker) ReconnectMax() time.Duration {
	return time.Duration(b.ReconnectMaxMS) * time.Millisecond
}

// SettleDelay returns how long the router waits after readiness before
// connecting.
func (b Broker) SettleDelay() time.Duration {
	return time.Duration(b.SettleDelaySeconds) * time.Second
}

// Backend configures the order command API.
type Backend struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-request timeout.
func (b Backend) Timeout() time.Duration { return time.Duration(b.TimeoutSeconds) * time.Second }

// Identity configures where the bearer credential comes from.
type Identity struct {
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`
}

// Board configures the order board engine.
type Board struct {
	PollSeconds int `yaml:"poll_seconds"`
}

// PollInterval returns the full-refresh polling interval.
func (b Board) PollInterval() time.Duration { return time.Duration(b.PollSeconds) * time.Second }

// Cart configures the pricing engine.
type Cart struct {
	DeliveryFee    float64 `yaml:"delivery_fee"`
	DeliveryBuffer int     `yaml:"delivery_buffer_minutes"`
}

// Catalog configures the article lookup cache.
type Catalog struct {
	CacheSize int `yaml:"cache_size"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Metrics configures the Prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Load reads the YAML file at path, applies environment overrides, and fills
// in defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a configuration with every default applied, for callers
// that run without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	cfg.applyDefaults()
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COMANDA_BROKER_URL"); v != "" {
		cfg.Broker.URL = v
	}
	if v := os.Getenv("COMANDA_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("COMANDA_TOKEN"); v != "" {
		cfg.Identity.Token = v
	}
	if v := os.Getenv("COMANDA_TOKEN_FILE"); v != "" {
		cfg.Identity.TokenFile = v
	}
	if v := os.Getenv("COMANDA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("COMANDA_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Broker.URL == "" {
		c.Broker.URL = "amqp://localhost:5672/"
	}
	if c.Broker.Exchange == "" {
		c.Broker.Exchange = "pedidos_topic"
	}
	if c.Broker.HeartbeatSeconds <= 0 {
		c.Broker.HeartbeatSeconds = 4
	}
	if c.Broker.ReconnectBaseMS <= 0 {
		c.Broker.ReconnectBaseMS = 1000
	}
	if c.Broker.ReconnectMaxMS <= 0 {
		c.Broker.ReconnectMaxMS = 30000
	}
	if c.Broker.MaxReconnects <= 0 {
		c.Broker.MaxReconnects = 5
	}
	if c.Broker.SettleDelaySeconds <= 0 {
		c.Broker.SettleDelaySeconds = 2
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = "http://localhost:3000"
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = 10
	}
	if c.Board.PollSeconds <= 0 {
		c.Board.PollSeconds = 30
	}
	if c.Cart.DeliveryFee <= 0 {
		c.Cart.DeliveryFee = 200
	}
	if c.Cart.DeliveryBuffer <= 0 {
		c.Cart.DeliveryBuffer = 15
	}
	if c.Catalog.CacheSize <= 0 {
		c.Catalog.CacheSize = 256
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
