package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "amqp://localhost:5672/", cfg.Broker.URL)
	assert.Equal(t, "pedidos_topic", cfg.Broker.Exchange)
	assert.Equal(t, 4*time.Second, cfg.Broker.Heartbeat())
	assert.Equal(t, time.Second, cfg.Broker.ReconnectBase())
	assert.Equal(t, 30*time.Second, cfg.Broker.ReconnectMax())
	assert.Equal(t, 5, cfg.Broker.MaxReconnects)
	assert.Equal(t, 2*time.Second, cfg.Broker.SettleDelay())
	assert.Equal(t, 10*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, 30*time.Second, cfg.Board.PollInterval())
	assert.Equal(t, 200.0, cfg.Cart.DeliveryFee)
	assert.Equal(t, 15, cfg.Cart.DeliveryBuffer)
	assert.Equal(t, 256, cfg.Catalog.CacheSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
broker:
  url: amqp://broker.internal:5672/
  heartbeat_seconds: 8
  reconnect_base_ms: 500
backend:
  base_url: https://api.internal
  timeout_seconds: 3
board:
  poll_seconds: 10
cart:
  delivery_fee: 350
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "amqp://broker.internal:5672/", cfg.Broker.URL)
	assert.Equal(t, 8*time.Second, cfg.Broker.Heartbeat())
	assert.Equal(t, 500*time.Millisecond, cfg.Broker.ReconnectBase())
	assert.Equal(t, "https://api.internal", cfg.Backend.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Board.PollInterval())
	assert.Equal(t, 350.0, cfg.Cart.DeliveryFee)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched fields still fall back to defaults.
	assert.Equal(t, "pedidos_topic", cfg.Broker.Exchange)
	assert.Equal(t, 30*time.Second, cfg.Broker.ReconnectMax())
	assert.Equal(t, 15, cfg.Cart.DeliveryBuffer)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeConfig(t, "broker: [not a mapping")
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
broker:
  url: amqp://from-file:5672/
identity:
  token: file-token
`)

	t.Setenv("COMANDA_BROKER_URL", "amqp://from-env:5672/")
	t.Setenv("COMANDA_TOKEN", "env-token")
	t.Setenv("COMANDA_LOG_LEVEL", "warn")
	t.Setenv("COMANDA_METRICS_ADDR", ":9091")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "amqp://from-env:5672/", cfg.Broker.URL)
	assert.Equal(t, "env-token", cfg.Identity.Token)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, ":9091", cfg.Metrics.Addr)
}
