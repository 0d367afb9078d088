// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate pins CONFIG_PATH at an empty file so tests never pick up a
// config.yaml lying around the working directory.
func isolate(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("TOKEN_SHARED_SECRET", "test-secret")
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.BindAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 60, cfg.Server.HandshakeRateLimit)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.PubSub.URL)
	assert.Equal(t, "TATAMI", cfg.PubSub.StreamName)
	assert.Empty(t, cfg.Database.URL)
	assert.Equal(t, "tatami", cfg.Token.Issuer)
	assert.Equal(t, 25, cfg.WebSocket.PingIntervalSeconds)
	assert.Equal(t, 90, cfg.WebSocket.IdleTimeoutSeconds)
	assert.Equal(t, 256, cfg.WebSocket.SendQueueSize)
	assert.Equal(t, 3, cfg.Command.RetryMax)
	assert.Equal(t, 300, cfg.Match.DefaultDurationSeconds)
	assert.Equal(t, ":9090", cfg.Metrics.BindAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PUBSUB_URL", "nats://bus.internal:4222")
	t.Setenv("DATABASE_URL", "postgres://tatami@db/tatami")
	t.Setenv("WS_PING_INTERVAL_SECONDS", "15")
	t.Setenv("WS_IDLE_TIMEOUT_SECONDS", "45")
	t.Setenv("COMMAND_RETRY_MAX", "5")
	t.Setenv("HTTP_BIND_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "nats://bus.internal:4222", cfg.PubSub.URL)
	assert.Equal(t, "postgres://tatami@db/tatami", cfg.Database.URL)
	assert.Equal(t, 15, cfg.WebSocket.PingIntervalSeconds)
	assert.Equal(t, 45, cfg.WebSocket.IdleTimeoutSeconds)
	assert.Equal(t, 5, cfg.Command.RetryMax)
	assert.Equal(t, ":9999", cfg.Server.BindAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "test-secret", cfg.Token.SharedSecret)
}

func TestLoadConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  bind_addr: ":7070"
websocket:
  ping_interval_seconds: 20
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.BindAddr)
	assert.Equal(t, 20, cfg.WebSocket.PingIntervalSeconds)
	assert.Equal(t, "warn", cfg.Logging.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, 90, cfg.WebSocket.IdleTimeoutSeconds)
}

func TestEnvBeatsConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("LOG_LEVEL", "trace")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "trace", cfg.Logging.Level)
}

func TestLoadRejectsBadConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml:::"), 0o600))
	t.Setenv(ConfigPathEnvVar, path)

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	isolate(t)
	t.Setenv("TOKEN_SHARED_SECRET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOKEN_SHARED_SECRET")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Token.SharedSecret = "secret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(_ *Config) {}, ""},
		{"missing shared secret", func(c *Config) { c.Token.SharedSecret = "" }, "TOKEN_SHARED_SECRET"},
		{"missing pubsub url", func(c *Config) { c.PubSub.URL = "" }, "PUBSUB_URL"},
		{"zero ping interval", func(c *Config) { c.WebSocket.PingIntervalSeconds = 0 }, "WS_PING_INTERVAL_SECONDS"},
		{"idle not above ping", func(c *Config) {
			c.WebSocket.PingIntervalSeconds = 30
			c.WebSocket.IdleTimeoutSeconds = 30
		}, "WS_IDLE_TIMEOUT_SECONDS"},
		{"zero send queue", func(c *Config) { c.WebSocket.SendQueueSize = 0 }, "WS_SEND_QUEUE_SIZE"},
		{"zero send timeout", func(c *Config) { c.WebSocket.SendTimeoutMs = 0 }, "WS_SEND_TIMEOUT_MS"},
		{"retry max below one", func(c *Config) { c.Command.RetryMax = 0 }, "COMMAND_RETRY_MAX"},
		{"zero match duration", func(c *Config) { c.Match.DefaultDurationSeconds = 0 }, "MATCH_DEFAULT_DURATION_SECONDS"},
		{"zero reconcile interval", func(c *Config) { c.Match.TimerReconcileSeconds = 0 }, "reconcile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWebSocketDurations(t *testing.T) {
	ws := WebSocketConfig{
		PingIntervalSeconds: 25,
		IdleTimeoutSeconds:  90,
		SendTimeoutMs:       2000,
	}
	assert.Equal(t, 25*time.Second, ws.PingInterval())
	assert.Equal(t, 90*time.Second, ws.IdleTimeout())
	assert.Equal(t, 2*time.Second, ws.SendTimeout())
}

func TestFindConfigFilePrefersEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anywhere.yaml")
	t.Setenv(ConfigPathEnvVar, path)
	assert.Equal(t, path, findConfigFile())
}
