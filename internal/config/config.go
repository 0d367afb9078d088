// Tatami - Live Tournament Operations Backend
// Copyright 2026 Tatami Live (tatamilive)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tatamilive/tatami

// Package config loads and validates the process configuration.
//
// Configuration is layered (Koanf v2):
//  1. Defaults: built-in values for every optional setting
//  2. Config File: optional YAML file for persistent settings
//  3. Environment Variables: override any setting
//
// Environment variables are the deployment contract; the names in envKeyMap
// must not be renamed without coordinating with operators.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tatami/config.yaml",
	"/etc/tatami/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	PubSub    PubSubConfig    `koanf:"pubsub"`
	Database  DatabaseConfig  `koanf:"database"`
	Token     TokenConfig     `koanf:"token"`
	WebSocket WebSocketConfig `koanf:"websocket"`
	Command   CommandConfig   `koanf:"command"`
	Match     MatchConfig     `koanf:"match"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	BindAddr string `koanf:"bind_addr"`

	// ReadHeaderTimeout bounds the time spent reading request headers.
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSOrigins lists allowed origins for browser clients.
	CORSOrigins []string `koanf:"cors_origins"`

	// HandshakeRateLimit is the per-IP WebSocket handshake limit per minute.
	HandshakeRateLimit int `koanf:"handshake_rate_limit"`
}

// PubSubConfig configures the NATS-backed bus.
type PubSubConfig struct {
	URL string `koanf:"url"`

	// StreamName is the JetStream stream holding channel subjects.
	StreamName string `koanf:"stream_name"`

	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// DatabaseConfig configures the durable match store.
type DatabaseConfig struct {
	// URL is a Postgres DSN. Empty selects the in-memory store.
	URL string `koanf:"url"`

	// CallTimeout bounds every store call.
	CallTimeout time.Duration `koanf:"call_timeout"`

	// HealthTimeout bounds the health probe query.
	HealthTimeout time.Duration `koanf:"health_timeout"`
}

// TokenConfig configures bearer token verification.
type TokenConfig struct {
	SharedSecret string `koanf:"shared_secret"`
	Issuer       string `koanf:"issuer"`
}

// WebSocketConfig configures connection heartbeat and backpressure policy.
type WebSocketConfig struct {
	PingIntervalSeconds int `koanf:"ping_interval_seconds"`
	IdleTimeoutSeconds  int `koanf:"idle_timeout_seconds"`
	SendQueueSize       int `koanf:"send_queue_size"`
	SendTimeoutMs       int `koanf:"send_timeout_ms"`
}

// PingInterval returns the server heartbeat interval.
func (c WebSocketConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// IdleTimeout returns the idle eviction threshold.
func (c WebSocketConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// SendTimeout returns the per-frame send deadline.
func (c WebSocketConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// CommandConfig configures command processing.
type CommandConfig struct {
	// RetryMax bounds optimistic-concurrency retries per command.
	RetryMax int `koanf:"retry_max"`

	// RateLimit is the per-connection inbound command rate in commands/second.
	RateLimit float64 `koanf:"rate_limit"`

	// RateBurst is the per-connection inbound command burst.
	RateBurst int `koanf:"rate_burst"`
}

// MatchConfig configures match timer behavior.
type MatchConfig struct {
	DefaultDurationSeconds int `koanf:"default_duration_seconds"`

	// TimerReconcileSeconds is how often the in-memory timer is persisted
	// through the command path.
	TimerReconcileSeconds int `koanf:"timer_reconcile_seconds"`
}

// MetricsConfig configures the Prometheus scrape listener.
type MetricsConfig struct {
	BindAddr string `koanf:"bind_addr"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values applied.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddr:           ":8080",
			ReadHeaderTimeout:  10 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			CORSOrigins:        []string{"*"},
			HandshakeRateLimit: 60,
		},
		PubSub: PubSubConfig{
			URL:           "nats://127.0.0.1:4222",
			StreamName:    "TATAMI",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Database: DatabaseConfig{
			URL:           "",
			CallTimeout:   2 * time.Second,
			HealthTimeout: 500 * time.Millisecond,
		},
		Token: TokenConfig{
			SharedSecret: "",
			Issuer:       "tatami",
		},
		WebSocket: WebSocketConfig{
			PingIntervalSeconds: 25,
			IdleTimeoutSeconds:  90,
			SendQueueSize:       256,
			SendTimeoutMs:       2000,
		},
		Command: CommandConfig{
			RetryMax:  3,
			RateLimit: 10,
			RateBurst: 20,
		},
		Match: MatchConfig{
			DefaultDurationSeconds: 300,
			TimerReconcileSeconds:  10,
		},
		Metrics: MetricsConfig{
			BindAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envKeyMap maps environment variable names to config paths.
var envKeyMap = map[string]string{
	"PUBSUB_URL":                     "pubsub.url",
	"PUBSUB_STREAM_NAME":             "pubsub.stream_name",
	"DATABASE_URL":                   "database.url",
	"TOKEN_SHARED_SECRET":            "token.shared_secret",
	"TOKEN_ISSUER":                   "token.issuer",
	"WS_PING_INTERVAL_SECONDS":       "websocket.ping_interval_seconds",
	"WS_IDLE_TIMEOUT_SECONDS":        "websocket.idle_timeout_seconds",
	"WS_SEND_QUEUE_SIZE":             "websocket.send_queue_size",
	"WS_SEND_TIMEOUT_MS":             "websocket.send_timeout_ms",
	"COMMAND_RETRY_MAX":              "command.retry_max",
	"MATCH_DEFAULT_DURATION_SECONDS": "match.default_duration_seconds",
	"METRICS_BIND_ADDR":              "metrics.bind_addr",
	"HTTP_BIND_ADDR":                 "server.bind_addr",
	"LOG_LEVEL":                      "logging.level",
	"LOG_FORMAT":                     "logging.format",
}

// Load builds the configuration from defaults, an optional config file,
// and environment variables, then validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(key string) string {
		return envKeyMap[key]
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Token.SharedSecret == "" {
		return fmt.Errorf("TOKEN_SHARED_SECRET is required")
	}
	if c.PubSub.URL == "" {
		return fmt.Errorf("PUBSUB_URL is required")
	}
	if c.WebSocket.PingIntervalSeconds <= 0 {
		return fmt.Errorf("WS_PING_INTERVAL_SECONDS must be positive, got %d", c.WebSocket.PingIntervalSeconds)
	}
	if c.WebSocket.IdleTimeoutSeconds <= c.WebSocket.PingIntervalSeconds {
		return fmt.Errorf("WS_IDLE_TIMEOUT_SECONDS (%d) must exceed WS_PING_INTERVAL_SECONDS (%d)",
			c.WebSocket.IdleTimeoutSeconds, c.WebSocket.PingIntervalSeconds)
	}
	if c.WebSocket.SendQueueSize <= 0 {
		return fmt.Errorf("WS_SEND_QUEUE_SIZE must be positive, got %d", c.WebSocket.SendQueueSize)
	}
	if c.WebSocket.SendTimeoutMs <= 0 {
		return fmt.Errorf("WS_SEND_TIMEOUT_MS must be positive, got %d", c.WebSocket.SendTimeoutMs)
	}
	if c.Command.RetryMax < 1 {
		return fmt.Errorf("COMMAND_RETRY_MAX must be at least 1, got %d", c.Command.RetryMax)
	}
	if c.Match.DefaultDurationSeconds <= 0 {
		return fmt.Errorf("MATCH_DEFAULT_DURATION_SECONDS must be positive, got %d", c.Match.DefaultDurationSeconds)
	}
	if c.Match.TimerReconcileSeconds <= 0 {
		return fmt.Errorf("match timer reconcile interval must be positive, got %d", c.Match.TimerReconcileSeconds)
	}
	return nil
}
