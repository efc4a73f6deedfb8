// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"
	DefaultPGHost     = "127.0.0.1"
	DefaultPGPort     = 5432
	DefaultPGUser     = "postgres"
	DefaultPGDatabase = "channelhub"
	DefaultPGSSLMode  = "disable"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Postgres     PostgresConfig     `toml:"postgres"`
	AgentGateway AgentGatewayConfig `toml:"agent_gateway"`
	Channels     ChannelsConfig     `toml:"channels"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// AgentGatewayConfig holds the agent gateway host and port.
type AgentGatewayConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// BaseURL returns the agent gateway base URL (e.g. http://127.0.0.1:8081) from host and port.
func (c AgentGatewayConfig) BaseURL() string {
	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := c.Port
	if port == 0 {
		port = 8081
	}
	return "http://" + host + ":" + strconv.Itoa(port)
}

// ChannelsConfig holds the channel hub pipeline settings.
type ChannelsConfig struct {
	Enabled              bool            `toml:"enabled"`
	SessionStrategy      string          `toml:"session_strategy"`
	DefaultAgentID       string          `toml:"default_agent_id"`
	DefaultToolOverrides []string        `toml:"default_tool_overrides"`
	AllowUnknownAccounts bool            `toml:"allow_unknown_accounts"`
	RateLimit            RateLimitConfig `toml:"rate_limit"`
	Outbox               OutboxConfig    `toml:"outbox"`
}

// RateLimitConfig holds the default admission limits and per-channel overrides.
type RateLimitConfig struct {
	DefaultQPS         int                      `toml:"default_qps"`
	DefaultConcurrency int                      `toml:"default_concurrency"`
	ByChannel          map[string]RateLimitRule `toml:"by_channel"`
}

// RateLimitRule is a per-channel qps/concurrency pair. Zero on both means unlimited.
type RateLimitRule struct {
	QPS         int `toml:"qps"`
	Concurrency int `toml:"concurrency"`
}

// RuleFor returns the limit rule for a channel, falling back to the defaults.
func (c RateLimitConfig) RuleFor(channel string) RateLimitRule {
	if rule, ok := c.ByChannel[strings.ToLower(strings.TrimSpace(channel))]; ok {
		return rule
	}
	return RateLimitRule{QPS: c.DefaultQPS, Concurrency: c.DefaultConcurrency}
}

// OutboxConfig holds the outbound delivery queue settings.
type OutboxConfig struct {
	PollIntervalMs int  `toml:"poll_interval_ms"`
	MaxBatch       int  `toml:"max_batch"`
	MaxRetries     int  `toml:"max_retries"`
	RetryBaseS     int  `toml:"retry_base_s"`
	RetryMaxS      int  `toml:"retry_max_s"`
	SendTimeoutS   int  `toml:"send_timeout_s"`
	WorkerEnabled  bool `toml:"worker_enabled"`
}

// PollInterval returns the drain loop sleep interval.
func (c OutboxConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// RetryBase returns the backoff base duration.
func (c OutboxConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseS) * time.Second
}

// RetryMax returns the backoff ceiling.
func (c OutboxConfig) RetryMax() time.Duration {
	return time.Duration(c.RetryMaxS) * time.Second
}

// SendTimeout returns the per-attempt delivery timeout.
func (c OutboxConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutS) * time.Second
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		AgentGateway: AgentGatewayConfig{
			Host: "127.0.0.1",
			Port: 8081,
		},
		Channels: ChannelsConfig{
			Enabled:         true,
			SessionStrategy: "per_peer",
			RateLimit: RateLimitConfig{
				DefaultQPS:         10,
				DefaultConcurrency: 8,
			},
			Outbox: OutboxConfig{
				PollIntervalMs: 1000,
				MaxBatch:       16,
				MaxRetries:     5,
				RetryBaseS:     2,
				RetryMaxS:      300,
				SendTimeoutS:   15,
				WorkerEnabled:  true,
			},
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
