package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultPGDatabase, cfg.Postgres.Database)
	assert.True(t, cfg.Channels.Enabled)
	assert.Equal(t, "per_peer", cfg.Channels.SessionStrategy)
	assert.Equal(t, 10, cfg.Channels.RateLimit.DefaultQPS)
	assert.Equal(t, 8, cfg.Channels.RateLimit.DefaultConcurrency)
	assert.Equal(t, time.Second, cfg.Channels.Outbox.PollInterval())
	assert.Equal(t, 2*time.Second, cfg.Channels.Outbox.RetryBase())
	assert.Equal(t, 300*time.Second, cfg.Channels.Outbox.RetryMax())
	assert.True(t, cfg.Channels.Outbox.WorkerEnabled)
}

func TestLoadOverridesFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[log]
level = "debug"
format = "json"

[server]
addr = ":9090"

[agent_gateway]
host = "gateway.internal"
port = 9000

[channels]
session_strategy = "hybrid"
default_agent_id = "agent-main"
allow_unknown_accounts = true

[channels.rate_limit]
default_qps = 20
default_concurrency = 4

[channels.rate_limit.by_channel.whatsapp]
qps = 0
concurrency = 0

[channels.outbox]
max_retries = 7
retry_base_s = 1
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "http://gateway.internal:9000", cfg.AgentGateway.BaseURL())
	assert.Equal(t, "hybrid", cfg.Channels.SessionStrategy)
	assert.True(t, cfg.Channels.AllowUnknownAccounts)
	assert.Equal(t, 7, cfg.Channels.Outbox.MaxRetries)

	rule := cfg.Channels.RateLimit.RuleFor("whatsapp")
	assert.Zero(t, rule.QPS)
	assert.Zero(t, rule.Concurrency)

	rule = cfg.Channels.RateLimit.RuleFor("telegram")
	assert.Equal(t, 20, rule.QPS)
	assert.Equal(t, 4, rule.Concurrency)
}

func TestRuleForNormalizesChannelName(t *testing.T) {
	cfg := RateLimitConfig{
		DefaultQPS: 5,
		ByChannel:  map[string]RateLimitRule{"feishu": {QPS: 1, Concurrency: 1}},
	}
	assert.Equal(t, 1, cfg.RuleFor(" Feishu ").QPS)
	assert.Equal(t, 5, cfg.RuleFor("unknown").QPS)
}
