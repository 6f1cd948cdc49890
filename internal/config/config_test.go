package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docker-stats-hub/internal/model"
)

func clearAgentEnv(t *testing.T) {
	t.Helper()
	t.Setenv(LegacyAgentEnv, "")
	t.Setenv(EnvPrefix+"_AGENT_ENDPOINTS", "")
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "statshub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv(LegacyAgentEnv, "ws://h1:8080/ws")

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, ":9090", cfg.GRPCListenAddr)
	assert.Empty(t, cfg.ProbeListenAddr)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Zero(t, cfg.ReconnectMaxJitter)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, 20*time.Second, cfg.UpstreamPingInterval)
	assert.EqualValues(t, 10<<20, cfg.UpstreamReadLimit)
	assert.Equal(t, 15*time.Second, cfg.KeepAliveInterval)
	assert.Equal(t, 256, cfg.SessionBuffer)
	assert.Equal(t, 1024, cfg.EventBuffer)
	assert.Equal(t, 30*time.Minute, cfg.HistoryWindow)
	assert.Equal(t, 360, cfg.HistoryMaxSamples)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, "statshub:events", cfg.RedisChannel)
	assert.Equal(t, 2*time.Minute, cfg.RedisStatusTTL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 20*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, []model.AgentConfig{{ID: "agent-1", Label: "Agent 1", URL: "ws://h1:8080/ws"}}, cfg.Agents)
}

func TestLoad_FileEnvAndOverrides(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv(EnvPrefix+"_AGENT_ENDPOINTS", "ws://h3/ws")
	t.Setenv(EnvPrefix+"_KEEPALIVE_INTERVAL", "5s")

	path := writeConfig(t, `
listen_addr: ":9000"
reconnect_delay: 1s
redis_addr: localhost:6379
agents:
  - id: edge
    label: Edge box
    url: ws://h1/ws
  - url: wss://h2/ws
`)
	cfg, err := Load(path, Overrides{"log_level": "DEBUG"})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.KeepAliveInterval)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []model.AgentConfig{
		{ID: "edge", Label: "Edge box", URL: "ws://h1/ws"},
		{ID: "agent-2", Label: "Agent 2", URL: "wss://h2/ws"},
		{ID: "agent-3", Label: "Agent 3", URL: "ws://h3/ws"},
	}, cfg.Agents)
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	clearAgentEnv(t)
	t.Setenv(LegacyAgentEnv, "ws://legacy/ws")
	t.Setenv(EnvPrefix+"_AGENT_ENDPOINTS", "ws://new/ws")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "ws://new/ws", cfg.Agents[0].URL)
}

func TestLoad_MissingFile(t *testing.T) {
	clearAgentEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_NoAgents(t *testing.T) {
	clearAgentEnv(t)
	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no agents")
}

func TestParseEndpoints(t *testing.T) {
	got := ParseEndpoints(" a1|First|ws://h1/ws ; ws://h2/ws;;||ws://h3/ws ")
	assert.Equal(t, []model.AgentConfig{
		{ID: "a1", Label: "First", URL: "ws://h1/ws"},
		{URL: "ws://h2/ws"},
		{URL: "ws://h3/ws"},
	}, got)

	assert.Empty(t, ParseEndpoints(""))
	assert.Empty(t, ParseEndpoints(" ; ;"))
}

func TestResolveAgents_DefaultsByPosition(t *testing.T) {
	got := ResolveAgents(
		[]model.AgentConfig{{ID: "x", URL: "ws://a"}},
		ParseEndpoints("ws://b;y|Why|ws://c;ws://d"),
	)
	assert.Equal(t, []model.AgentConfig{
		{ID: "x", Label: "Agent 1", URL: "ws://a"},
		{ID: "agent-2", Label: "Agent 2", URL: "ws://b"},
		{ID: "y", Label: "Why", URL: "ws://c"},
		{ID: "agent-4", Label: "Agent 4", URL: "ws://d"},
	}, got)
}

func validConfig() Config {
	return Config{
		ListenAddr:        ":8080",
		Agents:            []model.AgentConfig{{ID: "a1", Label: "A", URL: "ws://h1/ws"}},
		ReconnectDelay:    3 * time.Second,
		DialTimeout:       time.Second,
		UpstreamReadLimit: 1024,
		KeepAliveInterval: 15 * time.Second,
		SessionBuffer:     1,
		EventBuffer:       1,
		HistoryWindow:     time.Minute,
		HistoryMaxSamples: 1,
		LogLevel:          "info",
		ShutdownTimeout:   time.Second,
		HealthInterval:    time.Second,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty url", func(c *Config) { c.Agents[0].URL = "" }, "url is required"},
		{"http scheme", func(c *Config) { c.Agents[0].URL = "http://h1/ws" }, "ws or wss"},
		{"duplicate id", func(c *Config) {
			c.Agents = append(c.Agents, model.AgentConfig{ID: "a1", URL: "ws://h2/ws"})
		}, "duplicate agent id"},
		{"zero reconnect delay", func(c *Config) { c.ReconnectDelay = 0 }, "reconnect_delay"},
		{"zero keepalive", func(c *Config) { c.KeepAliveInterval = 0 }, "keepalive_interval"},
		{"negative jitter", func(c *Config) { c.ReconnectMaxJitter = -time.Second }, "reconnect_max_jitter"},
		{"zero buffer", func(c *Config) { c.SessionBuffer = 0 }, "session_buffer"},
		{"zero history cap", func(c *Config) { c.HistoryMaxSamples = 0 }, "history_max_samples"},
		{"redis without ttl", func(c *Config) { c.RedisAddr = "localhost:6379" }, "redis_status_ttl"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
