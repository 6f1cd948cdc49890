package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"docker-stats-hub/internal/model"
)

const (
	EnvPrefix      = "STATSHUB"
	LegacyAgentEnv = "AGENT_ENDPOINTS"
)

type Config struct {
	ListenAddr      string `mapstructure:"listen_addr" yaml:"listen_addr"`
	GRPCListenAddr  string `mapstructure:"grpc_listen_addr" yaml:"grpc_listen_addr"`
	ProbeListenAddr string `mapstructure:"probe_listen_addr" yaml:"probe_listen_addr"`

	// AgentEndpoints is the compact list form: "id|label|url;url;...".
	AgentEndpoints string              `mapstructure:"agent_endpoints" yaml:"agent_endpoints,omitempty"`
	Agents         []model.AgentConfig `mapstructure:"agents" yaml:"agents"`

	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	ReconnectMaxJitter   time.Duration `mapstructure:"reconnect_max_jitter" yaml:"reconnect_max_jitter"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	UpstreamPingInterval time.Duration `mapstructure:"upstream_ping_interval" yaml:"upstream_ping_interval"`
	UpstreamReadLimit    int64         `mapstructure:"upstream_read_limit" yaml:"upstream_read_limit"`

	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`
	SessionBuffer     int           `mapstructure:"session_buffer" yaml:"session_buffer"`
	EventBuffer       int           `mapstructure:"event_buffer" yaml:"event_buffer"`

	HistoryWindow     time.Duration `mapstructure:"history_window" yaml:"history_window"`
	HistoryMaxSamples int           `mapstructure:"history_max_samples" yaml:"history_max_samples"`

	RedisAddr      string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password" yaml:"-"`
	RedisDB        int           `mapstructure:"redis_db" yaml:"redis_db"`
	RedisChannel   string        `mapstructure:"redis_channel" yaml:"redis_channel"`
	RedisStatusTTL time.Duration `mapstructure:"redis_status_ttl" yaml:"redis_status_ttl"`

	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogJSON         bool          `mapstructure:"log_json" yaml:"log_json"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	HealthInterval  time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
}

// Overrides are values set explicitly, typically from command-line flags. They
// win over the file and the environment.
type Overrides map[string]any

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("grpc_listen_addr", ":9090")
	v.SetDefault("probe_listen_addr", "")
	v.SetDefault("agent_endpoints", "")
	v.SetDefault("agents", []map[string]string{})
	v.SetDefault("reconnect_delay", "3s")
	v.SetDefault("reconnect_max_jitter", "0s")
	v.SetDefault("dial_timeout", "10s")
	v.SetDefault("upstream_ping_interval", "20s")
	v.SetDefault("upstream_read_limit", 10<<20)
	v.SetDefault("keepalive_interval", "15s")
	v.SetDefault("session_buffer", 256)
	v.SetDefault("event_buffer", 1024)
	v.SetDefault("history_window", "30m")
	v.SetDefault("history_max_samples", 360)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_channel", "statshub:events")
	v.SetDefault("redis_status_ttl", "2m")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
	v.SetDefault("shutdown_timeout", "20s")
	v.SetDefault("health_interval", "10s")
}

// Load merges defaults, the optional YAML file at path, STATSHUB_* environment
// variables and overrides, resolves the agent list and validates the result.
func Load(path string, overrides Overrides) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("agent_endpoints", EnvPrefix+"_AGENT_ENDPOINTS", LegacyAgentEnv); err != nil {
		return Config{}, fmt.Errorf("bind agent endpoints env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.Agents = ResolveAgents(cfg.Agents, ParseEndpoints(cfg.AgentEndpoints))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEndpoints splits the compact form. Each ';'-separated entry is either
// "id|label|url" or a bare url; blank entries are skipped. Missing ids and
// labels stay empty and are filled in by ResolveAgents.
func ParseEndpoints(raw string) []model.AgentConfig {
	var out []model.AgentConfig
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) == 3 {
			out = append(out, model.AgentConfig{
				ID:    strings.TrimSpace(parts[0]),
				Label: strings.TrimSpace(parts[1]),
				URL:   strings.TrimSpace(parts[2]),
			})
			continue
		}
		out = append(out, model.AgentConfig{URL: strings.TrimSpace(parts[0])})
	}
	return out
}

// ResolveAgents concatenates the lists in order and gives every entry without
// an id or label the default agent-N / Agent N, N being its 1-based position.
func ResolveAgents(lists ...[]model.AgentConfig) []model.AgentConfig {
	var out []model.AgentConfig
	for _, list := range lists {
		for _, a := range list {
			n := len(out) + 1
			a.ID = strings.TrimSpace(a.ID)
			a.Label = strings.TrimSpace(a.Label)
			a.URL = strings.TrimSpace(a.URL)
			if a.ID == "" {
				a.ID = fmt.Sprintf("agent-%d", n)
			}
			if a.Label == "" {
				a.Label = fmt.Sprintf("Agent %d", n)
			}
			out = append(out, a)
		}
	}
	return out
}

func (c Config) Validate() error {
	if len(c.Agents) == 0 {
		return errors.New("no agents configured: set agents in the config file or STATSHUB_AGENT_ENDPOINTS")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if a.URL == "" {
			return fmt.Errorf("agent %d (%s): url is required", i+1, a.ID)
		}
		u, err := url.Parse(a.URL)
		if err != nil {
			return fmt.Errorf("agent %s: invalid url %q: %w", a.ID, a.URL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("agent %s: url %q must use ws or wss", a.ID, a.URL)
		}
		if _, dup := seen[a.ID]; dup {
			return fmt.Errorf("duplicate agent id %q", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("listen_addr is required")
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"reconnect_delay", c.ReconnectDelay},
		{"dial_timeout", c.DialTimeout},
		{"keepalive_interval", c.KeepAliveInterval},
		{"history_window", c.HistoryWindow},
		{"shutdown_timeout", c.ShutdownTimeout},
		{"health_interval", c.HealthInterval},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	if c.ReconnectMaxJitter < 0 || c.UpstreamPingInterval < 0 {
		return errors.New("reconnect_max_jitter and upstream_ping_interval must be >= 0")
	}
	if c.UpstreamReadLimit <= 0 {
		return errors.New("upstream_read_limit must be > 0")
	}
	if c.SessionBuffer <= 0 || c.EventBuffer <= 0 {
		return errors.New("session_buffer and event_buffer must be > 0")
	}
	if c.HistoryMaxSamples <= 0 {
		return errors.New("history_max_samples must be > 0")
	}
	if c.RedisAddr != "" && c.RedisStatusTTL <= 0 {
		return errors.New("redis_status_ttl must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}
