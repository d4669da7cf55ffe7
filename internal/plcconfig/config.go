// Package plcconfig loads server configuration from a YAML file with
// environment variable overrides, singleton-style, grounded on
// internal/config/config.go's layout and override idiom.
package plcconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the top-level configuration for a plc-server process.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Relay     RelayConfig     `yaml:"relay"`
	Admin     AdminConfig     `yaml:"admin"`
}

// ServerConfig configures the network endpoint (spec.md §4.4/§6).
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	WriteDeadlineMs int    `yaml:"write_deadline_ms"`
	SendBufferSize  int    `yaml:"send_buffer_size"`
	PollIntervalMs  int    `yaml:"poll_interval_ms"`
}

// HeartbeatConfig configures the Controller's connection liveness check.
type HeartbeatConfig struct {
	MaxIntervalMs int    `yaml:"max_interval_ms"`
	Signal        string `yaml:"signal"`
}

// RelayConfig configures the optional Redis pub/sub diff mirror.
type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Channel string `yaml:"channel"`
}

// AdminConfig configures cmd/plc-admin, the standalone sidecar that
// polls a plc-server endpoint over pkg/plcclient and exposes the result
// as a health/metrics/state HTTP surface.
type AdminConfig struct {
	// Addr is the admin HTTP surface's own bind address.
	Addr string `yaml:"addr"`

	// Target is the plc-server websocket URL to poll.
	Target string `yaml:"target"`

	PollIntervalMs int `yaml:"poll_interval_ms"`

	// WatchKeys is a comma-separated key list; see WatchKeyList.
	WatchKeys string `yaml:"watch_keys"`
}

// WatchKeyList splits WatchKeys on commas, trimming whitespace and
// dropping empty entries. Returns nil for an empty/unset field.
func (a AdminConfig) WatchKeyList() []string {
	return splitCSV(a.WatchKeys)
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton Config, loading it from
// CONFIG_PATH (default "plc.yaml") on first use. Load failures fall back
// to defaults rather than aborting the process — a config file is a
// convenience, not a hard dependency, for this kind of long-running
// signaling loop.
func Get() *Config {
	once.Do(func() {
		_ = godotenv.Load()
		cfg, err := Load(getEnv("CONFIG_PATH", "plc.yaml"))
		if err != nil {
			slog.Warn("plcconfig: failed to load config file, using defaults", "error", err)
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Addr = getEnv("PLC_SERVER_ADDR", c.Server.Addr)
	if v := getEnvInt("PLC_SERVER_WRITE_DEADLINE_MS", 0); v > 0 {
		c.Server.WriteDeadlineMs = v
	}
	if v := getEnvInt("PLC_SERVER_SEND_BUFFER_SIZE", 0); v > 0 {
		c.Server.SendBufferSize = v
	}
	if v := getEnvInt("PLC_SERVER_POLL_INTERVAL_MS", 0); v > 0 {
		c.Server.PollIntervalMs = v
	}

	if v := getEnvInt("PLC_HEARTBEAT_MAX_INTERVAL_MS", 0); v > 0 {
		c.Heartbeat.MaxIntervalMs = v
	}
	c.Heartbeat.Signal = getEnv("PLC_HEARTBEAT_SIGNAL", c.Heartbeat.Signal)

	c.Relay.Enabled = getEnvBool("PLC_RELAY_ENABLED", c.Relay.Enabled)
	c.Relay.Addr = getEnv("PLC_RELAY_ADDR", c.Relay.Addr)
	c.Relay.Channel = getEnv("PLC_RELAY_CHANNEL", c.Relay.Channel)

	c.Admin.Addr = getEnv("PLC_ADMIN_ADDR", c.Admin.Addr)
	c.Admin.Target = getEnv("PLC_ADMIN_TARGET", c.Admin.Target)
	if v := getEnvInt("PLC_ADMIN_POLL_INTERVAL_MS", 0); v > 0 {
		c.Admin.PollIntervalMs = v
	}
	c.Admin.WatchKeys = getEnv("PLC_ADMIN_WATCH_KEYS", c.Admin.WatchKeys)
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":7001"
	}
	if c.Server.WriteDeadlineMs == 0 {
		c.Server.WriteDeadlineMs = 100
	}
	if c.Server.SendBufferSize == 0 {
		c.Server.SendBufferSize = 2
	}
	if c.Server.PollIntervalMs == 0 {
		c.Server.PollIntervalMs = 50
	}
	if c.Relay.Channel == "" {
		c.Relay.Channel = "plc-memory-diff"
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = ":7002"
	}
	if c.Admin.Target == "" {
		c.Admin.Target = "ws://127.0.0.1:7001/"
	}
	if c.Admin.PollIntervalMs == 0 {
		c.Admin.PollIntervalMs = 2000
	}
}

// WriteDeadline returns Server.WriteDeadlineMs as a Duration.
func (c *Config) WriteDeadline() time.Duration {
	return time.Duration(c.Server.WriteDeadlineMs) * time.Millisecond
}

// PollInterval returns Server.PollIntervalMs as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Server.PollIntervalMs) * time.Millisecond
}

// MaxHeartbeatInterval returns Heartbeat.MaxIntervalMs as a Duration. Zero
// disables heartbeat tracking.
func (c *Config) MaxHeartbeatInterval() time.Duration {
	return time.Duration(c.Heartbeat.MaxIntervalMs) * time.Millisecond
}

// AdminPollInterval returns Admin.PollIntervalMs as a Duration.
func (c *Config) AdminPollInterval() time.Duration {
	return time.Duration(c.Admin.PollIntervalMs) * time.Millisecond
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
