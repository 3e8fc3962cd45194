package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "LIVEROOM_"

// ARCHITECTURAL DISCOVERY: one settings tree for the chat channel, the
// collaborative registry, the artifact store and the ambient stack.
// Origin is the page origin socket URLs are derived from when a section
// sets no explicit URL.
type Config struct {
	Origin   string          `json:"origin" env:"ORIGIN"`
	Chat     *ChatConfig     `json:"chat" envPrefix:"CHAT_"`
	Collab   *CollabConfig   `json:"collab" envPrefix:"COLLAB_"`
	Database *DatabaseConfig `json:"database" envPrefix:"DATABASE_"`
	Log      *LogConfig      `json:"log" envPrefix:"LOG_"`
	Metrics  *MetricsConfig  `json:"metrics" envPrefix:"METRICS_"`
}

// FUNCTIONAL DISCOVERY: chat timings match the reconnect contract (8s
// watchdog, 1s..10s backoff, 2s join retry)
type ChatConfig struct {
	URL                string   `json:"url" env:"URL"`
	Path               string   `json:"path" env:"PATH"`
	ConnectTimeout     Duration `json:"connect_timeout" env:"CONNECT_TIMEOUT"`
	BackoffBase        Duration `json:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax         Duration `json:"backoff_max" env:"BACKOFF_MAX"`
	JoinWait           Duration `json:"join_wait" env:"JOIN_WAIT"`
	JoinRetryDelay     Duration `json:"join_retry_delay" env:"JOIN_RETRY_DELAY"`
	WaitTimeout        Duration `json:"wait_timeout" env:"WAIT_TIMEOUT"`
	SendQueueSize      int      `json:"send_queue_size" env:"SEND_QUEUE_SIZE"`
	WriteTimeout       Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	PingInterval       Duration `json:"ping_interval" env:"PING_INTERVAL"`
	InboundBuffer      int      `json:"inbound_buffer" env:"INBOUND_BUFFER"`
	SubscriptionBuffer int      `json:"subscription_buffer" env:"SUBSCRIPTION_BUFFER"`
	SendLimit          int      `json:"send_limit" env:"SEND_LIMIT"`
	SendWindow         Duration `json:"send_window" env:"SEND_WINDOW"`
}

type CollabConfig struct {
	URL          string   `json:"url" env:"URL"`
	Path         string   `json:"path" env:"PATH"`
	Grace        Duration `json:"grace" env:"GRACE"`
	DialTimeout  Duration `json:"dial_timeout" env:"DIAL_TIMEOUT"`
	WriteTimeout Duration `json:"write_timeout" env:"WRITE_TIMEOUT"`
	BackoffBase  Duration `json:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax   Duration `json:"backoff_max" env:"BACKOFF_MAX"`
	ReadLimit    int64    `json:"read_limit" env:"READ_LIMIT"`
}

// FUNCTIONAL DISCOVERY: local SQLite file holding submitted artifacts
type DatabaseConfig struct {
	Path            string   `json:"path" env:"PATH"`
	MaxConnections  int      `json:"max_connections" env:"MAX_CONNECTIONS"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime Duration `json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
}

type LogConfig struct {
	Level  string `json:"level" env:"LEVEL"`
	Format string `json:"format" env:"FORMAT"`
}

// MetricsConfig enables the /metrics listener when Addr is set.
type MetricsConfig struct {
	Addr string `json:"addr" env:"ADDR"`
}

func DefaultConfig() *Config {
	return &Config{
		Origin: "http://localhost:8080",
		Chat: &ChatConfig{
			Path:               "/ws",
			ConnectTimeout:     Duration(8 * time.Second),
			BackoffBase:        Duration(time.Second),
			BackoffMax:         Duration(10 * time.Second),
			JoinWait:           Duration(5 * time.Second),
			JoinRetryDelay:     Duration(2 * time.Second),
			WaitTimeout:        Duration(5 * time.Second),
			SendQueueSize:      256,
			WriteTimeout:       Duration(5 * time.Second),
			PingInterval:       Duration(30 * time.Second),
			InboundBuffer:      1000,
			SubscriptionBuffer: 64,
			SendLimit:          100,
			SendWindow:         Duration(time.Minute),
		},
		Collab: &CollabConfig{
			Path:         "/collab",
			Grace:        Duration(1500 * time.Millisecond),
			DialTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(5 * time.Second),
			BackoffBase:  Duration(time.Second),
			BackoffMax:   Duration(10 * time.Second),
			ReadLimit:    1 << 20,
		},
		Database: &DatabaseConfig{
			Path:            "./data/liveroom.db",
			MaxConnections:  10,
			ConnMaxLifetime: Duration(time.Hour),
			ConnMaxIdleTime: Duration(10 * time.Minute),
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: &MetricsConfig{},
	}
}

// Validate rejects settings the components cannot run with.
func (c *Config) Validate() error {
	if c.Chat == nil || c.Collab == nil || c.Database == nil || c.Log == nil || c.Metrics == nil {
		return errors.New("incomplete configuration: every section is required")
	}

	if c.Origin == "" && (c.Chat.URL == "" || c.Collab.URL == "") {
		return errors.New("origin is required unless chat and collab urls are both set")
	}

	if err := positive(map[string]time.Duration{
		"chat connect timeout":    c.Chat.ConnectTimeout.Std(),
		"chat backoff base":       c.Chat.BackoffBase.Std(),
		"chat backoff max":        c.Chat.BackoffMax.Std(),
		"chat join wait":          c.Chat.JoinWait.Std(),
		"chat join retry delay":   c.Chat.JoinRetryDelay.Std(),
		"chat wait timeout":       c.Chat.WaitTimeout.Std(),
		"chat write timeout":      c.Chat.WriteTimeout.Std(),
		"chat ping interval":      c.Chat.PingInterval.Std(),
		"chat send window":        c.Chat.SendWindow.Std(),
		"collab grace":            c.Collab.Grace.Std(),
		"collab dial timeout":     c.Collab.DialTimeout.Std(),
		"collab write timeout":    c.Collab.WriteTimeout.Std(),
		"collab backoff base":     c.Collab.BackoffBase.Std(),
		"collab backoff max":      c.Collab.BackoffMax.Std(),
		"database conn lifetime":  c.Database.ConnMaxLifetime.Std(),
		"database conn idle time": c.Database.ConnMaxIdleTime.Std(),
	}); err != nil {
		return err
	}

	if c.Chat.BackoffMax < c.Chat.BackoffBase {
		return errors.New("chat backoff max must not be below backoff base")
	}
	if c.Collab.BackoffMax < c.Collab.BackoffBase {
		return errors.New("collab backoff max must not be below backoff base")
	}

	if c.Chat.SendQueueSize <= 0 {
		return errors.New("chat send queue size must be positive")
	}
	if c.Chat.SendLimit <= 0 {
		return errors.New("chat send limit must be positive")
	}
	if c.Chat.InboundBuffer <= 0 || c.Chat.SubscriptionBuffer <= 0 {
		return errors.New("chat buffers must be positive")
	}
	if c.Collab.ReadLimit <= 0 {
		return errors.New("collab read limit must be positive")
	}

	if c.Database.Path == "" {
		return errors.New("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

func positive(values map[string]time.Duration) error {
	for name, v := range values {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// LoadFromEnv overlays LIVEROOM_* variables on the defaults. Unset
// variables keep their default.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadFromFile overlays a JSON file on the defaults. Durations are written
// as strings ("1.5s").
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyFile(cfg, path); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// LoadConfigWithPrecedence resolves settings as file > environment >
// defaults and validates the result.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
