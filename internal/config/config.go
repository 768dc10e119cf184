// Package config holds the gateway's file-based configuration. The file is
// JSON5 (comments and trailing commas allowed); environment variables overlay
// file values, and secrets are env-only: they are never read from or written
// to the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the AgentGate gateway.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Worker    WorkerConfig    `json:"worker"`
	Sessions  SessionsConfig  `json:"sessions"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Usage     UsageConfig     `json:"usage,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Log       LogConfig       `json:"log,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// RateLimitRPM caps API requests per client per window; 0 disables.
	RateLimitRPM int `json:"rate_limit_rpm"`
	// ChatRateLimitRPM caps chat messages per user per window; 0 disables.
	ChatRateLimitRPM int `json:"chat_rate_limit_rpm"`
	// RateLimitWindowSec is the window length in seconds.
	RateLimitWindowSec int `json:"rate_limit_window_sec"`
}

// WorkerConfig configures the agent worker connection.
// Token comes from env AGENTGATE_GATEWAY_TOKEN only (secret).
type WorkerConfig struct {
	URL              string `json:"url"`
	Token            string `json:"-"`
	RequestTimeoutMS int    `json:"request_timeout_ms,omitempty"`
	MaxReconnects    int    `json:"max_reconnects,omitempty"`
}

// SessionsConfig configures session admission and lifecycle.
type SessionsConfig struct {
	// DMPolicy is "pairing" or "open".
	DMPolicy string `json:"dm_policy"`
	// Allowlist is the path of the pattern file; supports leading ~.
	Allowlist string `json:"allowlist"`
	// Storage selects the session store: "memory", "sqlite", or "postgres".
	Storage string `json:"storage"`
	// SQLitePath is the database file for the sqlite store.
	SQLitePath string `json:"sqlite_path,omitempty"`
	// TimeoutHours is the inactivity horizon before cleanup.
	TimeoutHours int `json:"timeout_hours,omitempty"`
	// CleanupIntervalMin is the sweep cadence in minutes.
	CleanupIntervalMin int `json:"cleanup_interval_min,omitempty"`
}

// DatabaseConfig configures Postgres.
// PostgresDSN comes from env AGENTGATE_POSTGRES_DSN only (secret).
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// UsageConfig configures the usage tracker.
type UsageConfig struct {
	MaxRecords int `json:"max_records,omitempty"`
}

// TelemetryConfig configures OTLP trace export. Disabled when Endpoint is
// empty.
type TelemetryConfig struct {
	Endpoint string `json:"endpoint,omitempty"`
	// Protocol is "grpc" (default) or "http".
	Protocol string `json:"protocol,omitempty"`
	Insecure bool   `json:"insecure,omitempty"`
}

// LogConfig configures slog output.
type LogConfig struct {
	// Level is "debug", "info", "warn", or "error".
	Level string `json:"level,omitempty"`
	// Format is "text" (default) or "json".
	Format string `json:"format,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:               "0.0.0.0",
			Port:               18890,
			RateLimitRPM:       100,
			ChatRateLimitRPM:   30,
			RateLimitWindowSec: 60,
		},
		Worker: WorkerConfig{
			URL:              "ws://127.0.0.1:8765/ws",
			RequestTimeoutMS: 60000,
			MaxReconnects:    10,
		},
		Sessions: SessionsConfig{
			DMPolicy:           "pairing",
			Allowlist:          "~/.agentgate/allowlist.json",
			Storage:            "sqlite",
			SQLitePath:         "~/.agentgate/agentgate.db",
			TimeoutHours:       24,
			CleanupIntervalMin: 60,
		},
		Usage: UsageConfig{MaxRecords: 10000},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env takes precedence
// over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("AGENTGATE_HOST", &c.Gateway.Host)
	envInt("AGENTGATE_PORT", &c.Gateway.Port)
	envStr("AGENTGATE_WORKER_URL", &c.Worker.URL)
	envStr("AGENTGATE_GATEWAY_TOKEN", &c.Worker.Token)
	envInt("WORKER_FETCH_TIMEOUT_MS", &c.Worker.RequestTimeoutMS)
	envStr("AGENTGATE_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AGENTGATE_ALLOWLIST", &c.Sessions.Allowlist)
	envStr("AGENTGATE_DM_POLICY", &c.Sessions.DMPolicy)
	envStr("AGENTGATE_SESSION_STORAGE", &c.Sessions.Storage)
	envStr("AGENTGATE_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGENTGATE_LOG_LEVEL", &c.Log.Level)

	if c.Database.PostgresDSN != "" {
		c.Sessions.Storage = "postgres"
	}
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || len(path) >= 2 && path[0] == '~' && (path[1] == '/' || path[1] == '\\') {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return home + path[1:], nil
	}
	return path, nil
}

// WorkerRequestTimeout is the worker timeout as a duration; zero means the
// transport default.
func (c *Config) WorkerRequestTimeout() time.Duration {
	return time.Duration(c.Worker.RequestTimeoutMS) * time.Millisecond
}

// SessionTimeout is the session inactivity horizon.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Sessions.TimeoutHours) * time.Hour
}

// CleanupInterval is the lifecycle sweep cadence.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Sessions.CleanupIntervalMin) * time.Minute
}

// RateLimitWindow is the HTTP rate-limit window length.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Gateway.RateLimitWindowSec) * time.Second
}

// ListenAddr is the host:port the gateway binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}
