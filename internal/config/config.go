package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server  ServerConfig  `toml:"server"`  // Local HTTP server settings (UI-facing)
	Gateway GatewayConfig `toml:"gateway"` // POS gateway (upstream API) settings
	Stream  StreamConfig  `toml:"stream"`  // Terminal event stream settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
	Storage StorageConfig `toml:"storage"` // Data persistence settings
}

// ServerConfig contains the local HTTP server configuration. The server only
// serves the terminal's own UI webview, so it binds to localhost by default.
type ServerConfig struct {
	Host             string `toml:"host"`                  // Host address to bind to (default: 127.0.0.1)
	Port             int    `toml:"port"`                  // HTTP port for the local API (default: 8750)
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, required for the WebSocket feed)
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request on a keep-alive connection
}

// GatewayConfig contains POS gateway connection settings
type GatewayConfig struct {
	BaseURL            string `toml:"base_url"`                // Gateway base URL (e.g., https://gateway.flashpay.example)
	RequestTimeoutSecs int    `toml:"request_timeout_seconds"` // HTTP timeout for gateway requests (default: 15)
}

// StreamConfig contains terminal event stream tuning. The grace windows and
// backoff constants are empirically tuned defaults, kept configurable rather
// than hard-coded.
type StreamConfig struct {
	DefaultTicketTTLSecs int     `toml:"default_ticket_ttl_seconds"` // Ticket TTL assumed when the gateway omits expiry info (default: 120)
	RefreshFraction      float64 `toml:"refresh_fraction"`           // Fraction of ticket TTL after which a proactive refresh fires (default: 0.8)
	BackoffBaseMs        int     `toml:"backoff_base_ms"`            // Reconnect backoff base delay in milliseconds (default: 500)
	BackoffCapMs         int     `toml:"backoff_cap_ms"`             // Reconnect backoff cap in milliseconds (default: 15000)
	PreflightTimeoutSecs int     `toml:"preflight_timeout_seconds"`  // Timeout for the preflight ticket check (default: 10)
	SeedGraceMs          int     `toml:"seed_grace_ms"`              // Window after a bootstrap during which orphan session_updated events are adopted (default: 2000)
	WaitingGraceMs       int     `toml:"waiting_grace_ms"`           // Window after a clear during which WAITING_FACE updates are adopted (default: 5000)
	EndGraceMs           int     `toml:"end_grace_ms"`               // Window after a clear during which terminal-status stragglers update end-memory (default: 7000)
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath      string `toml:"sqlite_path"`      // Path to the SQLite database file (default: terminald.db)
	JournalMaxRows  int    `toml:"journal_max_rows"` // Maximum raw events retained in the diagnostic journal (default: 500)
	JournalDisabled bool   `toml:"journal_disabled"` // Disable the raw event journal entirely
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	// Remove duplicates while preserving order
	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate validates the configuration and fills in defaults for optional fields
func (c *Config) Validate() error {
	// Server defaults and bounds
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8750
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 30
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 120
	}

	// Gateway
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url is required")
	}
	if c.Gateway.RequestTimeoutSecs <= 0 {
		c.Gateway.RequestTimeoutSecs = 15
	}

	// Stream defaults
	if c.Stream.DefaultTicketTTLSecs <= 0 {
		c.Stream.DefaultTicketTTLSecs = 120
	}
	if c.Stream.RefreshFraction <= 0 || c.Stream.RefreshFraction >= 1 {
		c.Stream.RefreshFraction = 0.8
	}
	if c.Stream.BackoffBaseMs <= 0 {
		c.Stream.BackoffBaseMs = 500
	}
	if c.Stream.BackoffCapMs <= 0 {
		c.Stream.BackoffCapMs = 15000
	}
	if c.Stream.BackoffCapMs < c.Stream.BackoffBaseMs {
		return fmt.Errorf("backoff_cap_ms (%d) must be >= backoff_base_ms (%d)", c.Stream.BackoffCapMs, c.Stream.BackoffBaseMs)
	}
	if c.Stream.PreflightTimeoutSecs <= 0 {
		c.Stream.PreflightTimeoutSecs = 10
	}
	if c.Stream.SeedGraceMs <= 0 {
		c.Stream.SeedGraceMs = 2000
	}
	if c.Stream.WaitingGraceMs <= 0 {
		c.Stream.WaitingGraceMs = 5000
	}
	if c.Stream.EndGraceMs <= 0 {
		c.Stream.EndGraceMs = 7000
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Storage defaults
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "terminald.db"
	}
	if c.Storage.JournalMaxRows <= 0 {
		c.Storage.JournalMaxRows = 500
	}

	return nil
}

// RequestTimeout returns the gateway request timeout as a duration
func (c *GatewayConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// BackoffBase returns the reconnect backoff base delay as a duration
func (c *StreamConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

// BackoffCap returns the reconnect backoff cap as a duration
func (c *StreamConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

// SeedGrace returns the bootstrap grace window as a duration
func (c *StreamConfig) SeedGrace() time.Duration {
	return time.Duration(c.SeedGraceMs) * time.Millisecond
}

// WaitingGrace returns the waiting-face grace window as a duration
func (c *StreamConfig) WaitingGrace() time.Duration {
	return time.Duration(c.WaitingGraceMs) * time.Millisecond
}

// EndGrace returns the end-memory grace window as a duration
func (c *StreamConfig) EndGrace() time.Duration {
	return time.Duration(c.EndGraceMs) * time.Millisecond
}

// PreflightTimeout returns the preflight check timeout as a duration
func (c *StreamConfig) PreflightTimeout() time.Duration {
	return time.Duration(c.PreflightTimeoutSecs) * time.Second
}

// DefaultTicketTTL returns the assumed ticket TTL as a duration
func (c *StreamConfig) DefaultTicketTTL() time.Duration {
	return time.Duration(c.DefaultTicketTTLSecs) * time.Second
}
