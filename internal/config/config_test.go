package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{BaseURL: "https://gateway.test"},
	}
}

func TestValidateFillsDefaults(t *testing.T) {
	cfg := minimalConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8750, cfg.Server.Port)
	assert.Equal(t, 15, cfg.Gateway.RequestTimeoutSecs)

	assert.Equal(t, 120*time.Second, cfg.Stream.DefaultTicketTTL())
	assert.Equal(t, 0.8, cfg.Stream.RefreshFraction)
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.BackoffBase())
	assert.Equal(t, 15*time.Second, cfg.Stream.BackoffCap())
	assert.Equal(t, 2*time.Second, cfg.Stream.SeedGrace())
	assert.Equal(t, 5*time.Second, cfg.Stream.WaitingGrace())
	assert.Equal(t, 7*time.Second, cfg.Stream.EndGrace())
	assert.Equal(t, 10*time.Second, cfg.Stream.PreflightTimeout())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "terminald.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 500, cfg.Storage.JournalMaxRows)
}

func TestValidateRequiresGatewayBaseURL(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := minimalConfig()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = minimalConfig()
	cfg.Logging.Level = "verbose"
	assert.Error(t, cfg.Validate())

	cfg = minimalConfig()
	cfg.Stream.BackoffBaseMs = 2000
	cfg.Stream.BackoffCapMs = 1000
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9000

[gateway]
base_url = "https://gateway.example"
request_timeout_seconds = 20

[stream]
backoff_base_ms = 250
seed_grace_ms = 1000

[logging]
level = "debug"

[storage]
sqlite_path = "/tmp/pos.db"
journal_max_rows = 50
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://gateway.example", cfg.Gateway.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.Gateway.RequestTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.BackoffBase())
	assert.Equal(t, time.Second, cfg.Stream.SeedGrace())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/pos.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 50, cfg.Storage.JournalMaxRows)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadWithFallbackPrefersExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[gateway]
base_url = "https://gateway.example"
`), 0644))

	cfg, err := LoadWithFallback(path)
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example", cfg.Gateway.BaseURL)
}
