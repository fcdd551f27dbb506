package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8420, cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "fresco.db", cfg.Store.Path)
	assert.Equal(t, 4, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 3, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, "primary", cfg.Anthropic.DefaultCredential)
	assert.Equal(t, "ffmpeg", cfg.Media.FFmpegPath)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, ":8420", cfg.ListenAddr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FRESCO_HTTP_PORT", "9000")
	t.Setenv("FRESCO_LOG_LEVEL", "debug")
	t.Setenv("FRESCO_DB_PATH", "/var/lib/fresco/fresco.db")
	t.Setenv("FRESCO_MAX_CONCURRENCY", "8")
	t.Setenv("FRESCO_DISPATCH_POLL_INTERVAL", "100ms")
	t.Setenv("FRESCO_ANTHROPIC_API_KEYS", "primary:sk-a,backup:sk-b")
	t.Setenv("FRESCO_SCHEDULER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/var/lib/fresco/fresco.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Engine.MaxConcurrency)
	assert.Equal(t, "100ms", cfg.Dispatch.PollInterval.String())
	assert.Equal(t, "sk-a", cfg.Anthropic.APIKeys["primary"])
	assert.Equal(t, "sk-b", cfg.Anthropic.APIKeys["backup"])
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.HTTPPort = 0 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "empty db path",
			mutate:  func(c *Config) { c.Store.Path = "" },
			wantErr: "database path is required",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Engine.MaxConcurrency = 0 },
			wantErr: "max concurrency",
		},
		{
			name:    "zero attempts",
			mutate:  func(c *Config) { c.Dispatch.MaxAttempts = 0 },
			wantErr: "max attempts",
		},
		{
			name: "default credential missing from keys",
			mutate: func(c *Config) {
				c.Anthropic.APIKeys = map[string]string{"backup": "sk-b"}
				c.Anthropic.DefaultCredential = "primary"
			},
			wantErr: "default credential",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "vault key not hex",
			mutate:  func(c *Config) { c.Vault.Key = "not-hex" },
			wantErr: "not valid hex",
		},
		{
			name:    "vault key wrong size",
			mutate:  func(c *Config) { c.Vault.Key = "deadbeef" },
			wantErr: "32 bytes",
		},
		{
			name:    "vault passphrase without salt",
			mutate:  func(c *Config) { c.Vault.Passphrase = "p" },
			wantErr: "requires a salt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
