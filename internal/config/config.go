// Package config loads FRESCO server configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the FRESCO server.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"FRESCO_HTTP_PORT" envDefault:"8420"`
	LogLevel string `env:"FRESCO_LOG_LEVEL" envDefault:"info"`

	// Store configuration
	Store StoreConfig

	// Engine configuration
	Engine EngineConfig

	// Dispatch configuration
	Dispatch DispatchConfig

	// Backend configuration
	Anthropic AnthropicConfig
	MediaSvc  MediaSvcConfig
	Media     MediaConfig

	// Scheduler configuration
	Scheduler SchedulerConfig

	// Vault configuration
	Vault VaultConfig
}

// StoreConfig holds database configuration.
type StoreConfig struct {
	Path string `env:"FRESCO_DB_PATH" envDefault:"fresco.db"`
}

// EngineConfig holds run execution configuration.
type EngineConfig struct {
	MaxConcurrency int           `env:"FRESCO_MAX_CONCURRENCY" envDefault:"4"`
	RunTimeout     time.Duration `env:"FRESCO_RUN_TIMEOUT" envDefault:"30m"`
}

// DispatchConfig holds task dispatch tuning.
type DispatchConfig struct {
	PollInterval     time.Duration `env:"FRESCO_DISPATCH_POLL_INTERVAL" envDefault:"250ms"`
	MaxAttempts      int           `env:"FRESCO_DISPATCH_MAX_ATTEMPTS" envDefault:"3"`
	BaseDelay        time.Duration `env:"FRESCO_DISPATCH_BASE_DELAY" envDefault:"500ms"`
	MaxDelay         time.Duration `env:"FRESCO_DISPATCH_MAX_DELAY" envDefault:"10s"`
	FailureThreshold int           `env:"FRESCO_BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
	BreakerCooldown  time.Duration `env:"FRESCO_BREAKER_COOLDOWN" envDefault:"30s"`
}

// AnthropicConfig holds inference backend configuration.
// APIKeys maps credential names to keys ("primary:sk-a,backup:sk-b").
type AnthropicConfig struct {
	APIKeys           map[string]string `env:"FRESCO_ANTHROPIC_API_KEYS"`
	DefaultCredential string            `env:"FRESCO_ANTHROPIC_DEFAULT_CREDENTIAL" envDefault:"primary"`
	DefaultModel      string            `env:"FRESCO_ANTHROPIC_DEFAULT_MODEL" envDefault:"claude-sonnet-4-20250514"`
}

// MediaSvcConfig holds the remote media service client configuration.
type MediaSvcConfig struct {
	BaseURL        string        `env:"FRESCO_MEDIASVC_BASE_URL"`
	Token          string        `env:"FRESCO_MEDIASVC_TOKEN"`
	RequestTimeout time.Duration `env:"FRESCO_MEDIASVC_REQUEST_TIMEOUT" envDefault:"30s"`
}

// MediaConfig holds the local media toolchain configuration.
type MediaConfig struct {
	FFmpegPath  string `env:"FRESCO_FFMPEG_PATH" envDefault:"ffmpeg"`
	FFprobePath string `env:"FRESCO_FFPROBE_PATH" envDefault:"ffprobe"`
	ScratchDir  string `env:"FRESCO_SCRATCH_DIR"`
}

// SchedulerConfig holds cron scheduling configuration.
type SchedulerConfig struct {
	Enabled bool `env:"FRESCO_SCHEDULER_ENABLED" envDefault:"true"`
}

// VaultConfig holds the encrypted credential vault configuration. Key is a
// hex-encoded 32-byte master key; Passphrase plus Salt derive one via PBKDF2.
type VaultConfig struct {
	Key        string `env:"FRESCO_VAULT_KEY"`
	Passphrase string `env:"FRESCO_VAULT_PASSPHRASE"`
	Salt       string `env:"FRESCO_VAULT_SALT"`
}

// Enabled reports whether any vault key material is configured.
func (v VaultConfig) Enabled() bool {
	return v.Key != "" || v.Passphrase != ""
}

// MasterKey decodes the hex master key, if set.
func (v VaultConfig) MasterKey() ([]byte, error) {
	if v.Key == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(v.Key)
	if err != nil {
		return nil, fmt.Errorf("vault key is not valid hex: %w", err)
	}
	return key, nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Store.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be at least 1")
	}

	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch max attempts must be at least 1")
	}

	if _, ok := c.Anthropic.APIKeys[c.Anthropic.DefaultCredential]; len(c.Anthropic.APIKeys) > 0 && !ok {
		return fmt.Errorf("default credential %q not present in API keys", c.Anthropic.DefaultCredential)
	}

	if key, err := c.Vault.MasterKey(); err != nil {
		return err
	} else if len(key) > 0 && len(key) != 32 {
		return fmt.Errorf("vault key must decode to 32 bytes, got %d", len(key))
	}
	if c.Vault.Passphrase != "" && c.Vault.Salt == "" {
		return fmt.Errorf("vault passphrase requires a salt")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// ListenAddr returns the HTTP server address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
