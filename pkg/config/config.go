// Package config provides YAML-based configuration loading for livetx.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration. Command-line flags take
// precedence over everything here; the file and environment cover the knobs
// an operator wants pinned across invocations.
type Config struct {
	// ChunkSize is the single read/write unit in bytes.
	ChunkSize int `mapstructure:"chunk_size"`

	// TimeoutSec aborts the whole run after this many seconds. Zero disables.
	TimeoutSec int `mapstructure:"timeout_sec"`

	// BWReport emits a bandwidth report every N successful reads. Zero disables.
	BWReport int `mapstructure:"bw_report"`

	// MaxRate throttles the transfer to this many bytes per second. Zero
	// disables throttling.
	MaxRate int64 `mapstructure:"max_rate"`

	// StatsReport emits a socket statistics report every N successful reads.
	StatsReport int `mapstructure:"stats_report"`

	// StatsFormat: console, json, or cbor.
	StatsFormat string `mapstructure:"stats_format"`

	// StatsOut writes statistics to a file instead of standard output.
	StatsOut string `mapstructure:"stats_out"`

	// Quiet suppresses periodic status output.
	Quiet bool `mapstructure:"quiet"`

	// Verbose enables per-transfer debug output.
	Verbose bool `mapstructure:"verbose"`

	// AutoReconnect re-arms caller-mode sources after a connection loss.
	AutoReconnect bool `mapstructure:"auto_reconnect"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		ChunkSize:     1316,
		TimeoutSec:    0,
		BWReport:      0,
		StatsReport:   0,
		StatsFormat:   "console",
		AutoReconnect: true,
		Log: LogConfig{
			Level:   "error",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/livetx.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix LIVETX and `.`/`-` are replaced with `_`.
// Example: LIVETX_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LIVETX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("chunk_size", cfg.ChunkSize)
	v.SetDefault("timeout_sec", cfg.TimeoutSec)
	v.SetDefault("bw_report", cfg.BWReport)
	v.SetDefault("max_rate", cfg.MaxRate)
	v.SetDefault("stats_report", cfg.StatsReport)
	v.SetDefault("stats_format", cfg.StatsFormat)
	v.SetDefault("stats_out", cfg.StatsOut)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("auto_reconnect", cfg.AutoReconnect)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("LIVETX_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `livetx`
		v.SetConfigName("livetx")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".livetx"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size: %d", c.ChunkSize)
	}
	switch strings.ToLower(strings.TrimSpace(c.StatsFormat)) {
	case "", "console", "json", "cbor":
	default:
		return fmt.Errorf("invalid stats_format: %q", c.StatsFormat)
	}
	if c.TimeoutSec < 0 {
		return fmt.Errorf("invalid timeout_sec: %d", c.TimeoutSec)
	}
	if c.MaxRate < 0 {
		return fmt.Errorf("invalid max_rate: %d", c.MaxRate)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
