// Package config holds the configuration of the remote-access support
// layer: buffering, metadata caching, connection monitoring and
// logging.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/javi11/remotefs"
	"github.com/javi11/remotefs/cache"
	"github.com/javi11/remotefs/health"
	"github.com/javi11/remotefs/remotefile"
	"github.com/javi11/remotefs/slogutil"
)

// Config is the complete layer configuration.
type Config struct {
	Buffer     BufferConfig     `yaml:"buffer" mapstructure:"buffer"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Connection ConnectionConfig `yaml:"connection" mapstructure:"connection"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// BufferConfig controls the per-handle file buffers.
type BufferConfig struct {
	// WriteOnFlush pushes content to the backend on every flush instead
	// of only at close.
	WriteOnFlush bool `yaml:"write_on_flush" mapstructure:"write_on_flush"`

	// MaxMemory is the per-handle scratch size past which content
	// spills to disk.
	MaxMemory int64 `yaml:"max_memory" mapstructure:"max_memory"`
}

// CacheConfig controls the metadata cache.
type CacheConfig struct {
	// Timeout is the entry TTL; zero keeps entries forever.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`

	// MaxSize bounds the number of resident entries; zero selects the
	// default bound.
	MaxSize int `yaml:"max_size" mapstructure:"max_size"`
}

// ConnectionConfig controls the connection monitor.
type ConnectionConfig struct {
	// PollInterval is the pause between reconnect attempts.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size" mapstructure:"max_size"`
	MaxAgeDays int    `yaml:"max_age" mapstructure:"max_age"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Buffer: BufferConfig{
			MaxMemory: 8 * 1024 * 1024,
		},
		Cache: CacheConfig{
			Timeout: time.Second,
			MaxSize: 65536,
		},
		Connection: ConnectionConfig{
			PollInterval: 5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration file at path on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for values the layer cannot run
// with.
func (c *Config) Validate() error {
	if c.Buffer.MaxMemory < 0 {
		return fmt.Errorf("buffer max_memory must be non-negative")
	}

	if c.Cache.Timeout < 0 {
		return fmt.Errorf("cache timeout must be non-negative")
	}

	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache max_size must be non-negative")
	}

	if c.Connection.PollInterval < 0 {
		return fmt.Errorf("connection poll_interval must be non-negative")
	}

	if c.Log.Level != "" {
		switch c.Log.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("log level must be one of: debug, info, warn, error")
		}
	}

	return nil
}

// BufferOptions maps the buffer section onto remotefile options.
func (c *Config) BufferOptions() remotefile.Options {
	return remotefile.Options{
		WriteOnFlush: c.Buffer.WriteOnFlush,
		MaxMemory:    c.Buffer.MaxMemory,
	}
}

// BuildStack wraps a backend with the configured support layer:
// connection monitoring innermost, metadata caching on top, plus the
// configured logger as the process default.
func (c *Config) BuildStack(backend remotefs.FS) (*cache.FS, *health.FS, error) {
	slogutil.Setup(slogutil.Config{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxAgeDays: c.Log.MaxAgeDays,
		MaxBackups: c.Log.MaxBackups,
	})

	monitor := health.New(backend, health.Options{
		PollInterval: c.Connection.PollInterval,
	})

	cached, err := cache.New(monitor, cache.Options{
		Timeout: c.Cache.Timeout,
		MaxSize: c.Cache.MaxSize,
	})
	if err != nil {
		_ = monitor.Close()
		return nil, nil, err
	}

	return cached, monitor, nil
}
