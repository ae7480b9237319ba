package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Addr            string `toml:"addr"`
	Device          string `toml:"device"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	WatchConfig     *bool  `toml:"watch_config"`

	Batch   BatchFileConfig   `toml:"batch"`
	Backend BackendFileConfig `toml:"backend"`
	HTTP    HTTPFileConfig    `toml:"http"`
	NATS    NATSFileConfig    `toml:"nats"`
}

// BatchFileConfig is the [batch] table. It is the only part of the file
// reloaded while running.
type BatchFileConfig struct {
	MaxBatchSize    int    `toml:"max_batch_size"`
	MaxWait         string `toml:"max_wait"`
	MaxItemLength   int    `toml:"max_item_length"`
	QueueSize       int    `toml:"queue_size"`
	DispatchTimeout string `toml:"dispatch_timeout"`
}

// BackendFileConfig is the [backend] table.
type BackendFileConfig struct {
	Processor      string `toml:"processor"`
	URL            string `toml:"url"`
	AuthKey        string `toml:"auth_key"`
	Timeout        string `toml:"timeout"`
	ReadyTimeout   string `toml:"ready_timeout"`
	MaxConcurrency int    `toml:"max_concurrency"`
}

// HTTPFileConfig is the [http] table.
type HTTPFileConfig struct {
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// NATSFileConfig is the [nats] table.
type NATSFileConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	Queue   string `toml:"queue"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.tashkil/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".tashkil", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("addr", fc.Addr, &cfg.Addr)
	s.setString("device", fc.Device, &cfg.Device)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	s.setBool("watch-config", fc.WatchConfig, &cfg.WatchConfig)

	if err := applyBatchFileConfig(s, cfg, fc.Batch); err != nil {
		return err
	}

	s.setString("processor", fc.Backend.Processor, &cfg.Processor)
	s.setString("backend-url", fc.Backend.URL, &cfg.BackendURL)
	s.setString("auth-key", fc.Backend.AuthKey, &cfg.AuthKey)
	if err := s.setDuration("backend-timeout", fc.Backend.Timeout, &cfg.BackendTimeout); err != nil {
		return err
	}
	if err := s.setDuration("ready-timeout", fc.Backend.ReadyTimeout, &cfg.ReadyTimeout); err != nil {
		return err
	}
	s.setInt("max-concurrency", fc.Backend.MaxConcurrency, &cfg.MaxConcurrency)

	s.setFloat("rate-limit", fc.HTTP.RateLimit, &cfg.RateLimit)
	s.setInt("rate-burst", fc.HTTP.RateBurst, &cfg.RateBurst)

	s.setString("nats-url", fc.NATS.URL, &cfg.NATSURL)
	s.setString("nats-subject", fc.NATS.Subject, &cfg.NATSSubject)
	s.setString("nats-queue", fc.NATS.Queue, &cfg.NATSQueue)

	return nil
}

func applyBatchFileConfig(s *configSetter, cfg *Config, bc BatchFileConfig) error {
	s.setInt("batch-size", bc.MaxBatchSize, &cfg.BatchSize)
	if err := s.setDuration("batch-wait", bc.MaxWait, &cfg.BatchWait); err != nil {
		return err
	}
	s.setInt("max-length", bc.MaxItemLength, &cfg.MaxLength)
	s.setInt("queue-size", bc.QueueSize, &cfg.QueueSize)
	return s.setDuration("dispatch-timeout", bc.DispatchTimeout, &cfg.DispatchTimeout)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// Loader resolves the full configuration chain: flags > environment > file
// > defaults. It can be re-run when the file changes.
type Loader struct {
	// Path of the TOML file. A missing file is not an error.
	Path string

	// Base holds defaults overlaid with parsed flag values.
	Base Config

	// Changed names the flags set explicitly on the command line.
	Changed map[string]bool
}

// Load builds and validates a Config.
func (l Loader) Load() (Config, error) {
	cfg := l.Base
	changed := l.Changed
	if changed == nil {
		changed = map[string]bool{}
	}

	if l.Path != "" && FileExists(l.Path) {
		fc, err := LoadFileConfig(l.Path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
			return cfg, err
		}
	}

	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
