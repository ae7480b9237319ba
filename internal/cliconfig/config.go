package cliconfig

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/tashkil/pkg/batch"
	"github.com/bft-labs/tashkil/pkg/log"
)

// Processor kinds accepted by Config.Processor.
const (
	ProcessorHTTP = "http"
	ProcessorEcho = "echo"
)

// DefaultBackendURL is the default address of the model server.
const DefaultBackendURL = "http://127.0.0.1:8000"

// Config holds CLI configuration for tashkil.
type Config struct {
	Addr            string
	Device          string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	WatchConfig     bool

	// Batching policy.
	BatchSize       int
	BatchWait       time.Duration
	MaxLength       int
	QueueSize       int
	DispatchTimeout time.Duration

	// Model backend.
	Processor      string
	BackendURL     string
	AuthKey        string
	BackendTimeout time.Duration
	ReadyTimeout   time.Duration
	MaxConcurrency int

	// HTTP admission.
	RateLimit float64
	RateBurst int

	// NATS ingress; disabled when NATSURL is empty.
	NATSURL     string
	NATSSubject string
	NATSQueue   string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	b := batch.DefaultConfig()
	return Config{
		Addr:            ":8080",
		Device:          "cpu",
		LogLevel:        "info",
		LogFormat:       log.FormatConsole,
		ShutdownTimeout: 30 * time.Second,
		WatchConfig:     true,
		BatchSize:       b.MaxBatchSize,
		BatchWait:       b.MaxWait,
		MaxLength:       b.MaxItemLength,
		QueueSize:       b.QueueSize,
		Processor:       ProcessorHTTP,
		BackendURL:      DefaultBackendURL,
		BackendTimeout:  30 * time.Second,
		ReadyTimeout:    2 * time.Minute,
		MaxConcurrency:  1,
		RateBurst:       64,
		NATSSubject:     "tashkil.diacritize",
		NATSQueue:       "tashkil",
	}
}

// Validate checks the configuration for errors and normalizes derived values.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	// A bare port, as in PORT=8080.
	if _, err := strconv.Atoi(c.Addr); err == nil {
		c.Addr = ":" + c.Addr
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case log.FormatConsole, log.FormatJSON:
	default:
		return fmt.Errorf("log format must be %q or %q, got %q", log.FormatConsole, log.FormatJSON, c.LogFormat)
	}

	c.Processor = strings.ToLower(strings.TrimSpace(c.Processor))
	switch c.Processor {
	case ProcessorEcho:
	case ProcessorHTTP:
		if c.BackendURL == "" {
			return fmt.Errorf("backend-url is required for the http processor")
		}
		c.BackendURL = strings.TrimRight(c.BackendURL, "/")
	default:
		return fmt.Errorf("processor must be %q or %q, got %q", ProcessorHTTP, ProcessorEcho, c.Processor)
	}

	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when rate limiting is on")
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		return fmt.Errorf("nats-subject is required when nats-url is set")
	}

	return c.BatchConfig().Validate()
}

// BatchConfig projects the batching fields onto a batch.Config.
func (c Config) BatchConfig() batch.Config {
	return batch.Config{
		MaxBatchSize:    c.BatchSize,
		MaxWait:         c.BatchWait,
		MaxItemLength:   c.MaxLength,
		QueueSize:       c.QueueSize,
		DispatchTimeout: c.DispatchTimeout,
	}
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.AuthKey != "" {
		c.AuthKey = "*****"
	}
	return c
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
// Zero is a legal value ("0s" dispatches without waiting).
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if d < 0 {
		return fmt.Errorf("parse %s: negative duration %s", flag, value)
	}
	*dst = d
	return nil
}

// setMillisFromString sets a duration given in whole milliseconds.
func (s *configSetter) setMillisFromString(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	ms, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if ms < 0 {
		return fmt.Errorf("parse %s: negative milliseconds %d", flag, ms)
	}
	*dst = time.Duration(ms) * time.Millisecond
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
