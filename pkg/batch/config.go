package batch

import (
	"fmt"
	"time"
)

// Default configuration values.
const (
	DefaultMaxBatchSize  = 8
	DefaultMaxWait       = 8 * time.Millisecond
	DefaultMaxItemLength = 1024
	DefaultQueueSize     = 1024
)

// Config holds the batching policy of a Scheduler.
type Config struct {
	// MaxBatchSize is the upper bound on items per batch.
	// Default: 8
	MaxBatchSize int

	// MaxWait is how long a cycle keeps collecting after its first item
	// arrived. Zero dispatches every item as soon as it is dequeued.
	// Default: 8ms
	MaxWait time.Duration

	// MaxItemLength is an advisory bound handed to validators and processors.
	// The scheduler never inspects payloads. Zero means unbounded.
	// Default: 1024
	MaxItemLength int

	// QueueSize bounds the pending queue. Submit blocks while it is full.
	// Fixed for the lifetime of a Scheduler.
	// Default: 1024
	QueueSize int

	// DispatchTimeout bounds a single processor call. Zero means no deadline
	// beyond the scheduler's own lifetime.
	DispatchTimeout time.Duration
}

// DefaultConfig returns a Config with the default batching policy.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  DefaultMaxBatchSize,
		MaxWait:       DefaultMaxWait,
		MaxItemLength: DefaultMaxItemLength,
		QueueSize:     DefaultQueueSize,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("%w: max batch size must be at least 1, got %d", ErrInvalidConfig, c.MaxBatchSize)
	}
	if c.MaxWait < 0 {
		return fmt.Errorf("%w: max wait must not be negative, got %v", ErrInvalidConfig, c.MaxWait)
	}
	if c.MaxItemLength < 0 {
		return fmt.Errorf("%w: max item length must not be negative, got %d", ErrInvalidConfig, c.MaxItemLength)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("%w: queue size must be at least 1, got %d", ErrInvalidConfig, c.QueueSize)
	}
	if c.DispatchTimeout < 0 {
		return fmt.Errorf("%w: dispatch timeout must not be negative, got %v", ErrInvalidConfig, c.DispatchTimeout)
	}
	return nil
}
